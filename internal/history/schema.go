package history

import (
	"time"
)

// Delivery is one logged exchange through the fabric: a direct send, one
// endpoint of a broadcast, or one hop of a route.
type Delivery struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"` // send, broadcast, route
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Route     string    `json:"route,omitempty"`
	Purpose   string    `json:"purpose,omitempty"`
	Outcome   string    `json:"outcome"` // reply, timeout, error, delivered
	Detail    string    `json:"detail,omitempty"`
	ElapsedMs int64     `json:"elapsed_ms"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	KindSend      = "send"
	KindBroadcast = "broadcast"
	KindRoute     = "route"

	OutcomeReply     = "reply"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
	OutcomeDelivered = "delivered"
)

const Schema = `
CREATE TABLE IF NOT EXISTS deliveries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	sender TEXT NOT NULL,
	recipient TEXT NOT NULL,
	route TEXT DEFAULT '',
	purpose TEXT DEFAULT '',
	outcome TEXT NOT NULL,
	detail TEXT DEFAULT '',
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_deliveries_recipient ON deliveries(recipient);
CREATE INDEX IF NOT EXISTS idx_deliveries_kind ON deliveries(kind);
CREATE INDEX IF NOT EXISTS idx_deliveries_created ON deliveries(created_at);
`
