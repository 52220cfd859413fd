// Package history keeps a sqlite log of fabric deliveries. Logging is
// best-effort: a failed write is reported to the caller but never blocks
// the message path.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type Service struct {
	db *sql.DB
}

// NewService opens (or creates) the history database at dbPath.
func NewService(dbPath string) (*Service, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Service{db: db}, nil
}

func (s *Service) Close() error {
	return s.db.Close()
}

// Record logs one delivery.
func (s *Service) Record(d *Delivery) error {
	query := `
	INSERT INTO deliveries (kind, sender, recipient, route, purpose, outcome, detail, elapsed_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		d.Kind,
		d.Sender,
		d.Recipient,
		d.Route,
		d.Purpose,
		d.Outcome,
		d.Detail,
		d.ElapsedMs,
	)
	return err
}

type FilterArgs struct {
	Recipient string
	Kind      string
	Since     *time.Time
	Limit     int
}

// List returns deliveries newest first, optionally filtered.
func (s *Service) List(filter FilterArgs) ([]Delivery, error) {
	query := `SELECT id, kind, sender, recipient, COALESCE(route,''), COALESCE(purpose,''), outcome, COALESCE(detail,''), elapsed_ms, created_at FROM deliveries WHERE 1=1`
	args := []interface{}{}

	if filter.Recipient != "" {
		query += " AND recipient = ?"
		args = append(args, filter.Recipient)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, *filter.Since)
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.Kind, &d.Sender, &d.Recipient, &d.Route, &d.Purpose, &d.Outcome, &d.Detail, &d.ElapsedMs, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountByOutcome aggregates delivery counts per outcome for one recipient,
// or for everyone when recipient is empty.
func (s *Service) CountByOutcome(recipient string) (map[string]int, error) {
	query := `SELECT outcome, COUNT(*) FROM deliveries`
	args := []interface{}{}
	if recipient != "" {
		query += " WHERE recipient = ?"
		args = append(args, recipient)
	}
	query += " GROUP BY outcome"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
