package history

import (
	"path/filepath"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history db: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestRecordAndList(t *testing.T) {
	svc := newTestService(t)

	deliveries := []*Delivery{
		{Kind: KindSend, Sender: "tess", Recipient: "numa", Outcome: OutcomeReply, ElapsedMs: 12},
		{Kind: KindBroadcast, Sender: "tess", Recipient: "apollo", Outcome: OutcomeTimeout, ElapsedMs: 2000},
		{Kind: KindRoute, Sender: "tess", Recipient: "numa", Route: "numa:review", Outcome: OutcomeDelivered},
	}
	for _, d := range deliveries {
		if err := svc.Record(d); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	all, err := svc.List(FilterArgs{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(all))
	}
	if all[0].Kind != KindRoute {
		t.Errorf("expected newest first, got %s", all[0].Kind)
	}
	if all[0].Route != "numa:review" {
		t.Errorf("route not persisted: %q", all[0].Route)
	}
}

func TestListFilters(t *testing.T) {
	svc := newTestService(t)
	svc.Record(&Delivery{Kind: KindSend, Sender: "tess", Recipient: "numa", Outcome: OutcomeReply})
	svc.Record(&Delivery{Kind: KindSend, Sender: "tess", Recipient: "apollo", Outcome: OutcomeError, Detail: "connect refused"})
	svc.Record(&Delivery{Kind: KindBroadcast, Sender: "tess", Recipient: "numa", Outcome: OutcomeReply})

	byRecipient, err := svc.List(FilterArgs{Recipient: "numa"})
	if err != nil {
		t.Fatalf("list by recipient: %v", err)
	}
	if len(byRecipient) != 2 {
		t.Errorf("expected 2 for numa, got %d", len(byRecipient))
	}

	byKind, err := svc.List(FilterArgs{Kind: KindBroadcast})
	if err != nil {
		t.Fatalf("list by kind: %v", err)
	}
	if len(byKind) != 1 {
		t.Errorf("expected 1 broadcast, got %d", len(byKind))
	}

	limited, err := svc.List(FilterArgs{Limit: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}
}

func TestCountByOutcome(t *testing.T) {
	svc := newTestService(t)
	svc.Record(&Delivery{Kind: KindSend, Sender: "tess", Recipient: "numa", Outcome: OutcomeReply})
	svc.Record(&Delivery{Kind: KindSend, Sender: "tess", Recipient: "numa", Outcome: OutcomeReply})
	svc.Record(&Delivery{Kind: KindSend, Sender: "tess", Recipient: "numa", Outcome: OutcomeTimeout})
	svc.Record(&Delivery{Kind: KindSend, Sender: "tess", Recipient: "apollo", Outcome: OutcomeError})

	counts, err := svc.CountByOutcome("numa")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[OutcomeReply] != 2 || counts[OutcomeTimeout] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
	if _, ok := counts[OutcomeError]; ok {
		t.Error("error count should be scoped to recipient")
	}
}
