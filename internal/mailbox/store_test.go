package mailbox

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

func text(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestPushPopFIFO(t *testing.T) {
	s := NewStore(t.TempDir())

	for i := 0; i < 5; i++ {
		msg := NewMessage("apollo", "numa", PriorityNormal, "", text(fmt.Sprintf("msg-%d", i)))
		if _, err := s.Push("numa", PriorityNormal, msg); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		msg, err := s.Pop("numa", PriorityNormal)
		if err != nil {
			t.Fatal(err)
		}
		if msg == nil {
			t.Fatalf("pop %d returned empty", i)
		}
		want := fmt.Sprintf("%q", fmt.Sprintf("msg-%d", i))
		if string(msg.Body) != want {
			t.Errorf("pop %d: expected %s, got %s", i, want, msg.Body)
		}
	}

	msg, err := s.Pop("numa", PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	if msg != nil {
		t.Error("pop of empty queue should return nil")
	}
}

func TestPrioritiesAreSeparateQueues(t *testing.T) {
	s := NewStore(t.TempDir())

	s.Push("numa", PriorityUrgent, NewMessage("a", "numa", PriorityUrgent, "", text("u")))
	s.Push("numa", PriorityNormal, NewMessage("a", "numa", PriorityNormal, "", text("n")))
	s.Push("numa", PriorityArchive, NewMessage("a", "numa", PriorityArchive, "", text("k")))

	for _, p := range Priorities {
		n, err := s.Count("numa", p, "")
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("priority %s: expected 1 message, got %d", p, n)
		}
	}

	// Popping one queue leaves the others alone.
	if _, err := s.Pop("numa", PriorityUrgent); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Count("numa", PriorityNormal, ""); n != 1 {
		t.Error("normal queue should be untouched")
	}
}

func TestConcurrentPushNoLoss(t *testing.T) {
	s := NewStore(t.TempDir())

	const producers = 4
	const perProducer = 25
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				msg := NewMessage(fmt.Sprintf("producer-%d", p), "numa", PriorityUrgent, "", text("x"))
				if _, err := s.Push("numa", PriorityUrgent, msg); err != nil {
					t.Errorf("push: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	n, err := s.Count("numa", PriorityUrgent, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != producers*perProducer {
		t.Errorf("expected %d messages, got %d", producers*perProducer, n)
	}
}

func TestConcurrentPopNoDuplicates(t *testing.T) {
	s := NewStore(t.TempDir())

	const total = 40
	for i := 0; i < total; i++ {
		s.Push("numa", PriorityNormal, NewMessage("a", "numa", PriorityNormal, "", text(fmt.Sprintf("m%d", i))))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msg, err := s.Pop("numa", PriorityNormal)
				if err != nil {
					t.Errorf("pop: %v", err)
					return
				}
				if msg == nil {
					return
				}
				mu.Lock()
				seen[msg.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Errorf("expected %d distinct messages, got %d", total, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("message %s popped %d times", id, n)
		}
	}
}

func TestSenderFilter(t *testing.T) {
	s := NewStore(t.TempDir())

	s.Push("numa", PriorityNormal, NewMessage("apollo", "numa", PriorityNormal, "", text("1")))
	s.Push("numa", PriorityNormal, NewMessage("rhetor", "numa", PriorityNormal, "", text("2")))
	s.Push("numa", PriorityNormal, NewMessage("apollo", "numa", PriorityNormal, "", text("3")))

	fromApollo, err := s.List("numa", PriorityNormal, "apollo")
	if err != nil {
		t.Fatal(err)
	}
	if len(fromApollo) != 2 {
		t.Errorf("expected 2 from apollo, got %d", len(fromApollo))
	}

	if err := s.Clear("numa", PriorityNormal, "apollo"); err != nil {
		t.Fatal(err)
	}
	remaining, _ := s.List("numa", PriorityNormal, "")
	if len(remaining) != 1 || remaining[0].From != "rhetor" {
		t.Errorf("clear should only remove apollo's messages, remaining %d", len(remaining))
	}
}

func TestDrainReturnsAndRemoves(t *testing.T) {
	s := NewStore(t.TempDir())

	for i := 0; i < 3; i++ {
		s.Push("numa", PriorityUrgent, NewMessage("a", "numa", PriorityUrgent, "", text(fmt.Sprintf("m%d", i))))
	}
	msgs, err := s.Drain("numa", PriorityUrgent, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 drained, got %d", len(msgs))
	}
	if string(msgs[0].Body) != `"m0"` {
		t.Errorf("drain order should be push order, got %s first", msgs[0].Body)
	}
	if n, _ := s.Count("numa", PriorityUrgent, ""); n != 0 {
		t.Errorf("queue should be empty after drain, got %d", n)
	}
}

func TestMessagesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	s.Push("numa", PriorityNormal, NewMessage("a", "numa", PriorityNormal, "review", text("persist me")))

	// A new store over the same directory sees the message.
	s2 := NewStore(dir)
	msg, err := s2.Pop("numa", PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil || string(msg.Body) != `"persist me"` {
		t.Fatalf("expected persisted message, got %+v", msg)
	}
	if msg.Purpose != "review" {
		t.Errorf("purpose should round-trip, got %q", msg.Purpose)
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Push("numa", PriorityNormal, NewMessage("a", "numa", PriorityNormal, "", text("stay")))

	for i := 0; i < 2; i++ {
		msg, err := s.Peek("numa", PriorityNormal)
		if err != nil {
			t.Fatal(err)
		}
		if msg == nil {
			t.Fatal("peek should see the message")
		}
	}
	if n, _ := s.Count("numa", PriorityNormal, ""); n != 1 {
		t.Error("peek must not consume")
	}
}
