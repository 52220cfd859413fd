package teamchat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/cifabric/cifabric/internal/netpool"
	"github.com/cifabric/cifabric/internal/registry"
	"github.com/cifabric/cifabric/internal/wire"
)

// startEndpoint serves the NDJSON protocol with a fixed per-request script.
// delay < 0 means never reply.
func startEndpoint(t *testing.T, delay time.Duration, chunks []string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				enc := json.NewEncoder(conn)
				for scanner.Scan() {
					var req wire.Request
					if json.Unmarshal(scanner.Bytes(), &req) != nil {
						return
					}
					if req.Ping {
						enc.Encode(&wire.Reply{Pong: true})
						continue
					}
					if delay < 0 {
						select {} // never replies
					}
					time.Sleep(delay)
					for i, c := range chunks {
						body, _ := json.Marshal(c)
						enc.Encode(&wire.Reply{Content: body, IsFinal: i == len(chunks)-1})
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func newBroadcaster() *Broadcaster {
	pool := netpool.New(netpool.Options{ConnectTimeout: time.Second})
	client := wire.NewClient(pool, wire.Options{RequestTimeout: 2 * time.Second})
	return New(client, Options{Deadline: 2 * time.Second})
}

func TestBroadcastPartialTimeout(t *testing.T) {
	var endpoints []registry.CIEndpoint
	for i := 0; i < 4; i++ {
		addr := startEndpoint(t, 0, []string{fmt.Sprintf("reply-%d", i)})
		endpoints = append(endpoints, registry.CIEndpoint{Name: fmt.Sprintf("ci-%d", i), Address: addr})
	}
	// Fifth endpoint never answers.
	dead := startEndpoint(t, -1, nil)
	endpoints = append(endpoints, registry.CIEndpoint{Name: "ci-dead", Address: dead})

	b := newBroadcaster()
	deadline := 300 * time.Millisecond

	start := time.Now()
	results := b.Broadcast(context.Background(), json.RawMessage(`"ping"`), endpoints, deadline)
	elapsed := time.Since(start)

	// Returns at ~deadline, not per-endpoint-timeout multiplied out.
	if elapsed > deadline+150*time.Millisecond {
		t.Errorf("broadcast took %s, expected ~%s", elapsed, deadline)
	}
	if len(results) != 5 {
		t.Fatalf("result map must cover every endpoint, got %d entries", len(results))
	}

	var replies, timeouts int
	for _, res := range results {
		switch res.Outcome {
		case OutcomeReply:
			replies++
		case OutcomeTimeout:
			timeouts++
		}
	}
	if replies != 4 {
		t.Errorf("expected 4 replies, got %d", replies)
	}
	if timeouts != 1 {
		t.Errorf("expected 1 timeout, got %d", timeouts)
	}
	if results["ci-dead"].Outcome != OutcomeTimeout {
		t.Errorf("dead endpoint outcome: %s", results["ci-dead"].Outcome)
	}
}

func TestBroadcastAllFailStillCompleteMap(t *testing.T) {
	endpoints := []registry.CIEndpoint{
		{Name: "a", Address: "127.0.0.1:1"},
		{Name: "b", Address: "127.0.0.1:1"},
	}
	b := newBroadcaster()

	results := b.Broadcast(context.Background(), json.RawMessage(`"x"`), endpoints, 500*time.Millisecond)
	if len(results) != 2 {
		t.Fatalf("expected an entry per endpoint, got %d", len(results))
	}
	for name, res := range results {
		if res.Outcome != OutcomeError && res.Outcome != OutcomeTimeout {
			t.Errorf("%s: expected error or timeout, got %s", name, res.Outcome)
		}
		if res.Outcome == OutcomeError && res.Error == "" {
			t.Errorf("%s: error outcome must carry a reason", name)
		}
	}
}

func TestBroadcastCollectsContent(t *testing.T) {
	addr := startEndpoint(t, 0, []string{"pong"})
	b := newBroadcaster()

	results := b.Broadcast(context.Background(), json.RawMessage(`"ping"`),
		[]registry.CIEndpoint{{Name: "numa", Address: addr}}, time.Second)

	res := results["numa"]
	if res.Outcome != OutcomeReply {
		t.Fatalf("expected reply, got %s (%s)", res.Outcome, res.Error)
	}
	if string(res.Content) != `"pong"` {
		t.Errorf("expected pong content, got %s", res.Content)
	}
	if res.Elapsed <= 0 {
		t.Error("elapsed should be recorded")
	}
}

func TestBroadcastStreamMergesTagged(t *testing.T) {
	addrA := startEndpoint(t, 0, []string{"a1", "a2", "a3"})
	addrB := startEndpoint(t, 0, []string{"b1", "b2"})
	endpoints := []registry.CIEndpoint{
		{Name: "alpha", Address: addrA},
		{Name: "beta", Address: addrB},
	}
	b := newBroadcaster()

	merged := b.BroadcastStream(context.Background(), json.RawMessage(`"go"`), endpoints, time.Second)

	perEndpoint := make(map[string][]string)
	for ch := range merged {
		if ch.Err != nil {
			t.Fatalf("chunk error from %s: %v", ch.Endpoint, ch.Err)
		}
		perEndpoint[ch.Endpoint] = append(perEndpoint[ch.Endpoint], string(ch.Content))
	}

	// No cross-endpoint ordering promised, but within one endpoint the
	// chunk order matches production order.
	wantA := []string{`"a1"`, `"a2"`, `"a3"`}
	gotA := perEndpoint["alpha"]
	if len(gotA) != len(wantA) {
		t.Fatalf("alpha: expected %d chunks, got %d", len(wantA), len(gotA))
	}
	for i := range wantA {
		if gotA[i] != wantA[i] {
			t.Errorf("alpha chunk %d: expected %s, got %s", i, wantA[i], gotA[i])
		}
	}
	if len(perEndpoint["beta"]) != 2 {
		t.Errorf("beta: expected 2 chunks, got %d", len(perEndpoint["beta"]))
	}
}

func TestBroadcastStreamDeadEndpointDoesNotStallOthers(t *testing.T) {
	addr := startEndpoint(t, 0, []string{"fast"})
	dead := startEndpoint(t, -1, nil)
	endpoints := []registry.CIEndpoint{
		{Name: "fast", Address: addr},
		{Name: "dead", Address: dead},
	}
	b := newBroadcaster()

	start := time.Now()
	merged := b.BroadcastStream(context.Background(), json.RawMessage(`"go"`), endpoints, 300*time.Millisecond)

	var fastChunks int
	for ch := range merged {
		if ch.Endpoint == "fast" && ch.Err == nil {
			fastChunks++
		}
	}
	if fastChunks != 1 {
		t.Errorf("fast endpoint should deliver its chunk, got %d", fastChunks)
	}
	if elapsed := time.Since(start); elapsed > 800*time.Millisecond {
		t.Errorf("merged stream should close at ~deadline, took %s", elapsed)
	}
}
