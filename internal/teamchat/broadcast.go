// Package teamchat fans one message out to many CIs concurrently and
// aggregates their replies under a single shared deadline.
package teamchat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cifabric/cifabric/internal/fault"
	"github.com/cifabric/cifabric/internal/registry"
	"github.com/cifabric/cifabric/internal/wire"
)

// Outcome classifies one endpoint's result in a broadcast.
type Outcome string

const (
	OutcomeReply   Outcome = "reply"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// Result is one endpoint's outcome. A broadcast always produces exactly
// one Result per requested endpoint.
type Result struct {
	Endpoint string          `json:"endpoint"`
	Outcome  Outcome         `json:"outcome"`
	Content  json.RawMessage `json:"content,omitempty"`
	Error    string          `json:"error,omitempty"`
	Elapsed  time.Duration   `json:"elapsed_ms"`
}

// Options configures the broadcaster.
type Options struct {
	Deadline  time.Duration // default shared deadline, 2s
	ChunkSlot int           // per-merge buffered chunk slots, default 32
}

func (o *Options) fill() {
	if o.Deadline <= 0 {
		o.Deadline = 2 * time.Second
	}
	if o.ChunkSlot <= 0 {
		o.ChunkSlot = 32
	}
}

// Broadcaster dispatches one message to N endpoints concurrently.
type Broadcaster struct {
	client *wire.Client
	opts   Options
}

// New creates a broadcaster on top of the socket client.
func New(client *wire.Client, opts Options) *Broadcaster {
	opts.fill()
	return &Broadcaster{client: client, opts: opts}
}

// Broadcast sends message to every endpoint concurrently under one
// absolute deadline and returns a complete result map. Endpoints still
// pending when the deadline elapses are recorded as timeouts; the call
// never blocks on stragglers, and a reply arriving after the deadline is
// discarded.
func (b *Broadcaster) Broadcast(ctx context.Context, message json.RawMessage, endpoints []registry.CIEndpoint, deadline time.Duration) map[string]Result {
	if deadline <= 0 {
		deadline = b.opts.Deadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	results := make(map[string]Result, len(endpoints))
	// Buffered so abandoned goroutines park their late results and exit.
	done := make(chan Result, len(endpoints))

	for _, ep := range endpoints {
		go func(ep registry.CIEndpoint) {
			start := time.Now()
			reply, err := b.client.Send(ctx, ep.Name, ep.Address, message, deadline)
			elapsed := time.Since(start)
			if err != nil {
				done <- Result{Endpoint: ep.Name, Outcome: Classify(err), Error: err.Error(), Elapsed: elapsed}
				return
			}
			done <- Result{Endpoint: ep.Name, Outcome: OutcomeReply, Content: reply.Content, Elapsed: elapsed}
		}(ep)
	}

	for range endpoints {
		select {
		case res := <-done:
			results[res.Endpoint] = res
		case <-ctx.Done():
			// Deadline elapsed: record every endpoint still pending as a
			// timeout and return without waiting further.
			for _, ep := range endpoints {
				if _, ok := results[ep.Name]; !ok {
					results[ep.Name] = Result{Endpoint: ep.Name, Outcome: OutcomeTimeout, Elapsed: deadline}
				}
			}
			// A reply racing in alongside the deadline is discarded; the
			// abandoned goroutines park in the buffered channel and exit.
			return results
		}
	}
	return results
}

// TaggedChunk is one streamed chunk tagged with its origin endpoint.
type TaggedChunk struct {
	Endpoint string
	Content  json.RawMessage
	Final    bool
	Err      error
}

// BroadcastStream streams the message to every endpoint and merges all
// chunk sequences into one channel tagged by origin. Ordering holds
// within one endpoint's chunks only. The channel closes once every
// endpoint finished or the shared deadline elapsed; cancellation of
// still-pending endpoints releases their connections.
func (b *Broadcaster) BroadcastStream(ctx context.Context, message json.RawMessage, endpoints []registry.CIEndpoint, deadline time.Duration) <-chan TaggedChunk {
	if deadline <= 0 {
		deadline = b.opts.Deadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)

	out := make(chan TaggedChunk, b.opts.ChunkSlot)
	var wg sync.WaitGroup
	for _, ep := range endpoints {
		wg.Add(1)
		go func(ep registry.CIEndpoint) {
			defer wg.Done()
			chunks, err := b.client.Stream(ctx, ep.Name, ep.Address, message, deadline)
			if err != nil {
				select {
				case out <- TaggedChunk{Endpoint: ep.Name, Err: err}:
				case <-ctx.Done():
				}
				return
			}
			for ch := range chunks {
				tagged := TaggedChunk{Endpoint: ep.Name, Content: ch.Content, Final: ch.Final, Err: ch.Err}
				select {
				case out <- tagged:
				case <-ctx.Done():
					// Keep draining so the stream goroutine unwinds.
				}
			}
		}(ep)
	}

	go func() {
		wg.Wait()
		cancel()
		close(out)
	}()
	return out
}

// Classify maps a send failure onto a broadcast outcome.
func Classify(err error) Outcome {
	if errors.Is(err, fault.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	return OutcomeError
}

// LogResults emits one structured line per endpoint outcome.
func LogResults(results map[string]Result) {
	for name, res := range results {
		switch res.Outcome {
		case OutcomeReply:
			slog.Debug("Broadcast reply", "endpoint", name, "elapsed", res.Elapsed)
		case OutcomeTimeout:
			slog.Warn("Broadcast timeout", "endpoint", name)
		default:
			slog.Warn("Broadcast error", "endpoint", name, "error", res.Error)
		}
	}
}
