// Package fabric assembles the message fabric: registry, connection pool,
// socket client, broadcaster, mailboxes, routes and the delivery log, all
// wired from one Config.
package fabric

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cifabric/cifabric/internal/config"
	"github.com/cifabric/cifabric/internal/history"
	"github.com/cifabric/cifabric/internal/mailbox"
	"github.com/cifabric/cifabric/internal/netpool"
	"github.com/cifabric/cifabric/internal/registry"
	"github.com/cifabric/cifabric/internal/route"
	"github.com/cifabric/cifabric/internal/teamchat"
	"github.com/cifabric/cifabric/internal/wire"
)

// Fabric owns every fabric component for one process.
type Fabric struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	cfg    *config.Config
	source *registry.FileSource

	Registry    *registry.Registry
	Pool        *netpool.Pool
	Client      *wire.Client
	Broadcaster *teamchat.Broadcaster
	Mailbox     *mailbox.Store
	Routes      *route.Engine
	History     *history.Service
}

// New builds a fabric from cfg. Paths may use "~"; they are expanded here.
func New(cfg *config.Config) (*Fabric, error) {
	regFile, err := config.ExpandPath(cfg.Paths.RegistryFile)
	if err != nil {
		return nil, err
	}
	inboxRoot, err := config.ExpandPath(cfg.Paths.InboxRoot)
	if err != nil {
		return nil, err
	}
	routeDB, err := config.ExpandPath(cfg.Paths.RouteDB)
	if err != nil {
		return nil, err
	}
	historyDB, err := config.ExpandPath(cfg.Paths.HistoryDB)
	if err != nil {
		return nil, err
	}

	source := registry.NewFileSource(regFile)
	reg := registry.New(source)

	pool := netpool.New(netpool.Options{
		ConnectTimeout:   cfg.Pool.ConnectTimeout,
		FailureThreshold: cfg.Pool.FailureThreshold,
		HealthInterval:   cfg.Pool.HealthInterval,
		ReconnectBackoff: cfg.Pool.ReconnectBackoff,
	})
	client := wire.NewClient(pool, wire.Options{
		RequestTimeout: cfg.Wire.RequestTimeout,
		PingTimeout:    cfg.Wire.PingTimeout,
		DirectFallback: cfg.Wire.DirectFallback,
	})
	pool.SetPinger(client.PoolPinger())
	reg.SetProbe(func(ctx context.Context, address string) bool {
		return client.Ping(ctx, address)
	}, cfg.Registry.ProbeTimeout)

	mail := mailbox.NewStore(inboxRoot)

	routeStore, err := route.OpenStore(routeDB)
	if err != nil {
		return nil, err
	}

	hist, err := history.NewService(historyDB)
	if err != nil {
		routeStore.Close()
		return nil, err
	}

	return &Fabric{
		cfg:         cfg,
		source:      source,
		Registry:    reg,
		Pool:        pool,
		Client:      client,
		Broadcaster: teamchat.New(client, teamchat.Options{Deadline: cfg.Broadcast.Deadline, ChunkSlot: cfg.Broadcast.ChunkSlot}),
		Mailbox:     mail,
		Routes:      route.NewEngine(routeStore, reg, client, mail, cfg.Identity.Name, cfg.Wire.RequestTimeout),
		History:     hist,
	}, nil
}

// Identity returns the local name used as sender on outgoing messages.
func (f *Fabric) Identity() string {
	return f.cfg.Identity.Name
}

// Start loads the registry and launches the background loops: the pool
// health checker and, when configured, the registry file watcher. Safe to
// call once; repeated calls are no-ops.
func (f *Fabric) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	f.Registry.Refresh(ctx)

	go f.Pool.RunHealthChecker(ctx)
	if f.cfg.Registry.Watch {
		if err := f.Registry.Watch(ctx, f.source); err != nil {
			slog.Warn("registry watch unavailable", "file", f.source.Path(), "error", err)
		}
	}

	slog.Info("fabric started",
		"identity", f.cfg.Identity.Name,
		"cis", f.Registry.Count(),
		"registry", f.source.Path())
	return nil
}

// Stop cancels the background loops and releases pooled connections and
// open stores.
func (f *Fabric) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.running = false
	if f.cancel != nil {
		f.cancel()
	}
	f.Pool.Close()
	f.Routes.Store().Close()
	f.History.Close()
}

// Send delivers one message to a named CI and records the exchange.
func (f *Fabric) Send(ctx context.Context, name string, message json.RawMessage) (*wire.Reply, error) {
	ep, err := f.Registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	reply, err := f.Client.Send(ctx, ep.Name, ep.Address, message, 0)
	f.record(&history.Delivery{
		Kind:      history.KindSend,
		Sender:    f.cfg.Identity.Name,
		Recipient: name,
		Outcome:   sendOutcome(err),
		Detail:    errDetail(err),
		ElapsedMs: time.Since(start).Milliseconds(),
	})
	if err != nil {
		f.Registry.MarkUnreachable(name)
		return nil, err
	}
	f.Registry.MarkActive(name)
	return reply, nil
}

// Stream opens a streaming exchange with a named CI. The exchange is
// recorded once the stream ends, like Send.
func (f *Fabric) Stream(ctx context.Context, name string, message json.RawMessage) (<-chan wire.Chunk, error) {
	ep, err := f.Registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	chunks, err := f.Client.Stream(ctx, ep.Name, ep.Address, message, 0)
	if err != nil {
		f.record(&history.Delivery{
			Kind:      history.KindSend,
			Sender:    f.cfg.Identity.Name,
			Recipient: name,
			Outcome:   sendOutcome(err),
			Detail:    errDetail(err),
			ElapsedMs: time.Since(start).Milliseconds(),
		})
		f.Registry.MarkUnreachable(name)
		return nil, err
	}

	out := make(chan wire.Chunk)
	go func() {
		defer close(out)
		var streamErr error
		for chunk := range chunks {
			if chunk.Err != nil {
				streamErr = chunk.Err
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				streamErr = ctx.Err()
				f.recordStream(name, streamErr, start)
				return
			}
		}
		f.recordStream(name, streamErr, start)
	}()
	return out, nil
}

func (f *Fabric) recordStream(name string, streamErr error, start time.Time) {
	f.record(&history.Delivery{
		Kind:      history.KindSend,
		Sender:    f.cfg.Identity.Name,
		Recipient: name,
		Outcome:   sendOutcome(streamErr),
		Detail:    errDetail(streamErr),
		ElapsedMs: time.Since(start).Milliseconds(),
	})
	if streamErr != nil {
		f.Registry.MarkUnreachable(name)
		return
	}
	f.Registry.MarkActive(name)
}

// Broadcast fans message out to every CI matching filter and records one
// delivery per endpoint.
func (f *Fabric) Broadcast(ctx context.Context, message json.RawMessage, filter registry.Filter) map[string]teamchat.Result {
	endpoints := f.Registry.List(filter)
	results := f.Broadcaster.Broadcast(ctx, message, endpoints, f.cfg.Broadcast.Deadline)
	for name, res := range results {
		f.record(&history.Delivery{
			Kind:      history.KindBroadcast,
			Sender:    f.cfg.Identity.Name,
			Recipient: name,
			Outcome:   string(res.Outcome),
			Detail:    res.Error,
			ElapsedMs: res.Elapsed.Milliseconds(),
		})
		if res.Outcome == teamchat.OutcomeReply {
			f.Registry.MarkActive(name)
		}
	}
	return results
}

// BroadcastStream fans message out and merges the tagged chunk streams.
func (f *Fabric) BroadcastStream(ctx context.Context, message json.RawMessage, filter registry.Filter) <-chan teamchat.TaggedChunk {
	endpoints := f.Registry.List(filter)
	return f.Broadcaster.BroadcastStream(ctx, message, endpoints, f.cfg.Broadcast.Deadline)
}

// Route carries raw through the route (dest, name) and records the result.
func (f *Fabric) Route(ctx context.Context, dest, name, raw string, interactive bool) (*route.Result, error) {
	start := time.Now()
	res, err := f.Routes.Invoke(ctx, dest, name, raw, interactive)
	outcome := history.OutcomeDelivered
	routeKey := route.RouteKey(dest, name)
	if err != nil {
		outcome = history.OutcomeError
	} else if res.Direct {
		outcome = history.OutcomeReply
		routeKey = ""
	} else if !res.Delivered {
		outcome = history.OutcomeReply
	}
	f.record(&history.Delivery{
		Kind:      history.KindRoute,
		Sender:    f.cfg.Identity.Name,
		Recipient: dest,
		Route:     routeKey,
		Outcome:   outcome,
		Detail:    errDetail(err),
		ElapsedMs: time.Since(start).Milliseconds(),
	})
	return res, err
}

// record logs best-effort; a history failure never fails the send.
func (f *Fabric) record(d *history.Delivery) {
	if err := f.History.Record(d); err != nil {
		slog.Warn("history write failed", "kind", d.Kind, "recipient", d.Recipient, "error", err)
	}
}

func sendOutcome(err error) string {
	if err == nil {
		return history.OutcomeReply
	}
	return string(teamchat.Classify(err))
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
