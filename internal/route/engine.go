package route

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cifabric/cifabric/internal/fault"
	"github.com/cifabric/cifabric/internal/mailbox"
	"github.com/cifabric/cifabric/internal/registry"
	"github.com/cifabric/cifabric/internal/wire"
)

// Result is what an invocation produced.
type Result struct {
	Envelope  *Envelope // final envelope, nil on direct fallback
	Rendered  string    // terminal output in the ingress format
	Delivered bool      // true when dropped in the destination mailbox
	Direct    bool      // true when no route existed and the message went straight to dest
}

// Engine resolves and walks routes. Each hop receives the current envelope
// and replies; a reply that is itself a well-formed envelope preserving the
// annotation history replaces the working copy, any other reply is folded
// in as that hop's annotation. Either way the history only grows.
type Engine struct {
	store  *Store
	reg    *registry.Registry
	client *wire.Client
	mail   *mailbox.Store

	identity string
	timeout  time.Duration
	log      *slog.Logger
}

// NewEngine wires an engine over its collaborators. timeout bounds each
// individual hop call.
func NewEngine(store *Store, reg *registry.Registry, client *wire.Client, mail *mailbox.Store, identity string, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		store:    store,
		reg:      reg,
		client:   client,
		mail:     mail,
		identity: identity,
		timeout:  timeout,
		log:      slog.Default().With("component", "route"),
	}
}

// Store exposes the underlying definition store for the CLI.
func (e *Engine) Store() *Store { return e.store }

// Invoke carries raw through the route (dest, name). The payload format is
// detected once: structured input yields a structured terminal result, text
// input a flattened text result. When no route is defined the message falls
// through to a direct send to dest.
//
// interactive controls terminal delivery: true returns the destination's
// reply synchronously, false drops the final envelope in the destination's
// mailbox.
func (e *Engine) Invoke(ctx context.Context, dest, name, raw string, interactive bool) (*Result, error) {
	def, err := e.store.Get(dest, name)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return e.direct(ctx, dest, raw)
		}
		return nil, err
	}

	payload := DetectPayload(raw)
	env, start := e.ingress(def, payload)

	for i := start; i < len(def.Hops); i++ {
		hop := def.Hops[i]
		next, err := e.step(ctx, env, hop)
		if err != nil {
			return nil, fmt.Errorf("route %s hop %s: %w", def.DisplayKey(), hop.CI, err)
		}
		env = next
	}

	return e.terminal(ctx, def, env, payload.Kind, interactive)
}

// ingress builds the working envelope. Input that is already an envelope
// for this route resumes after the last annotated hop instead of starting
// over.
func (e *Engine) ingress(def *Definition, payload Payload) (*Envelope, int) {
	if payload.Kind == PayloadStructured {
		var env Envelope
		if err := json.Unmarshal(payload.Value, &env); err == nil &&
			env.Route == def.Name && env.Dest == def.Dest && env.Message != nil {
			return &env, e.resumeIndex(def, &env)
		}
	}
	return &Envelope{
		Route:   def.Name,
		Dest:    def.Dest,
		Purpose: def.FinalPurpose,
		Message: payload.Message(),
	}, 0
}

// resumeIndex finds the first hop not yet annotated.
func (e *Engine) resumeIndex(def *Definition, env *Envelope) int {
	if len(env.Annotations) == 0 {
		return 0
	}
	last := env.Annotations[len(env.Annotations)-1].Author
	for i, hop := range def.Hops {
		if hop.CI == last {
			return i + 1
		}
	}
	return 0
}

// step sends the envelope to one hop and folds the reply back in.
func (e *Engine) step(ctx context.Context, env *Envelope, hop Hop) (*Envelope, error) {
	ep, err := e.reg.Lookup(hop.CI)
	if err != nil {
		return nil, err
	}
	outbound := *env
	outbound.Purpose = hop.Purpose
	msg, err := json.Marshal(&outbound)
	if err != nil {
		return nil, err
	}
	reply, err := e.client.Send(ctx, ep.Name, ep.Address, msg, e.timeout)
	if err != nil {
		return nil, err
	}

	var next Envelope
	if err := json.Unmarshal(reply.Content, &next); err == nil && next.Message != nil && len(next.Annotations) > len(env.Annotations) {
		if !preserves(env, &next) {
			return nil, &fault.ProtocolError{Endpoint: hop.CI, Detail: "hop dropped prior annotations"}
		}
		next.Route, next.Dest = env.Route, env.Dest
		return &next, nil
	}
	// Plain reply: the hop did not speak envelope, treat its whole answer
	// as the annotation.
	return env.Annotate(Annotation{Author: hop.CI, Kind: hop.Purpose, Data: reply.Content}), nil
}

// terminal delivers the finished envelope and renders the result in the
// ingress format.
func (e *Engine) terminal(ctx context.Context, def *Definition, env *Envelope, kind PayloadKind, interactive bool) (*Result, error) {
	env.Purpose = def.FinalPurpose
	rendered, err := e.render(env, kind)
	if err != nil {
		return nil, err
	}
	res := &Result{Envelope: env, Rendered: rendered}

	if interactive {
		ep, err := e.reg.Lookup(def.Dest)
		if err != nil {
			return nil, err
		}
		msg, err := json.Marshal(env)
		if err != nil {
			return nil, err
		}
		reply, err := e.client.Send(ctx, ep.Name, ep.Address, msg, e.timeout)
		if err != nil {
			return nil, err
		}
		if len(reply.Content) > 0 {
			res.Rendered = renderReply(reply.Content, kind)
		}
		return res, nil
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	purpose := def.FinalPurpose
	if purpose == "" {
		purpose = "route"
	}
	msg := mailbox.NewMessage(e.identity, def.Dest, mailbox.PriorityNormal, purpose, raw)
	if _, err := e.mail.Push(def.Dest, mailbox.PriorityNormal, msg); err != nil {
		return nil, err
	}
	res.Delivered = true
	e.log.Info("route delivered", "route", def.DisplayKey(), "hops", len(def.Hops), "annotations", len(env.Annotations))
	return res, nil
}

// direct sends raw straight to dest when no route is defined.
func (e *Engine) direct(ctx context.Context, dest, raw string) (*Result, error) {
	ep, err := e.reg.Lookup(dest)
	if err != nil {
		return nil, err
	}
	payload := DetectPayload(raw)
	reply, err := e.client.Send(ctx, ep.Name, ep.Address, payload.Message(), e.timeout)
	if err != nil {
		return nil, err
	}
	return &Result{Direct: true, Rendered: renderReply(reply.Content, payload.Kind)}, nil
}

func (e *Engine) render(env *Envelope, kind PayloadKind) (string, error) {
	if kind == PayloadText {
		return env.RenderText(), nil
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// renderReply mirrors the ingress format onto a raw reply body.
func renderReply(content json.RawMessage, kind PayloadKind) string {
	if kind == PayloadText {
		var text string
		if err := json.Unmarshal(content, &text); err == nil {
			return text
		}
	}
	return string(content)
}
