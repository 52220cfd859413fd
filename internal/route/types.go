// Package route implements named multi-hop message routes. A route carries
// an envelope hop to hop; every hop appends exactly one annotation and the
// accumulated history is delivered with the terminal result.
package route

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultName is the route name used when the caller gives none. It is
// elided in display: "numa:default" shows as "numa".
const DefaultName = "default"

// Hop is one step of a route: the CI to visit and why.
type Hop struct {
	CI      string `json:"ci"`
	Purpose string `json:"purpose,omitempty"`
}

// Definition is a stored route, keyed by (destination, name).
type Definition struct {
	Name         string `json:"name"`
	Dest         string `json:"dest"`
	Hops         []Hop  `json:"hops"`
	FinalPurpose string `json:"final_purpose,omitempty"`
}

// Key returns the storage key "<dest>:<name>".
func (d *Definition) Key() string {
	return RouteKey(d.Dest, d.Name)
}

// RouteKey builds the composite key for a (destination, name) pair.
func RouteKey(dest, name string) string {
	if name == "" {
		name = DefaultName
	}
	return dest + ":" + name
}

// DisplayKey renders a key for humans, hiding the ":default" suffix.
func (d *Definition) DisplayKey() string {
	if d.Name == DefaultName {
		return d.Dest
	}
	return d.Key()
}

// Display renders "name: hopA (purpose: "x") → hopB → dest".
func (d *Definition) Display() string {
	parts := make([]string, 0, len(d.Hops)+1)
	for _, h := range d.Hops {
		if h.Purpose != "" {
			parts = append(parts, fmt.Sprintf("%s (purpose: %q)", h.CI, h.Purpose))
		} else {
			parts = append(parts, h.CI)
		}
	}
	if d.FinalPurpose != "" {
		parts = append(parts, fmt.Sprintf("%s (purpose: %q)", d.Dest, d.FinalPurpose))
	} else {
		parts = append(parts, d.Dest)
	}
	return d.Name + ": " + strings.Join(parts, " → ")
}

// PayloadKind tags a payload as free text or a structured value. Detected
// once at ingress and carried through the route, so the egress shape always
// mirrors the ingress shape.
type PayloadKind string

const (
	PayloadText       PayloadKind = "text"
	PayloadStructured PayloadKind = "structured"
)

// Payload is the tagged variant carried by an envelope.
type Payload struct {
	Kind  PayloadKind
	Text  string
	Value json.RawMessage
}

// DetectPayload classifies raw input: structured when the first
// non-whitespace character opens a JSON object or array, plain text
// otherwise.
func DetectPayload(raw string) Payload {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if json.Valid([]byte(trimmed)) {
			return Payload{Kind: PayloadStructured, Value: json.RawMessage(trimmed)}
		}
	}
	return Payload{Kind: PayloadText, Text: raw}
}

// Message returns the payload as the envelope message field.
func (p Payload) Message() json.RawMessage {
	if p.Kind == PayloadStructured {
		return p.Value
	}
	b, _ := json.Marshal(p.Text)
	return b
}

// Annotation is one hop's contribution to an envelope.
type Annotation struct {
	Author string          `json:"author"`
	Kind   string          `json:"kind,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Envelope is the structure that flows through a route. Annotations are
// append-only: no hop may drop a prior hop's entry.
type Envelope struct {
	Route       string          `json:"name"`
	Dest        string          `json:"dest"`
	Purpose     string          `json:"purpose,omitempty"`
	Message     json.RawMessage `json:"message"`
	Annotations []Annotation    `json:"annotations"`
}

// Annotate returns a copy of the envelope with one more annotation.
func (e *Envelope) Annotate(a Annotation) *Envelope {
	out := *e
	out.Annotations = make([]Annotation, 0, len(e.Annotations)+1)
	out.Annotations = append(out.Annotations, e.Annotations...)
	out.Annotations = append(out.Annotations, a)
	return &out
}

// preserves reports whether next still carries every annotation of prev,
// in order.
func preserves(prev, next *Envelope) bool {
	if len(next.Annotations) < len(prev.Annotations) {
		return false
	}
	for i, a := range prev.Annotations {
		if next.Annotations[i].Author != a.Author {
			return false
		}
	}
	return true
}

// RenderText flattens an envelope into the plain-text terminal shape:
// the original message followed by each annotation in hop order.
func (e *Envelope) RenderText() string {
	var sb strings.Builder
	var text string
	if err := json.Unmarshal(e.Message, &text); err != nil {
		text = string(e.Message)
	}
	sb.WriteString(text)
	for _, a := range e.Annotations {
		sb.WriteString("\n")
		if a.Kind != "" {
			sb.WriteString(fmt.Sprintf("[%s (%s)] ", a.Author, a.Kind))
		} else {
			sb.WriteString(fmt.Sprintf("[%s] ", a.Author))
		}
		var data string
		if err := json.Unmarshal(a.Data, &data); err != nil {
			data = string(a.Data)
		}
		sb.WriteString(data)
	}
	return sb.String()
}
