// Package wire implements the CI socket protocol: newline-delimited JSON
// frames carrying request/reply, streaming chunks and liveness pings.
package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Request is the frame sent to a CI endpoint.
type Request struct {
	Message json.RawMessage `json:"message,omitempty"`
	Stream  bool            `json:"stream,omitempty"`
	Ping    bool            `json:"ping,omitempty"`
}

// Reply is a frame received from a CI endpoint. For non-streaming calls a
// single reply arrives; streaming endpoints send a sequence ending with
// IsFinal true.
type Reply struct {
	Content json.RawMessage `json:"content,omitempty"`
	IsFinal bool            `json:"is_final,omitempty"`
	Pong    bool            `json:"pong,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// writeFrame marshals v and writes it as one newline-terminated frame.
func writeFrame(conn net.Conn, v any, deadline time.Time) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err = conn.Write(append(data, '\n'))
	return err
}

// readFrame reads one newline-terminated frame into a Reply.
func readFrame(conn net.Conn, r *bufio.Reader, deadline time.Time) (*Reply, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	var reply Reply
	if err := json.Unmarshal(line, &reply); err != nil {
		return nil, errMalformed(err)
	}
	return &reply, nil
}

type malformedError struct{ err error }

func (e malformedError) Error() string { return "malformed frame: " + e.err.Error() }

func errMalformed(err error) error { return malformedError{err: err} }
