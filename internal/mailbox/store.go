// Package mailbox implements the per-CI persistent priority message queues.
//
// On-disk layout: one directory per CI name with one subdirectory per
// priority; each message is one JSON file named by a sortable timestamp
// plus a random suffix, so lexical order is push order and names stay
// unique even under clock coarseness.
package mailbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cifabric/cifabric/internal/fault"
)

// Priority selects one of the three queues of a CI mailbox.
type Priority string

const (
	PriorityUrgent  Priority = "urgent"
	PriorityNormal  Priority = "normal"
	PriorityArchive Priority = "archive"
)

// Priorities lists all queues in display order.
var Priorities = []Priority{PriorityUrgent, PriorityNormal, PriorityArchive}

// Valid reports whether p names a known queue.
func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityNormal, PriorityArchive:
		return true
	}
	return false
}

// Message is one stored mailbox entry. Immutable once created.
type Message struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Priority  Priority        `json:"priority"`
	Purpose   string          `json:"purpose,omitempty"`
	Body      json.RawMessage `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewMessage builds a message with a fresh short ID and timestamp.
func NewMessage(from, to string, priority Priority, purpose string, body json.RawMessage) *Message {
	if purpose == "" {
		purpose = "general"
	}
	return &Message{
		ID:        uuid.NewString()[:8],
		From:      from,
		To:        to,
		Priority:  priority,
		Purpose:   purpose,
		Body:      body,
		CreatedAt: time.Now(),
	}
}

// Store is a file-backed mailbox rooted at a directory.
type Store struct {
	root string
}

// NewStore creates a mailbox store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

func (s *Store) queueDir(ci string, priority Priority) string {
	return filepath.Join(s.root, ci, string(priority))
}

// Push appends a message to the (ci, priority) queue and returns its ID.
func (s *Store) Push(ci string, priority Priority, msg *Message) (string, error) {
	if !priority.Valid() {
		return "", fmt.Errorf("invalid priority %q", priority)
	}
	dir := s.queueDir(ci, priority)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &fault.StorageError{Op: "mkdir", Path: dir, Err: err}
	}

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return "", &fault.StorageError{Op: "marshal", Path: dir, Err: err}
	}

	// Nanosecond timestamp plus random suffix keeps names both sortable
	// and unique under coarse clocks.
	name := fmt.Sprintf("%s_%s.json",
		time.Now().UTC().Format("20060102T150405.000000000"),
		uuid.NewString()[:8])
	path := filepath.Join(dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", &fault.StorageError{Op: "write", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", &fault.StorageError{Op: "rename", Path: path, Err: err}
	}
	return msg.ID, nil
}

// Pop removes and returns the earliest message of the queue, or nil when
// empty. Concurrent consumers never receive the same message: each file is
// claimed by rename before it is read, and a lost race moves on to the
// next file.
func (s *Store) Pop(ci string, priority Priority) (*Message, error) {
	dir := s.queueDir(ci, priority)
	for {
		names, err := s.sortedNames(dir)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, nil
		}
		for _, name := range names {
			path := filepath.Join(dir, name)
			claim := path + ".claim." + uuid.NewString()[:8]
			if err := os.Rename(path, claim); err != nil {
				if os.IsNotExist(err) {
					continue // another consumer won the race
				}
				return nil, &fault.StorageError{Op: "claim", Path: path, Err: err}
			}
			msg, err := readMessage(claim)
			os.Remove(claim)
			if err != nil {
				return nil, err
			}
			return msg, nil
		}
		// Every candidate was claimed out from under us; rescan.
	}
}

// Peek returns the earliest message without removing it, or nil when empty.
func (s *Store) Peek(ci string, priority Priority) (*Message, error) {
	msgs, err := s.List(ci, priority, "")
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return msgs[0], nil
}

// List returns messages in push order without removing them, optionally
// filtered by sender.
func (s *Store) List(ci string, priority Priority, fromFilter string) ([]*Message, error) {
	dir := s.queueDir(ci, priority)
	names, err := s.sortedNames(dir)
	if err != nil {
		return nil, err
	}
	out := make([]*Message, 0, len(names))
	for _, name := range names {
		msg, err := readMessage(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(errUnwrap(err)) {
				continue // popped concurrently
			}
			return nil, err
		}
		if fromFilter != "" && msg.From != fromFilter {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Drain removes and returns all matching messages in push order.
func (s *Store) Drain(ci string, priority Priority, fromFilter string) ([]*Message, error) {
	dir := s.queueDir(ci, priority)
	names, err := s.sortedNames(dir)
	if err != nil {
		return nil, err
	}
	out := make([]*Message, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		msg, err := readMessage(path)
		if err != nil {
			if os.IsNotExist(errUnwrap(err)) {
				continue
			}
			return nil, err
		}
		if fromFilter != "" && msg.From != fromFilter {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, &fault.StorageError{Op: "remove", Path: path, Err: err}
		}
		out = append(out, msg)
	}
	return out, nil
}

// Count returns the number of messages in a queue, optionally filtered by
// sender.
func (s *Store) Count(ci string, priority Priority, fromFilter string) (int, error) {
	if fromFilter == "" {
		names, err := s.sortedNames(s.queueDir(ci, priority))
		if err != nil {
			return 0, err
		}
		return len(names), nil
	}
	msgs, err := s.List(ci, priority, fromFilter)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// Clear removes matching messages without returning them. Silent: a clear
// of an empty queue is not an error.
func (s *Store) Clear(ci string, priority Priority, fromFilter string) error {
	_, err := s.Drain(ci, priority, fromFilter)
	return err
}

func (s *Store) sortedNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &fault.StorageError{Op: "readdir", Path: dir, Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func readMessage(path string) (*Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &fault.StorageError{Op: "read", Path: path, Err: err}
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &fault.StorageError{Op: "decode", Path: path, Err: err}
	}
	return &msg, nil
}

func errUnwrap(err error) error {
	var se *fault.StorageError
	if errors.As(err, &se) {
		return se.Err
	}
	return err
}
