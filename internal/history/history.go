// Package history persists the local conversation feed — joins, leaves,
// transcriptions, and received translations — in an embedded Badger store
// so that a rejoining user can review what happened while they were away.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

// EventKind classifies a feed entry.
type EventKind string

const (
	KindJoined          EventKind = "joined"
	KindUserJoined      EventKind = "user_joined"
	KindUserLeft        EventKind = "user_left"
	KindTranscription   EventKind = "transcription"
	KindTranslation     EventKind = "translation"
	KindUtteranceSent   EventKind = "utterance_sent"
	KindLanguageChanged EventKind = "language_changed"
)

// Event is one feed entry.
type Event struct {
	// ID uniquely identifies the entry. Assigned on Append when empty.
	ID string `json:"id"`

	// Kind classifies the entry.
	Kind EventKind `json:"kind"`

	// Room names the room the event belongs to.
	Room string `json:"room,omitempty"`

	// User names the participant the event concerns.
	User string `json:"user,omitempty"`

	// Text carries the transcription or translated text, when applicable.
	Text string `json:"text,omitempty"`

	// Language is the language tag relevant to the event.
	Language string `json:"language,omitempty"`

	// At is when the event occurred. Assigned on Append when zero.
	At time.Time `json:"at"`
}

// feedPrefix namespaces feed keys so other record types can share the store.
const feedPrefix = "feed/"

// Log is an append-only, time-ordered event store backed by Badger.
// All methods are safe for concurrent use.
type Log struct {
	db *badger.DB
}

// Open opens (or creates) the event store under dir.
func Open(dir string) (*Log, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is too chatty for a client

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("history: open store at %q: %w", dir, err)
	}
	return &Log{db: db}, nil
}

// Append stores one event. Missing ID and At fields are filled in.
func (l *Log) Append(ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	val, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("history: marshal event: %w", err)
	}

	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(feedKey(ev.At, ev.ID), val)
	})
}

// Recent returns up to n events, newest first. n <= 0 returns nil.
func (l *Log) Recent(n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}

	var events []Event
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(feedPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past the whole prefix range.
		seek := append([]byte(feedPrefix), 0xFF)
		for it.Seek(seek); it.Valid() && len(events) < n; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var ev Event
				if err := json.Unmarshal(val, &ev); err != nil {
					return fmt.Errorf("history: decode event: %w", err)
				}
				events = append(events, ev)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Close closes the underlying store.
func (l *Log) Close() error {
	return l.db.Close()
}

// feedKey builds a key that sorts by event time, with the ID as a
// tie-breaker for events sharing a nanosecond.
func feedKey(at time.Time, id string) []byte {
	key := make([]byte, 0, len(feedPrefix)+8+1+len(id))
	key = append(key, feedPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(at.UnixNano()))
	key = append(key, '/')
	key = append(key, id...)
	return key
}
