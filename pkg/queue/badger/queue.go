// Package badger implements a durable queue.Queue on BadgerDB.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/marmos91/dittodrive/internal/logger"
	kvbadger "github.com/marmos91/dittodrive/pkg/kv/badger"
	"github.com/marmos91/dittodrive/pkg/queue"
)

// Key Layout
// ==========
//
// Every message is one key whose position encodes when it becomes visible:
//
//	q:<queue>:v:<visibleAtUnixNano, 20 digits>:<messageId>  -> message (JSON)
//
// Receive walks the prefix in order and stops at the first key whose
// visibleAt is in the future, so it only ever touches due messages. Taking a
// message moves it to a new key with visibleAt = now + visibility; the new
// key is the receipt. Ack deletes the receipt key, which fails if the message
// has since been moved again by another Receive.
//
// Dead letters live under the queue name suffixed with ".dlq".
const (
	keyPrefix        = "q:"
	visibleSegment   = ":v:"
	deadLetterSuffix = ".dlq"
	timestampWidth   = 20

	maxConflictRetries = 5
)

// Config configures the queue.
type Config struct {
	DBPath   string `mapstructure:"db_path"`
	InMemory bool   `mapstructure:"in_memory"`

	// Name is the logical queue name.
	Name string `mapstructure:"name"`
}

// Queue is a queue.Queue on BadgerDB.
type Queue struct {
	db     *badger.DB
	ownsDB bool
	name   string

	// Now is the clock; replaced in tests.
	Now func() time.Time
}

type storedMessage struct {
	ID         string    `json:"id"`
	Body       []byte    `json:"body"`
	Deliveries int       `json:"deliveries"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Open opens a queue with its own database.
func Open(ctx context.Context, cfg Config) (*Queue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := badger.Open(kvbadger.Options(kvbadger.Config{DBPath: cfg.DBPath, InMemory: cfg.InMemory}))
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database at %s: %w", cfg.DBPath, err)
	}
	q := New(db, cfg.Name)
	q.ownsDB = true
	return q, nil
}

// New creates a queue on an already-open database.
func New(db *badger.DB, name string) *Queue {
	if name == "" {
		name = "default"
	}
	return &Queue{db: db, name: name, Now: time.Now}
}

func visiblePrefix(name string) string {
	return keyPrefix + name + visibleSegment
}

func messageKey(name string, visibleAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%0*d:%s", visiblePrefix(name), timestampWidth, visibleAt.UnixNano(), id))
}

func parseVisibleAt(prefix string, key []byte) (int64, error) {
	rest := strings.TrimPrefix(string(key), prefix)
	ts, _, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, fmt.Errorf("malformed queue key %q", key)
	}
	return strconv.ParseInt(ts, 10, 64)
}

func (q *Queue) put(ctx context.Context, name string, body []byte, delay time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := q.Now()
	msg := storedMessage{ID: uuid.NewString(), Body: body, EnqueuedAt: now}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(name, now.Add(delay), msg.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue on %s: %w", name, err)
	}
	return msg.ID, nil
}

func (q *Queue) Send(ctx context.Context, body []byte, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}
	return q.put(ctx, q.name, body, delay)
}

func (q *Queue) SendDeadLetter(ctx context.Context, body []byte) error {
	_, err := q.put(ctx, q.name+deadLetterSuffix, body, 0)
	return err
}

func (q *Queue) Receive(ctx context.Context, max int, visibility time.Duration) ([]queue.Message, error) {
	if max <= 0 {
		max = 1
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs, err := q.receiveOnce(max, visibility)
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			logger.Debug("queue %s: receive conflict, retrying (attempt %d)", q.name, attempt+1)
			continue
		}
		return msgs, err
	}
}

func (q *Queue) receiveOnce(max int, visibility time.Duration) ([]queue.Message, error) {
	now := q.Now()
	prefix := visiblePrefix(q.name)
	var out []queue.Message

	err := q.db.Update(func(txn *badger.Txn) error {
		out = out[:0]
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)

		type taken struct {
			oldKey []byte
			msg    storedMessage
		}
		var batch []taken

		for it.Rewind(); it.Valid() && len(batch) < max; it.Next() {
			item := it.Item()
			visibleAt, err := parseVisibleAt(prefix, item.Key())
			if err != nil {
				it.Close()
				return err
			}
			if visibleAt > now.UnixNano() {
				break
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			var msg storedMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				it.Close()
				return fmt.Errorf("failed to decode message: %w", err)
			}
			batch = append(batch, taken{oldKey: item.KeyCopy(nil), msg: msg})
		}
		it.Close()

		for _, t := range batch {
			t.msg.Deliveries++
			data, err := json.Marshal(t.msg)
			if err != nil {
				return err
			}
			newKey := messageKey(q.name, now.Add(visibility), t.msg.ID)
			if err := txn.Delete(t.oldKey); err != nil {
				return err
			}
			if err := txn.Set(newKey, data); err != nil {
				return err
			}
			out = append(out, queue.Message{
				ID:         t.msg.ID,
				Body:       t.msg.Body,
				Receipt:    string(newKey),
				Deliveries: t.msg.Deliveries,
				EnqueuedAt: t.msg.EnqueuedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) Ack(ctx context.Context, receipt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strings.HasPrefix(receipt, visiblePrefix(q.name)) {
		return fmt.Errorf("queue %s: foreign receipt %q", q.name, receipt)
	}

	return q.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(receipt)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return queue.ErrReceiptExpired
			}
			return err
		}
		return txn.Delete([]byte(receipt))
	})
}

func (q *Queue) ReceiveDeadLetters(ctx context.Context, max int) ([]queue.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := visiblePrefix(q.name + deadLetterSuffix)
	var out []queue.Message

	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && (max <= 0 || len(out) < max); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var msg storedMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				return fmt.Errorf("failed to decode dead letter: %w", err)
			}
			out = append(out, queue.Message{
				ID:         msg.ID,
				Body:       msg.Body,
				Receipt:    string(it.Item().KeyCopy(nil)),
				EnqueuedAt: msg.EnqueuedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Len counts messages in the queue (visible or in flight).
func (q *Queue) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(visiblePrefix(q.name))
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the database if the queue opened it.
func (q *Queue) Close() error {
	if !q.ownsDB {
		return nil
	}
	if err := q.db.Close(); err != nil {
		return fmt.Errorf("failed to close queue database: %w", err)
	}
	return nil
}

var _ queue.Queue = (*Queue)(nil)
