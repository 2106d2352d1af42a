package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/folio/internal/models"
)

// envelope is the structure stored in Badger for every queued message
type envelope struct {
	ID           string              `json:"id"`
	Body         models.QueueMessage `json:"body"`
	Priority     int                 `json:"priority"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
	VisibleAt    time.Time           `json:"visible_at"`
	ReceiveCount int                 `json:"receive_count"`
}

// Delivery is a message claimed by Receive. It stays hidden from other
// receivers until acked, retried, released or the visibility timeout expires.
type Delivery struct {
	ID           string
	Message      models.QueueMessage
	Priority     int
	ReceiveCount int
	EnqueuedAt   time.Time
}

// Stats is a point-in-time count of queued messages
type Stats struct {
	Total   int `json:"total"`
	Visible int `json:"visible"`
	Hidden  int `json:"hidden"` // in flight or delayed
}

// BadgerManager implements a persistent priority queue using BadgerDB.
//
// Keys:
//
//	queue:{name}:msg:{id}                              -> envelope JSON
//	queue:{name}:index:{priority}:{visibleAt}:{id}     -> empty
//
// Index keys sort by priority band, then visibility time.
type BadgerManager struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
}

// NewBadgerManager creates a new Badger-backed queue
func NewBadgerManager(db *badger.DB, queueName string, visibilityTimeout time.Duration) (*BadgerManager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 15 * time.Minute
	}

	return &BadgerManager{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
	}, nil
}

// Enqueue stores a message under id, visible after delay. Re-enqueueing an
// existing id replaces it.
func (m *BadgerManager) Enqueue(ctx context.Context, id string, msg models.QueueMessage, priority int, delay time.Duration) error {
	if id == "" {
		return errors.New("message id is required")
	}
	if priority < 0 || priority > 99 {
		return fmt.Errorf("priority %d out of range 0-99", priority)
	}

	now := time.Now()
	env := envelope{
		ID:         id,
		Body:       msg,
		Priority:   priority,
		EnqueuedAt: now,
		VisibleAt:  now.Add(delay),
	}

	return m.db.Update(func(txn *badger.Txn) error {
		if existing, err := m.load(txn, id); err == nil {
			if err := txn.Delete(m.indexKey(existing.Priority, existing.VisibleAt, id)); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return m.store(txn, &env)
	})
}

// Receive claims the earliest visible message of the highest priority band.
// Returns models.ErrNoMessage when nothing is ready.
func (m *BadgerManager) Receive(ctx context.Context) (*Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var claimed *envelope

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := m.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		var claimKey []byte

		it.Seek(prefix)
		for it.ValidForPrefix(prefix) {
			key := it.Item().KeyCopy(nil)

			priority, visibleAt, id, err := m.parseIndexKey(key)
			if err != nil {
				it.Next()
				continue
			}

			if visibleAt.After(now) {
				// Rest of this band is later still; jump to the next band
				it.Seek(m.bandEnd(priority))
				continue
			}

			env, err := m.load(txn, id)
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					// Orphaned index entry
					if err := txn.Delete(key); err != nil {
						return err
					}
					it.Next()
					continue
				}
				return err
			}

			claimed = env
			claimKey = key
			break
		}

		if claimed == nil {
			return models.ErrNoMessage
		}

		if err := txn.Delete(claimKey); err != nil {
			return err
		}
		claimed.ReceiveCount++
		claimed.VisibleAt = now.Add(m.visibilityTimeout)
		return m.store(txn, claimed)
	})

	if err != nil {
		// Another worker claimed the same message first
		if errors.Is(err, badger.ErrConflict) {
			return nil, models.ErrNoMessage
		}
		return nil, err
	}

	return &Delivery{
		ID:           claimed.ID,
		Message:      claimed.Body,
		Priority:     claimed.Priority,
		ReceiveCount: claimed.ReceiveCount,
		EnqueuedAt:   claimed.EnqueuedAt,
	}, nil
}

// Ack removes a message permanently
func (m *BadgerManager) Ack(ctx context.Context, id string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		env, err := m.load(txn, id)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		if err := txn.Delete(m.indexKey(env.Priority, env.VisibleAt, id)); err != nil {
			return err
		}
		return txn.Delete(m.msgKey(id))
	})
}

// Retry hides a message for delay before it can be received again
func (m *BadgerManager) Retry(ctx context.Context, id string, delay time.Duration) error {
	return m.move(id, func(env *envelope) {
		env.VisibleAt = time.Now().Add(delay)
	})
}

// Release makes a claimed message visible immediately without counting the receive
func (m *BadgerManager) Release(ctx context.Context, id string) error {
	return m.move(id, func(env *envelope) {
		env.VisibleAt = time.Now()
		if env.ReceiveCount > 0 {
			env.ReceiveCount--
		}
	})
}

// Extend extends the visibility timeout for a message
func (m *BadgerManager) Extend(ctx context.Context, id string, duration time.Duration) error {
	return m.move(id, func(env *envelope) {
		env.VisibleAt = time.Now().Add(duration)
	})
}

// Stats counts visible and hidden messages
func (m *BadgerManager) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := m.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			_, visibleAt, _, err := m.parseIndexKey(it.Item().Key())
			if err != nil {
				continue
			}
			stats.Total++
			if visibleAt.After(now) {
				stats.Hidden++
			} else {
				stats.Visible++
			}
		}
		return nil
	})
	return stats, err
}

// Close is a no-op; the DB is owned by the storage manager
func (m *BadgerManager) Close() error {
	return nil
}

func (m *BadgerManager) move(id string, fn func(env *envelope)) error {
	return m.db.Update(func(txn *badger.Txn) error {
		env, err := m.load(txn, id)
		if err != nil {
			return fmt.Errorf("message %s: %w", id, err)
		}
		if err := txn.Delete(m.indexKey(env.Priority, env.VisibleAt, id)); err != nil {
			return err
		}
		fn(env)
		return m.store(txn, env)
	})
}

func (m *BadgerManager) load(txn *badger.Txn, id string) (*envelope, error) {
	item, err := txn.Get(m.msgKey(id))
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &env)
	}); err != nil {
		return nil, err
	}
	return &env, nil
}

func (m *BadgerManager) store(txn *badger.Txn, env *envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}
	if err := txn.Set(m.msgKey(env.ID), data); err != nil {
		return err
	}
	return txn.Set(m.indexKey(env.Priority, env.VisibleAt, env.ID), []byte{})
}

// Helpers

func (m *BadgerManager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *BadgerManager) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
}

func (m *BadgerManager) indexKey(priority int, visibleAt time.Time, id string) []byte {
	// Zero padding keeps lexical order equal to numeric order
	return []byte(fmt.Sprintf("queue:%s:index:%02d:%020d:%s", m.queueName, priority, visibleAt.UnixNano(), id))
}

// bandEnd sorts after every key of the priority band (';' follows ':')
func (m *BadgerManager) bandEnd(priority int) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:%02d;", m.queueName, priority))
}

func (m *BadgerManager) parseIndexKey(key []byte) (int, time.Time, string, error) {
	prefix := m.indexPrefix()
	if len(key) <= len(prefix) {
		return 0, time.Time{}, "", fmt.Errorf("invalid key length")
	}

	// Suffix is "{2-digit-priority}:{20-digit-ts}:{id}"
	suffix := string(key[len(prefix):])
	if len(suffix) < 25 || suffix[2] != ':' || suffix[23] != ':' {
		return 0, time.Time{}, "", fmt.Errorf("invalid index key %q", key)
	}

	var priority int
	if _, err := fmt.Sscanf(suffix[:2], "%d", &priority); err != nil {
		return 0, time.Time{}, "", err
	}
	var ts int64
	if _, err := fmt.Sscanf(suffix[3:23], "%d", &ts); err != nil {
		return 0, time.Time{}, "", err
	}

	return priority, time.Unix(0, ts), suffix[24:], nil
}
