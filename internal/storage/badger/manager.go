package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
)

const pingKey = "folio:health:ping"

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	ebook  interfaces.EbookStorage
	job    interfaces.JobStorage
	logger arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}
	return newManager(db, logger), nil
}

func newManager(db *BadgerDB, logger arbor.ILogger) *Manager {
	manager := &Manager{
		db:     db,
		ebook:  NewEbookStorage(db, logger),
		job:    NewJobStorage(db, logger),
		logger: logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager
}

// EbookStorage returns the ebook storage interface
func (m *Manager) EbookStorage() interfaces.EbookStorage {
	return m.ebook
}

// JobStorage returns the job record storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// DB returns the underlying badgerhold store
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Ping writes, reads back and deletes a health key
func (m *Manager) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	kv := m.db.Store().Badger()

	if err := kv.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(pingKey), value)
	}); err != nil {
		return fmt.Errorf("store ping write failed: %w", err)
	}

	err := kv.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(pingKey))
		if err != nil {
			return err
		}
		got, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, value) {
			return errors.New("read back a different value")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store ping read failed: %w", err)
	}

	if err := kv.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(pingKey))
	}); err != nil {
		return fmt.Errorf("store ping cleanup failed: %w", err)
	}

	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
