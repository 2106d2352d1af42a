package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	badgerstore "github.com/ternarybob/folio/internal/storage/badger"
	"github.com/timshannon/badgerhold/v4"
)

type testQueue struct {
	storage   *badgerstore.Manager
	transport *BadgerManager
	manager   *Manager
}

func newTestQueue(t *testing.T, mutate func(c *Config)) *testQueue {
	t.Helper()
	logger := arbor.NewLogger()

	storage, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	config := NewDefaultConfig()
	config.PollInterval = 10 * time.Millisecond
	config.Backoff = BackoffPolicy{InitialInterval: 20 * time.Millisecond, MaxInterval: 100 * time.Millisecond, BackoffFactor: 2}
	config.ShutdownTimeout = 2 * time.Second
	config.CleanupSchedule = ""
	if mutate != nil {
		mutate(&config)
	}

	db := storage.DB().(*badgerhold.Store).Badger()
	transport, err := NewBadgerManager(db, config.QueueName, config.VisibilityTimeout)
	require.NoError(t, err)

	return &testQueue{
		storage:   storage,
		transport: transport,
		manager:   NewManager(transport, storage.JobStorage(), config, logger),
	}
}
