package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedMigrator struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (m *scriptedMigrator) Run(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.results) == 0 {
		return nil
	}
	err := m.results[0]
	m.results = m.results[1:]
	return err
}

func (m *scriptedMigrator) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestMigrationRunner_RetriesUntilSuccess(t *testing.T) {
	m := &scriptedMigrator{results: []error{errors.New("qdrant down"), errors.New("still down"), nil}}
	r := NewMigrationRunner(m, time.Millisecond)

	r.Start(context.Background())

	assert.Equal(t, 3, m.count())
	select {
	case <-r.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestMigrationRunner_StopsOnCancel(t *testing.T) {
	m := &scriptedMigrator{results: []error{errors.New("down"), errors.New("down"), errors.New("down")}}
	r := NewMigrationRunner(m, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	go r.Start(ctx)
	require.Eventually(t, func() bool { return m.count() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Equal(t, 1, m.count())
}
