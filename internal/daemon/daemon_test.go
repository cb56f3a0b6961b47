// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alban/tcmmd/internal/clock"
	"github.com/alban/tcmmd/internal/config"
	"github.com/alban/tcmmd/internal/errors"
	"github.com/alban/tcmmd/internal/logging"
	"github.com/alban/tcmmd/internal/policy"
	"github.com/alban/tcmmd/internal/tc"
)

type fakeEngine struct {
	adds      int
	dels      int
	uninits   int
	installed bool
	err       error
}

func (e *fakeEngine) AddRules(tc.Flow, uint64, uint64) error {
	e.adds++
	e.installed = e.err == nil
	return e.err
}

func (e *fakeEngine) DelRules() error {
	e.dels++
	e.installed = false
	return e.err
}

func (e *fakeEngine) Uninit() {
	e.uninits++
	e.installed = false
}

func (e *fakeEngine) Stats() (tc.Stats, error) {
	return tc.Stats{}, e.err
}

func testLogger() *logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LevelError
	return logging.New(cfg)
}

func TestRunProcessesEventsAndStops(t *testing.T) {
	engine := &fakeEngine{}
	d, err := New(config.Default(), testLogger(), engine, nil, clock.Real())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Submit(policy.SetPolicy{Flow: tc.Flow{SrcPort: 1}, BufferFill: 1.0})
	d.Submit(policy.UnsetPolicy{})

	// Wait for the loop to drain both events.
	require.Eventually(t, func() bool {
		return engine.adds == 1 && engine.dels == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, engine.installed)
}

func TestRunReturnsKernelError(t *testing.T) {
	engine := &fakeEngine{err: errors.New(errors.KindKernel, "install refused")}
	d, err := New(config.Default(), testLogger(), engine, nil, clock.Real())
	require.NoError(t, err)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Submit(policy.SetPolicy{Flow: tc.Flow{SrcPort: 1}, BufferFill: 1.0})

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, errors.KindKernel, errors.GetKind(err))
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on kernel error")
	}
}

func TestStatsTimerOnlyWithFile(t *testing.T) {
	// No stats file configured: the loop must not sample stats at all.
	engine := &fakeEngine{err: errors.New(errors.KindKernel, "stats must not be read")}
	d, err := New(config.Default(), testLogger(), engine, nil, clock.Real())
	require.NoError(t, err)
	require.Nil(t, d.stats)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, d.Run(ctx))
}
