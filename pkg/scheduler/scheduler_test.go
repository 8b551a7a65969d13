package scheduler

import (
	"testing"
	"time"

	"github.com/guido-cesarano/editorbridge/pkg/dispatch"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduledJobRunsOnDrain(t *testing.T) {
	d := dispatch.New(dispatch.WithLogger(zerolog.Nop()))
	s := New(d, zerolog.Nop())

	runs := 0
	_, err := s.Add("@every 1s", "refresh", func() { runs++ })
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	s.Start()
	require.Eventually(t, func() bool { return d.Pending() > 0 }, 3*time.Second, 10*time.Millisecond)
	s.Stop()

	assert.Equal(t, 0, runs, "job must not run before the drain")
	ran, err := d.Drain()
	require.NoError(t, err)
	assert.Equal(t, ran, runs)
	assert.GreaterOrEqual(t, runs, 1)
}

func TestAddRejectsInvalidSpec(t *testing.T) {
	s := New(dispatch.New(dispatch.WithLogger(zerolog.Nop())), zerolog.Nop())
	_, err := s.Add("every now and then", "bad", func() {})
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestRemove(t *testing.T) {
	s := New(dispatch.New(dispatch.WithLogger(zerolog.Nop())), zerolog.Nop())
	id, err := s.Add("*/5 * * * * *", "five", func() {})
	require.NoError(t, err)
	s.Remove(id)
	assert.Equal(t, 0, s.Len())
}

func TestUnsupportedDispatcherKeepsQueueEmpty(t *testing.T) {
	d := dispatch.New(dispatch.WithLogger(zerolog.Nop()), dispatch.WithMainThreadLoop(false))
	s := New(d, zerolog.Nop())
	_, err := s.Add("@every 1s", "noop", func() { t.Error("must not run") })
	require.NoError(t, err)

	s.Start()
	time.Sleep(1200 * time.Millisecond)
	s.Stop()

	assert.Equal(t, 0, d.Pending())
}
