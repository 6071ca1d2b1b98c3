package schedulertest

import (
	"testing"
	"time"

	"github.com/genricoloni/presenced/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ domain.Scheduler = (*Manual)(nil)

func TestManual_Advance(t *testing.T) {
	m := NewManual()
	var order []string

	cancelA, err := m.SchedulePeriodic("a", 5*time.Second, func() { order = append(order, "a") })
	require.NoError(t, err)
	_, err = m.SchedulePeriodic("b", 2*time.Second, func() { order = append(order, "b") })
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, m.Scheduled())

	m.Advance(time.Second)
	assert.Empty(t, order)

	m.Advance(5 * time.Second) // t=6s
	assert.Equal(t, []string{"b", "b", "a", "b"}, order)

	cancelA()
	order = nil
	m.Advance(10 * time.Second) // t=16s
	assert.Equal(t, []string{"b", "b", "b", "b", "b"}, order)
	assert.Equal(t, []string{"b"}, m.Scheduled())
}

func TestManual_TaskMayCancelItself(t *testing.T) {
	m := NewManual()
	runs := 0
	var cancel domain.CancelFunc
	cancel, err := m.SchedulePeriodic("once", time.Second, func() {
		runs++
		cancel()
	})
	require.NoError(t, err)

	m.Advance(10 * time.Second)
	assert.Equal(t, 1, runs)
	assert.Empty(t, m.Scheduled())
}

func TestManual_RejectsNonPositiveInterval(t *testing.T) {
	_, err := NewManual().SchedulePeriodic("bad", 0, func() {})
	assert.Error(t, err)
}
