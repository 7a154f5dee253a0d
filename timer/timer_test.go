package timer

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minos/kernel"
	"minos/sched"
)

func newService() (*sched.Sched, *Service) {
	s := sched.New(sched.Config{})
	return s, New(s, zerolog.Nop())
}

func TestRegisterAndAdvance(t *testing.T) {
	s, tm := newService()
	fired := 0

	leave := s.Critical()
	_, err := tm.Register(5, func() { fired++ })
	leave()
	require.NoError(t, err)

	tm.Advance(4)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 1, tm.Pending())

	tm.Advance(1)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, tm.Pending())
	assert.Equal(t, int64(5), tm.Now())

	// Single shot: further ticks change nothing.
	tm.Advance(10)
	assert.Equal(t, 1, fired)
}

func TestFiringOrder(t *testing.T) {
	s, tm := newService()
	var order []string

	leave := s.Critical()
	_, err := tm.Register(3, func() { order = append(order, "late") })
	require.NoError(t, err)
	_, err = tm.Register(1, func() { order = append(order, "early") })
	require.NoError(t, err)
	_, err = tm.Register(1, func() { order = append(order, "early2") })
	require.NoError(t, err)
	leave()

	tm.Advance(3)
	assert.Equal(t, []string{"early", "early2", "late"}, order)
}

func TestCancel(t *testing.T) {
	s, tm := newService()
	fired := false

	leave := s.Critical()
	ref, err := tm.Register(2, func() { fired = true })
	require.NoError(t, err)
	require.NoError(t, ref.Cancel())
	leave()

	tm.Advance(5)
	assert.False(t, fired)
	assert.Equal(t, 0, tm.Pending())

	// Cancelling twice, or cancelling a fired timer, is an error.
	leave = s.Critical()
	assert.ErrorIs(t, ref.Cancel(), kernel.ErrTimer)

	ref2, err := tm.Register(1, func() {})
	require.NoError(t, err)
	leave()
	tm.Advance(1)

	leave = s.Critical()
	assert.ErrorIs(t, ref2.Cancel(), kernel.ErrTimer)
	leave()
}

func TestRegisterRejectsBadArgs(t *testing.T) {
	s, tm := newService()

	leave := s.Critical()
	defer leave()

	_, err := tm.Register(0, func() {})
	assert.ErrorIs(t, err, kernel.ErrInvalidArgument)
	_, err = tm.Register(-1, func() {})
	assert.ErrorIs(t, err, kernel.ErrInvalidArgument)
	_, err = tm.Register(1, nil)
	assert.ErrorIs(t, err, kernel.ErrInvalidArgument)
}

func TestCallbackMayRegister(t *testing.T) {
	s, tm := newService()
	var ticks []int64

	leave := s.Critical()
	_, err := tm.Register(1, func() {
		ticks = append(ticks, tm.now)
		_, rerr := tm.Register(2, func() { ticks = append(ticks, tm.now) })
		assert.NoError(t, rerr)
	})
	leave()
	require.NoError(t, err)

	tm.Advance(3)
	assert.Equal(t, []int64{1, 3}, ticks)
}

func TestDelay(t *testing.T) {
	s, tm := newService()
	var got error
	woken := false

	_, err := s.Spawn("sleeper", 10, func() {
		got = tm.Delay(3)
		woken = true
	})
	require.NoError(t, err)

	s.Start()
	s.WaitIdle()
	assert.False(t, woken)

	tm.Advance(2)
	s.WaitIdle()
	assert.False(t, woken)

	tm.Advance(1)
	s.Join()
	assert.True(t, woken)
	assert.NoError(t, got)
	assert.Equal(t, 0, tm.Pending())
}

func TestDelayOutsideThreadContext(t *testing.T) {
	_, tm := newService()
	assert.ErrorIs(t, tm.Delay(1), kernel.ErrContext)
	assert.ErrorIs(t, tm.Delay(0), kernel.ErrInvalidArgument)
}
