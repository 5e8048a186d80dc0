package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSupervisor_FiresOnceWithGeneration(t *testing.T) {
	s := New(20 * time.Millisecond)
	s.Start(1)
	require.True(t, s.Active())

	select {
	case gen := <-s.Expired():
		require.Equal(t, 1, gen)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	require.False(t, s.Active())

	select {
	case gen := <-s.Expired():
		t.Fatalf("fired twice (gen %d)", gen)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestSupervisor_CancelIsIdempotent(t *testing.T) {
	s := New(20 * time.Millisecond)
	s.Start(1)
	require.True(t, s.Cancel())
	require.False(t, s.Cancel())
	require.False(t, s.Active())
	require.Zero(t, s.Remaining())

	select {
	case <-s.Expired():
		t.Fatal("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestSupervisor_RestartReplacesOldGeneration(t *testing.T) {
	s := New(30 * time.Millisecond)
	s.Start(1)
	time.Sleep(10 * time.Millisecond)
	s.Start(2)

	select {
	case gen := <-s.Expired():
		require.Equal(t, 2, gen)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestSupervisor_DefaultTimeout(t *testing.T) {
	s := New(0)
	require.Equal(t, DefaultAssignmentTimeout, s.Timeout())
}
