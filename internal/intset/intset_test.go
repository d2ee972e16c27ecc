package intset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddStaysSorted(t *testing.T) {
	s := New()
	s.Add(5)
	s.Add(-3)
	s.Add(100)
	s.Add(1)
	require.Equal(t, []int64{-3, 1, 5, 100}, s.Values())
}

func TestAddDuplicateIsNoop(t *testing.T) {
	s := New()
	require.True(t, s.Add(5))
	require.False(t, s.Add(5))
	require.Equal(t, 1, s.Len())
}

func TestEncodingUpgradesOnly(t *testing.T) {
	s := New()
	require.Equal(t, Enc16, s.Encoding())
	s.Add(1 << 20)
	require.Equal(t, Enc32, s.Encoding())
	s.Add(1 << 40)
	require.Equal(t, Enc64, s.Encoding())
	s.Remove(1 << 40)
	require.Equal(t, Enc64, s.Encoding(), "encoding must never downgrade")
}

func TestContainsAndGet(t *testing.T) {
	s := New()
	for _, v := range []int64{10, 20, 30} {
		s.Add(v)
	}
	require.True(t, s.Contains(20))
	require.False(t, s.Contains(25))
	v, ok := s.Get(1)
	require.True(t, ok)
	require.Equal(t, int64(20), v)
	_, ok = s.Get(5)
	require.False(t, ok)
}

func TestRemoveShifts(t *testing.T) {
	s := New()
	s.Add(1)
	s.Add(2)
	s.Add(3)
	require.True(t, s.Remove(2))
	require.Equal(t, []int64{1, 3}, s.Values())
	require.False(t, s.Remove(2))
}

func TestBlobLenTracksEncoding(t *testing.T) {
	s := New()
	s.Add(1)
	s.Add(2)
	require.Equal(t, 2*int(Enc16), s.BlobLen())
	s.Add(1 << 40)
	require.Equal(t, 3*int(Enc64), s.BlobLen())
}

func TestCloneIndependent(t *testing.T) {
	s := New()
	s.Add(1)
	c := s.Clone()
	c.Add(2)
	require.Equal(t, 1, s.Len())
	require.Equal(t, 2, c.Len())
}
