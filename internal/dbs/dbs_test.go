package dbs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendGrowsAmortized(t *testing.T) {
	d := New(nil)
	for i := 0; i < 1000; i++ {
		d.AppendString("x")
	}
	require.Equal(t, 1000, d.Len())
	require.Equal(t, 1000, len(d.String()))
}

func TestTrim(t *testing.T) {
	d := NewFromString("hello world")
	d.Trim(6, 11)
	require.Equal(t, "world", d.String())
}

func TestCloneIsIndependent(t *testing.T) {
	d := NewFromString("abc")
	c := d.Clone()
	c.AppendString("def")
	require.Equal(t, "abc", d.String())
	require.Equal(t, "abcdef", c.String())
}

func TestSetRangePads(t *testing.T) {
	d := NewFromString("hi")
	d.SetRange(5, []byte("X"))
	require.Equal(t, "hi\x00\x00\x00X", d.String())
}

func TestRangeClamps(t *testing.T) {
	d := NewFromString("hello")
	require.Equal(t, []byte("hello"), d.Range(-3, 100))
	require.Nil(t, d.Range(10, 20))
}
