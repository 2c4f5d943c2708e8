package bucket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMasksHighBits(t *testing.T) {
	id := New(4, 0xFF) // only the low 4 bits should survive
	require.Equal(t, uint64(0xF), id.RawID())
	require.Equal(t, uint8(4), id.UsedBits())
}

func TestNewPanicsOnOversizedUsedBits(t *testing.T) {
	require.Panics(t, func() { New(59, 0) })
}

func TestIsValid(t *testing.T) {
	require.False(t, Null.IsValid())
	require.True(t, New(1, 0).IsValid())
}

func TestParentChildRoundTrip(t *testing.T) {
	parent := New(3, 0b101)
	lo, hi := parent.Children()

	require.Equal(t, parent, lo.Parent())
	require.Equal(t, parent, hi.Parent())
	require.True(t, lo.IsSiblingOf(hi))
	require.NotEqual(t, lo, hi)
}

func TestParentOnRootPanics(t *testing.T) {
	require.Panics(t, func() { New(0, 0).Parent() })
}

func TestChildContaining(t *testing.T) {
	parent := New(3, 0b101)
	lo, hi := parent.Children()

	child, ok := ChildContaining(lo.RawID(), lo, hi)
	require.True(t, ok)
	require.Equal(t, lo, child)

	child, ok = ChildContaining(hi.RawID(), lo, hi)
	require.True(t, ok)
	require.Equal(t, hi, child)
}

func TestChildContainingMismatchedDepth(t *testing.T) {
	lo := New(3, 0)
	hi := New(4, 1)
	_, ok := ChildContaining(0, lo, hi)
	require.False(t, ok)
}

func TestFNV1aMixIsDeterministicAndSpreads(t *testing.T) {
	a := New(4, 1)
	b := New(4, 2)

	require.Equal(t, FNV1aMix(a), FNV1aMix(a))
	require.NotEqual(t, FNV1aMix(a), FNV1aMix(b))
}

func TestFNV1aMixSpreadsSiblingsAcrossStripes(t *testing.T) {
	const numStripes uint64 = 16
	seen := make(map[uint64]bool)
	for raw := uint64(0); raw < 64; raw++ {
		id := New(6, raw)
		seen[FNV1aMix(id)%numStripes] = true
	}
	// Sibling buckets only differ in their low bits, which is exactly what
	// a plain modulo would cluster; the mix should spread them across more
	// than a handful of stripes.
	require.Greater(t, len(seen), int(numStripes)/2)
}
