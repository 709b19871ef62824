package sftpsrv

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShannonEntropyEmptyIsZero(t *testing.T) {
	require.Equal(t, 0.0, shannonEntropy(nil))
}

func TestShannonEntropySingleByteIsZero(t *testing.T) {
	require.Equal(t, 0.0, shannonEntropy(bytes.Repeat([]byte{'A'}, 1024)))
}

func TestShannonEntropyUniformBytesIsEight(t *testing.T) {
	data := make([]byte, 256*64)
	for i := range data {
		data[i] = byte(i)
	}
	entropy := shannonEntropy(data)
	require.InDelta(t, 8.0, entropy, 0.01)
}

func TestShannonEntropyWithinBounds(t *testing.T) {
	entropy := shannonEntropy([]byte("the quick brown fox jumps over the lazy dog"))
	require.GreaterOrEqual(t, entropy, 0.0)
	require.LessOrEqual(t, entropy, 8.0)
}
