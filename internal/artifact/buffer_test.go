package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWriteWithinCapacity(t *testing.T) {
	b := NewBuffer(16)

	n, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, 16, b.Cap())
	assert.Equal(t, []byte("hello"), b.Bytes())

	n, err = b.Write([]byte(" world"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte("hello world"), b.Bytes())
}

func TestBufferRejectsOverflowingWrite(t *testing.T) {
	b := NewBuffer(8)
	_, err := b.Write([]byte("12345"))
	require.NoError(t, err)

	n, err := b.Write([]byte("6789"))
	require.ErrorIs(t, err, ErrBufferFull)
	assert.Zero(t, n)
	assert.Equal(t, 5, b.Len(), "a rejected write must not land partially")

	// An exact fill is still accepted.
	n, err = b.Write([]byte("678"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 8, b.Len())

	_, err = b.Write([]byte("x"))
	require.ErrorIs(t, err, ErrBufferFull)
}

func TestBufferZeroAndNegativeCapacity(t *testing.T) {
	assert.Zero(t, NewBuffer(0).Cap())
	assert.Zero(t, NewBuffer(-3).Cap())

	b := NewBuffer(0)
	n, err := b.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = b.Write([]byte("a"))
	require.ErrorIs(t, err, ErrBufferFull)
}
