package sftpsrv

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/coldwatch/sshtrap/lib/events"
)

type fakeSink struct {
	mu    sync.Mutex
	files []events.UploadedFile
}

func (f *fakeSink) SendUploadedFile(_ context.Context, u events.UploadedFile) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = uuid.New()
	f.files = append(f.files, u)
	return u.ID, nil
}

func TestCaptureBufferEmitsOnClose(t *testing.T) {
	sink := &fakeSink{}
	authID := uuid.New()
	c := newCaptureBuffer(context.Background(), sink, authID, "payload.bin", "/tmp/payload.bin")

	payload := bytes.Repeat([]byte{0x41}, 1024)
	n, err := c.WriteAt(payload, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	require.NoError(t, c.Close())

	require.Len(t, sink.files, 1)
	got := sink.files[0]
	sum := sha256.Sum256(payload)
	require.Equal(t, authID, got.AuthID)
	require.Equal(t, int64(1024), got.FileSize)
	require.Equal(t, hex.EncodeToString(sum[:]), got.FileHash)
	require.Equal(t, 0.0, got.FileEntropy)
	require.False(t, got.Truncated)
}

func TestCaptureBufferHandlesOutOfOrderOffsets(t *testing.T) {
	sink := &fakeSink{}
	c := newCaptureBuffer(context.Background(), sink, uuid.New(), "f.bin", "/tmp/f.bin")

	_, err := c.WriteAt([]byte("World"), 5)
	require.NoError(t, err)
	_, err = c.WriteAt([]byte("Hello"), 0)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.Equal(t, "HelloWorld", string(sink.files[0].Data))
}

func TestCaptureBufferEnforcesSizeCap(t *testing.T) {
	sink := &fakeSink{}
	c := newCaptureBuffer(context.Background(), sink, uuid.New(), "big.bin", "/tmp/big.bin")

	chunk := bytes.Repeat([]byte{0x42}, 1<<20)
	var off int64
	for i := 0; i < 65; i++ {
		_, err := c.WriteAt(chunk, off)
		require.NoError(t, err)
		off += int64(len(chunk))
	}

	require.NoError(t, c.Close())
	require.Len(t, sink.files, 1)
	got := sink.files[0]
	require.True(t, got.Truncated)
	require.Equal(t, int64(maxCaptureBytes), got.FileSize)
}

func TestCaptureBufferNoBytesNeverEmits(t *testing.T) {
	sink := &fakeSink{}
	c := newCaptureBuffer(context.Background(), sink, uuid.New(), "empty.bin", "/tmp/empty.bin")
	require.NoError(t, c.Close())
	require.Len(t, sink.files, 0)
}
