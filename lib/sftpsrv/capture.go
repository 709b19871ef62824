// Copyright 2026 Gravitational, Inc
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sftpsrv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"

	"github.com/coldwatch/sshtrap/lib/events"
)

// maxCaptureBytes is the size cap spec.md §4.3 imposes per uploaded file.
// WRITEs past the cap are acknowledged to the client but their payload is
// discarded, and the emitted event is flagged Truncated.
const maxCaptureBytes = 64 << 20 // 64 MiB

// uploadSink is the slice of the persistence pipeline SFTPS needs.
type uploadSink interface {
	SendUploadedFile(ctx context.Context, u events.UploadedFile) (uuid.UUID, error)
}

// captureBuffer accumulates WRITE payloads for one open write handle in
// offset order, zero-padding any gap left by a sparse or non-monotonic
// write sequence, and emits an UploadedFile event when the handle closes.
type captureBuffer struct {
	mu       sync.Mutex
	buf      []byte
	truncated bool

	authID   uuid.UUID
	filename string
	filepath string

	sink uploadSink
	ctx  context.Context
}

func newCaptureBuffer(ctx context.Context, sink uploadSink, authID uuid.UUID, filename, filepath string) *captureBuffer {
	return &captureBuffer{
		authID:   authID,
		filename: filename,
		filepath: filepath,
		sink:     sink,
		ctx:      ctx,
	}
}

// WriteAt implements io.WriterAt so captureBuffer can back a pkg/sftp
// Filewrite handle directly.
func (c *captureBuffer) WriteAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if off >= maxCaptureBytes {
		c.truncated = true
		return len(p), nil
	}

	end := off + int64(len(p))
	if end > maxCaptureBytes {
		p = p[:maxCaptureBytes-off]
		c.truncated = true
		end = maxCaptureBytes
	}

	if int64(len(c.buf)) < end {
		grown := make([]byte, end)
		copy(grown, c.buf)
		c.buf = grown
	}
	copy(c.buf[off:end], p)

	return len(p), nil
}

// Close computes the triage metadata over the captured bytes and emits the
// UploadedFile event. It is a no-op if no bytes were ever written.
func (c *captureBuffer) Close() error {
	c.mu.Lock()
	data := c.buf
	truncated := c.truncated
	c.mu.Unlock()

	if len(data) == 0 {
		return nil
	}

	sum := sha256.Sum256(data)
	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}
	claimed := claimedMIME(c.filename)
	detected := detectedMIME(sample)

	_, err := c.sink.SendUploadedFile(c.ctx, events.UploadedFile{
		AuthID:         c.authID,
		Filename:       c.filename,
		Filepath:       c.filepath,
		FileSize:       int64(len(data)),
		FileHash:       hex.EncodeToString(sum[:]),
		ClaimedMIME:    claimed,
		DetectedMIME:   detected,
		FormatMismatch: formatMismatch(claimed, detected),
		FileEntropy:    shannonEntropy(data),
		Data:           data,
		Truncated:      truncated,
	})
	return err
}
