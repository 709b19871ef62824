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
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/gravitational/trace"

	"github.com/coldwatch/sshtrap/lib/shell"
)

// Config configures a Handler for a single SFTP session.
type Config struct {
	Overlay *shell.Overlay
	Sink    uploadSink
	AuthID  uuid.UUID
	Clock   clockwork.Clock
}

func (c *Config) checkAndSetDefaults() error {
	if c.Overlay == nil {
		return trace.BadParameter("sftpsrv.Config: Overlay is required")
	}
	if c.Sink == nil {
		return trace.BadParameter("sftpsrv.Config: Sink is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Handler implements sftp.Handlers over a per-session Overlay, capturing
// every uploaded file's bytes and never touching the host filesystem.
type Handler struct {
	cfg Config
	log *log.Entry
}

// NewHandler constructs a Handler ready to back an sftp.RequestServer.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Handler{
		cfg: cfg,
		log: log.WithField(trace.Component, "sftpsrv"),
	}, nil
}

// Serve runs an sftp.RequestServer over ch until the client disconnects or
// the subsystem is torn down.
func (h *Handler) Serve(ch ssh.Channel) error {
	server := sftp.NewRequestServer(ch, sftp.Handlers{
		FileGet:  h,
		FilePut:  h,
		FileCmd:  h,
		FileList: h,
	})
	defer server.Close()

	err := server.Serve()
	if err == io.EOF || err == nil {
		return nil
	}
	return trace.Wrap(err)
}

// Fileread implements sftp.FileReader.
func (h *Handler) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	n, ok := h.cfg.Overlay.Lookup(r.Filepath)
	if !ok {
		return nil, sftp.ErrSSHFxNoSuchFile
	}
	if n.Kind == shell.NodeDir {
		return nil, sftp.ErrSSHFxPermissionDenied
	}
	return bytes.NewReader(n.Content), nil
}

// Filewrite implements sftp.FileWriter.
func (h *Handler) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	capture := newCaptureBuffer(context.Background(), h.cfg.Sink, h.cfg.AuthID, path.Base(r.Filepath), r.Filepath)
	return &writeHandle{
		capture: capture,
		overlay: h.cfg.Overlay,
		path:    r.Filepath,
		log:     h.log,
	}, nil
}

// writeHandle fans every WriteAt out to the capture buffer (for triage and
// the eventual UploadedFile event) and, on Close, mirrors the final bytes
// into the session overlay so a subsequent `ls`/`cat` sees the upload.
type writeHandle struct {
	capture *captureBuffer
	overlay *shell.Overlay
	path    string
	log     *log.Entry
}

func (w *writeHandle) WriteAt(p []byte, off int64) (int, error) {
	return w.capture.WriteAt(p, off)
}

func (w *writeHandle) Close() error {
	if err := w.capture.Close(); err != nil {
		w.log.WithError(err).Warn("failed to persist uploaded file")
	}
	w.capture.mu.Lock()
	data := append([]byte(nil), w.capture.buf...)
	w.capture.mu.Unlock()
	w.overlay.WriteFile(w.path, data)
	return nil
}

// Filecmd implements sftp.FileCmder.
func (h *Handler) Filecmd(r *sftp.Request) error {
	switch r.Method {
	case "Remove":
		h.cfg.Overlay.Delete(r.Filepath)
		return nil
	case "Rename":
		n, ok := h.cfg.Overlay.Lookup(r.Filepath)
		if !ok {
			return sftp.ErrSSHFxNoSuchFile
		}
		h.cfg.Overlay.Write(r.Target, n)
		h.cfg.Overlay.Delete(r.Filepath)
		return nil
	case "Mkdir":
		h.cfg.Overlay.Mkdir(r.Filepath)
		return nil
	case "Rmdir":
		h.cfg.Overlay.Delete(r.Filepath)
		return nil
	case "Setstat":
		return nil
	case "Symlink":
		return sftp.ErrSSHFxOpUnsupported
	default:
		return sftp.ErrSSHFxOpUnsupported
	}
}

// Filelist implements sftp.FileLister.
func (h *Handler) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	switch r.Method {
	case "List":
		names, ok := h.cfg.Overlay.List(r.Filepath)
		if !ok {
			return nil, sftp.ErrSSHFxNoSuchFile
		}
		infos := make([]os.FileInfo, 0, len(names))
		for _, name := range names {
			n, ok := h.cfg.Overlay.Lookup(path.Join(r.Filepath, name))
			if !ok {
				continue
			}
			infos = append(infos, nodeFileInfo(name, n))
		}
		return listerAt(infos), nil
	case "Stat", "Lstat":
		n, ok := h.cfg.Overlay.Lookup(r.Filepath)
		if !ok {
			return nil, sftp.ErrSSHFxNoSuchFile
		}
		return listerAt{nodeFileInfo(path.Base(r.Filepath), n)}, nil
	case "Readlink":
		return nil, sftp.ErrSSHFxOpUnsupported
	default:
		return nil, sftp.ErrSSHFxOpUnsupported
	}
}

// nodeFileInfo adapts a shell.Node into an os.FileInfo for SFTP responses.
func nodeFileInfo(name string, n *shell.Node) os.FileInfo {
	mode := n.Mode
	if n.Kind == shell.NodeDir {
		mode |= os.ModeDir
	}
	modTime := n.ModTime
	if modTime.IsZero() {
		modTime = time.Now()
	}
	return &fileInfo{
		name:    name,
		size:    int64(len(n.Content)),
		mode:    mode,
		modTime: modTime,
		isDir:   n.Kind == shell.NodeDir,
	}
}

type fileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func (f *fileInfo) Name() string       { return f.name }
func (f *fileInfo) Size() int64        { return f.size }
func (f *fileInfo) Mode() os.FileMode  { return f.mode }
func (f *fileInfo) ModTime() time.Time { return f.modTime }
func (f *fileInfo) IsDir() bool        { return f.isDir }
func (f *fileInfo) Sys() interface{}   { return nil }

// listerAt implements sftp.ListerAt over a fixed slice of os.FileInfo.
type listerAt []os.FileInfo

func (l listerAt) ListAt(dst []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(dst, l[offset:])
	if offset+int64(n) >= int64(len(l)) {
		return n, io.EOF
	}
	return n, nil
}
