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

package shell

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/trace"

	"github.com/coldwatch/sshtrap/lib/events"
	"github.com/coldwatch/sshtrap/lib/tarpit"
)

// CommandSink is the slice of the persistence pipeline the interpreter
// needs: a detached, non-blocking way to record a dispatched line.
type CommandSink interface {
	SendCommand(events.Command)
}

const (
	ctrlC  = 0x03
	ctrlD  = 0x04
	bsASCII = 0x08
	delASCII = 0x7f
)

// Interpreter is the per-channel Shell Interpreter state machine described
// in spec.md §4.2. It never touches the host filesystem or spawns a real
// process — every command handler reads and writes an Overlay over the
// shared Simulated Filesystem.
type Interpreter struct {
	ch      io.ReadWriter
	session *Session
	sink    CommandSink
	authID  uuid.UUID
	clock   clockwork.Clock
	tarpit  tarpit.Config
}

// NewInterpreter constructs an Interpreter bound to one SSH channel.
func NewInterpreter(ch io.ReadWriter, session *Session, sink CommandSink, authID uuid.UUID, clock clockwork.Clock, tp tarpit.Config) *Interpreter {
	return &Interpreter{
		ch:      ch,
		session: session,
		sink:    sink,
		authID:  authID,
		clock:   clock,
		tarpit:  tp,
	}
}

// Serve runs the read-eval-print loop until EOF, a read error, Ctrl-D on an
// empty line, or the `exit` command.
func (it *Interpreter) Serve(ctx context.Context) error {
	if err := it.tarpit.Throttle(ctx, it.clock); err != nil {
		return nil
	}
	io.WriteString(it.ch, it.session.Prompt())

	var line []byte
	buf := make([]byte, 1)

	for {
		n, err := it.ch.Read(buf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return trace.Wrap(err)
		}
		if n == 0 {
			continue
		}

		b := buf[0]
		switch b {
		case '\r', '\n':
			io.WriteString(it.ch, "\r\n")
			text := string(line)
			line = line[:0]

			exit, err := it.handleLine(ctx, text)
			if err != nil {
				return trace.Wrap(err)
			}
			if exit {
				return nil
			}
			io.WriteString(it.ch, it.session.Prompt())

		case bsASCII, delASCII:
			if len(line) > 0 {
				line = line[:len(line)-1]
				io.WriteString(it.ch, "\b \b")
			}

		case ctrlC:
			io.WriteString(it.ch, "^C\r\n")
			line = line[:0]
			io.WriteString(it.ch, it.session.Prompt())

		case ctrlD:
			if len(line) == 0 {
				return nil
			}

		default:
			line = append(line, b)
			it.ch.Write(buf)
		}
	}
}

// handleLine implements the four steps of spec.md §4.2: emit Command,
// tokenize, resolve against the command table, execute.
func (it *Interpreter) handleLine(ctx context.Context, text string) (exit bool, err error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false, nil
	}

	if err := it.tarpit.Throttle(ctx, it.clock); err != nil {
		return true, nil
	}

	it.sink.SendCommand(events.Command{AuthID: it.authID, Command: text})
	it.session.History = append(it.session.History, text)

	tokens, tokErr := Tokenize(trimmed)
	if tokErr != nil || len(tokens) == 0 {
		return false, nil
	}

	var out bytes.Buffer
	dispatchErr := Dispatch(it.session, tokens, &out)
	it.ch.Write(crlf(out.Bytes()))

	if dispatchErr == errExitShell {
		return true, nil
	}
	return false, nil
}

// crlf rewrites bare \n into \r\n for a raw terminal channel.
func crlf(b []byte) []byte {
	return bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))
}
