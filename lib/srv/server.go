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

// Package srv implements the Session Controller (SC): the per-TCP-
// connection coordinator that drives the SSH handshake, renders the
// authentication verdict, and multiplexes channels to the shell
// interpreter or the SFTP subsystem.
package srv

import (
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/gravitational/trace"

	"github.com/coldwatch/sshtrap/lib/events"
	"github.com/coldwatch/sshtrap/lib/intel"
	"github.com/coldwatch/sshtrap/lib/policy"
	"github.com/coldwatch/sshtrap/lib/shell"
)

const (
	handshakeTimeout = 30 * time.Second
	idleTimeout      = 10 * time.Minute
	maxAuthTries     = 6
	iicSoftDeadline  = 2 * time.Second
)

// Config configures a Server.
type Config struct {
	// Addrs is the set of addresses the Server listens on. Left empty, it
	// defaults to both the IPv4 and IPv6 wildcard addresses, so a
	// dual-stack host binds both families.
	Addrs    []string
	HostKeys []ssh.Signer
	Policy   policy.Policy
	Pipeline *events.Pipeline
	Intel    *intel.Manager
	BaseFS   *shell.FS
	Clock    clockwork.Clock
}

func (c *Config) checkAndSetDefaults() error {
	if len(c.Addrs) == 0 {
		c.Addrs = []string{"0.0.0.0:2222", "[::]:2222"}
	}
	if len(c.HostKeys) == 0 {
		return trace.BadParameter("srv.Config: at least one host key is required")
	}
	if c.Pipeline == nil {
		return trace.BadParameter("srv.Config: Pipeline is required")
	}
	if c.BaseFS == nil {
		return trace.BadParameter("srv.Config: BaseFS is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Intel == nil {
		c.Intel = intel.NewManager(nil, nil)
	}
	return nil
}

// Server accepts TCP connections and drives each one through the SSH
// handshake, authentication, and channel-multiplexing state machine
// described in spec.md §4.1.
type Server struct {
	cfg Config
	log *log.Entry

	listeners []net.Listener

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New constructs a Server. ListenAndServe (or Serve) must be called to
// begin accepting connections.
func New(cfg Config) (*Server, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := registerPrometheusCollectors(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Server{
		cfg: cfg,
		log: log.WithField(trace.Component, "srv"),
	}, nil
}

// ListenAndServe binds every address in cfg.Addrs — by default the IPv4
// and IPv6 wildcards, so a dual-stack host listens on both families — and
// serves all of them until Close is called.
func (s *Server) ListenAndServe() error {
	listeners := make([]net.Listener, 0, len(s.cfg.Addrs))
	for _, addr := range s.cfg.Addrs {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, opened := range listeners {
				opened.Close()
			}
			return trace.Wrap(err)
		}
		listeners = append(listeners, ln)
	}
	return s.Serve(listeners...)
}

// Serve accepts connections on every listener in lns until Close is
// called, running one accept loop per listener concurrently.
func (s *Server) Serve(lns ...net.Listener) error {
	s.mu.Lock()
	s.listeners = lns
	s.mu.Unlock()

	group := new(errgroup.Group)
	for _, ln := range lns {
		ln := ln
		group.Go(func() error {
			return s.acceptLoop(ln)
		})
	}
	return trace.Wrap(group.Wait())
}

func (s *Server) acceptLoop(ln net.Listener) error {
	s.log.WithField("addr", ln.Addr().String()).Info("session controller listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				s.wg.Wait()
				return nil
			}
			s.log.WithError(err).Warn("accept failed")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Close stops accepting new connections on every listener. In-flight
// connections are left to finish on their own.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closing = true
	listeners := s.listeners
	s.mu.Unlock()

	var errs []error
	for _, ln := range listeners {
		if err := ln.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return trace.Wrap(errs[0])
	}
	return nil
}
