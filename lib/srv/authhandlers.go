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

package srv

import (
	"context"
	"net"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/gravitational/trace"

	"github.com/coldwatch/sshtrap/lib/events"
	"github.com/coldwatch/sshtrap/lib/intel"
	"github.com/coldwatch/sshtrap/lib/policy"
)

var (
	acceptedAuthCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sshtrap_auth_accepted_total",
		Help: "Number of authentication attempts the policy accepted.",
	})
	rejectedAuthCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sshtrap_auth_rejected_total",
		Help: "Number of authentication attempts the policy rejected.",
	})

	prometheusCollectors = []prometheus.Collector{acceptedAuthCount, rejectedAuthCount}
)

// errPolicyDeny is returned from every SSH auth callback when the
// connection's policy is reject-all. Its text is never shown to the
// peer — x/crypto/ssh only reports that authentication failed.
var errPolicyDeny = trace.AccessDenied("authentication rejected by policy")

// permsAuthIDKey is the ssh.Permissions.Extensions key AuthHandlers uses
// to smuggle the accepted Auth row's id out of a callback and into the
// channel-handling code that runs after the handshake completes.
const permsAuthIDKey = "sshtrap-auth-id"

// AuthHandlerConfig configures an AuthHandlers instance for one
// connection. A fresh value is built per accepted TCP connection so the
// IIC decoration snapshot and per-connection logging fields stay scoped
// to it.
type AuthHandlerConfig struct {
	Policy   policy.Policy
	Pipeline *events.Pipeline
	Peer     net.IP

	// Decoration is the IP intelligence snapshot SC fetched at connection
	// accept. It may still be empty if IIC had not responded by the time
	// an Auth event needs to be sent — spec.md §4.5 allows that.
	Decoration intel.Decoration
}

func (c *AuthHandlerConfig) checkAndSetDefaults() error {
	if c.Pipeline == nil {
		return trace.BadParameter("AuthHandlerConfig: Pipeline is required")
	}
	if c.Peer == nil {
		return trace.BadParameter("AuthHandlerConfig: Peer is required")
	}
	return nil
}

// AuthHandlers implements the SSH server auth callbacks x/crypto/ssh
// dispatches for every userauth_request, regardless of method, per
// spec.md §4.1.
type AuthHandlers struct {
	log *log.Entry
	c   AuthHandlerConfig
}

// NewAuthHandlers builds the callback set for one connection.
func NewAuthHandlers(cfg AuthHandlerConfig) (*AuthHandlers, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &AuthHandlers{
		c: cfg,
		log: log.WithField(trace.Component, "srv").WithField(
			trace.ComponentFields, log.Fields{"remote": cfg.Peer.String()},
		),
	}, nil
}

// PasswordCallback handles password authentication attempts.
func (h *AuthHandlers) PasswordCallback(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	return h.decide(conn, events.AuthPassword, string(password), nil)
}

// PublicKeyCallback handles public-key authentication attempts. It never
// actually validates the key against anything — every presented key is
// recorded and judged purely by policy.
func (h *AuthHandlers) PublicKeyCallback(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	return h.decide(conn, events.AuthPublicKey, "", key.Marshal())
}

// KeyboardInteractiveCallback handles keyboard-interactive authentication.
// It issues no challenge; whatever the client sends back (if anything) is
// not required, since the decision does not depend on credential content.
func (h *AuthHandlers) KeyboardInteractiveCallback(conn ssh.ConnMetadata, _ ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
	return h.decide(conn, events.AuthKeyboardInteractive, "", nil)
}

// NoClientAuthCallback handles the "none" auth method some clients probe
// with before offering real credentials.
func (h *AuthHandlers) NoClientAuthCallback(conn ssh.ConnMetadata) (*ssh.Permissions, error) {
	return h.decide(conn, events.AuthNone, "", nil)
}

// decide is the common path for every auth method: build and send the
// Auth event, wait for PP's acknowledgement, and render the verdict.
func (h *AuthHandlers) decide(conn ssh.ConnMetadata, authType events.AuthType, password string, pubKey []byte) (*ssh.Permissions, error) {
	ctx := context.Background()
	accepted := h.c.Policy.Accepts()

	auth := events.Auth{
		IP:         h.c.Peer,
		Username:   conn.User(),
		AuthType:   authType,
		Password:   password,
		PublicKey:  pubKey,
		Successful: accepted,
	}
	if raw := h.c.Decoration.AbuseIPDB; raw != nil {
		auth.AbuseIPDBSnapshot = raw
	}
	if raw := h.c.Decoration.IPAPI; raw != nil {
		auth.IPAPISnapshot = raw
	}

	id, err := h.c.Pipeline.Send(ctx, auth)
	if err != nil {
		h.log.WithError(err).Warn("failed to persist auth event")
		return nil, trace.Wrap(err)
	}

	if !accepted {
		rejectedAuthCount.Inc()
		h.log.WithField("user", conn.User()).Debug("auth attempt rejected by policy")
		return nil, errPolicyDeny
	}

	acceptedAuthCount.Inc()
	h.log.WithField("user", conn.User()).Debug("auth attempt accepted by policy")

	return &ssh.Permissions{
		Extensions: map[string]string{
			permsAuthIDKey: id.String(),
		},
	}, nil
}

// authIDFromPermissions recovers the accepted Auth row's id that decide
// stashed into ssh.Permissions.Extensions.
func authIDFromPermissions(perms *ssh.Permissions) (uuid.UUID, error) {
	if perms == nil {
		return uuid.Nil, trace.BadParameter("no permissions on accepted connection")
	}
	raw, ok := perms.Extensions[permsAuthIDKey]
	if !ok {
		return uuid.Nil, trace.BadParameter("no auth id on accepted connection")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, trace.Wrap(err)
	}
	return id, nil
}

func registerPrometheusCollectors() error {
	for _, c := range prometheusCollectors {
		if err := prometheus.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return trace.Wrap(err)
		}
	}
	return nil
}
