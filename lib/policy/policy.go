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

// Package policy holds the process-wide runtime policy snapshot: the
// host-key set, the simulated filesystem, and this struct are, per
// spec.md §9, initialized once before the listener accepts and then
// treated as immutable for the lifetime of the process.
package policy

import "github.com/coldwatch/sshtrap/lib/tarpit"

// Policy is the resolved runtime behavior every connection is judged
// against. It carries no secrets itself — API keys live in the
// components that use them — only the decisions that shape SC's state
// machine.
type Policy struct {
	// RejectAll, when true, fails every authentication attempt
	// ("Logging mode" in the glossary). When false, every attempt is
	// accepted ("Honeypot mode").
	RejectAll bool

	// SFTPEnabled controls whether a subsystem=sftp channel request is
	// honored or rejected outright.
	SFTPEnabled bool

	// Banner is the SSH pre-authentication banner string shown to the
	// peer before the authentication exchange.
	Banner string

	// Hostname is the fixed string SI substitutes into its prompt and
	// into `hostname`/`uname -a` output.
	Hostname string

	// Tarpit configures the bounded random delay applied to outbound
	// traffic. Disabled tarpit.Config values are a no-op.
	Tarpit tarpit.Config
}

// DefaultPolicy returns honeypot-mode defaults: accept every
// authentication attempt, SFTP enabled, tarpit enabled with its default
// bounds.
func DefaultPolicy() Policy {
	return Policy{
		RejectAll:   false,
		SFTPEnabled: true,
		Banner:      "",
		Hostname:    "ubuntu",
		Tarpit:      tarpit.DefaultConfig(),
	}
}

// Accepts reports whether the policy allows an authentication attempt to
// succeed. It never inspects credential material — per spec.md §3 the
// decision is independent of what was actually presented.
func (p Policy) Accepts() bool {
	return !p.RejectAll
}
