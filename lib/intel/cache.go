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

// Package intel implements the two independent IP-intelligence lookup
// pipelines (AbuseIPDB, IP-API), each backed by an in-memory TTL
// memoization layer in front of a table-backed cache owned by the
// persistence pipeline.
package intel

import (
	"context"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gravitational/trace"

	"github.com/coldwatch/sshtrap/lib/events"
)

// TTL is how long a resolved entry, in memory or in the table cache, is
// considered fresh.
const TTL = 24 * time.Hour

// upstreamTimeout bounds every outbound HTTP round-trip to an intelligence
// API.
const upstreamTimeout = 5 * time.Second

// maxRetryAfter bounds how long a 429 response may tell the pipeline to
// back off.
const maxRetryAfter = 60 * time.Second

// CacheStore is the subset of the persistence pipeline IIC depends on. It
// is satisfied by *events.Pipeline; IIC never opens its own database
// connection, per spec.md §5.
type CacheStore interface {
	SendCacheFill(fill events.CacheFill)
	LookupAbuseCache(ctx context.Context, ip string) (*events.AbuseCacheRow, bool, error)
	LookupIPAPICache(ctx context.Context, ip string) (*events.IPAPICacheRow, bool, error)
}

// Manager owns both intelligence pipelines and gives the session
// controller a single, soft-deadline-bounded call to decorate an Auth row.
type Manager struct {
	Abuse *AbuseIPDB
	IPAPI *IPAPI
	log   *log.Entry
}

// NewManager wires both pipelines. Either may be nil, in which case that
// half of the snapshot is always "unknown" (used when an API key or flag
// disables a pipeline).
func NewManager(abuse *AbuseIPDB, ipapi *IPAPI) *Manager {
	return &Manager{
		Abuse: abuse,
		IPAPI: ipapi,
		log:   log.WithField(trace.Component, "intel"),
	}
}

// Decoration is what the session controller stamps onto an Auth event.
type Decoration struct {
	AbuseIPDB []byte // raw JSON, nil if nothing was ready in time
	IPAPI     []byte
}

// Decorate starts both lookups (they run to completion regardless of
// outcome, per spec.md §5 — a connection drop must not cancel a fetch that
// will usefully warm the cache for next time) and returns whatever
// completed within softDeadline.
func (m *Manager) Decorate(ctx context.Context, ip net.IP, softDeadline time.Duration) Decoration {
	type result struct {
		which string
		raw   []byte
	}

	resultC := make(chan result, 2)
	pending := 0

	// detachedCtx intentionally ignores ctx's cancellation: the caller's
	// connection may drop, but the fetch should still warm the cache.
	detachedCtx := context.Background()

	if m.Abuse != nil {
		pending++
		go func() {
			snap, err := m.Abuse.Lookup(detachedCtx, ip.String())
			if err != nil {
				m.log.WithError(err).Debug("abuseipdb lookup failed")
				resultC <- result{which: "abuse"}
				return
			}
			resultC <- result{which: "abuse", raw: snap.Raw}
		}()
	}
	if m.IPAPI != nil {
		pending++
		go func() {
			snap, err := m.IPAPI.Lookup(detachedCtx, ip.String())
			if err != nil {
				m.log.WithError(err).Debug("ipapi lookup failed")
				resultC <- result{which: "ipapi"}
				return
			}
			resultC <- result{which: "ipapi", raw: snap.Raw}
		}()
	}

	var out Decoration
	deadline := time.NewTimer(softDeadline)
	defer deadline.Stop()

	for i := 0; i < pending; i++ {
		select {
		case r := <-resultC:
			switch r.which {
			case "abuse":
				out.AbuseIPDB = r.raw
			case "ipapi":
				out.IPAPI = r.raw
			}
		case <-deadline.C:
			return out
		}
	}
	return out
}

func netIP(s string) net.IP {
	return net.ParseIP(s)
}

// fallbackSnapshot implements spec.md §4.5 step 6: every failure path in
// fetch degrades to the best-effort stale cache entry when one exists,
// and only to the unknown sentinel when it doesn't.
func fallbackSnapshot(stale *snapshot) *snapshot {
	if stale != nil {
		stale.Stale = true
		return stale
	}
	return unknownSnapshot()
}

// snapshot is the normalized shape both pipelines produce, whether the
// data came from memory, the table cache, or a fresh upstream call.
type snapshot struct {
	FetchedAt time.Time
	Raw       []byte
	Fields    map[string]any
	Stale     bool
	Unknown   bool
}
