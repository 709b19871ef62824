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

package intel

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/gravitational/ttlmap"

	"github.com/coldwatch/sshtrap/lib/events"
)

const abuseIPDBBaseURL = "https://api.abuseipdb.com"

// abuseIPDBResponse mirrors the "data" object of AbuseIPDB's v2 /check
// response.
type abuseIPDBResponse struct {
	Data struct {
		IPAddress            string `json:"ipAddress"`
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		CountryCode          string `json:"countryCode"`
		IsTor                bool   `json:"isTor"`
		IsWhitelisted        bool   `json:"isWhitelisted"`
		TotalReports         int    `json:"totalReports"`
	} `json:"data"`
}

// apiKeyTransport injects the AbuseIPDB "Key" header on every request.
type apiKeyTransport struct {
	key  string
	next http.RoundTripper
}

func (t apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Key", t.key)
	req.Header.Set("Accept", "application/json")
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	return next.RoundTrip(req)
}

// AbuseIPDBConfig configures the AbuseIPDB pipeline.
type AbuseIPDBConfig struct {
	APIKey string
	Store  CacheStore
	Clock  clockwork.Clock
	// MemCapacity bounds the in-memory TTL map's entry count.
	MemCapacity int
	// BaseURL overrides the upstream base URL; tests point this at an
	// httptest.Server instead of the real AbuseIPDB API.
	BaseURL string
}

func (c *AbuseIPDBConfig) CheckAndSetDefaults() error {
	if c.APIKey == "" {
		return trace.BadParameter("intel.AbuseIPDBConfig: APIKey is required")
	}
	if c.Store == nil {
		return trace.BadParameter("intel.AbuseIPDBConfig: Store is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.MemCapacity <= 0 {
		c.MemCapacity = 10_000
	}
	if c.BaseURL == "" {
		c.BaseURL = abuseIPDBBaseURL
	}
	return nil
}

// AbuseIPDB is the AbuseIPDB half of the IIC.
type AbuseIPDB struct {
	cfg     AbuseIPDBConfig
	client  *roundtrip.Client
	mem     *ttlmap.TTLMap
	group   singleflight.Group
	limiter *rate.Limiter

	backoffMu sync.Mutex
	backoff   map[string]time.Time
}

// NewAbuseIPDB constructs the pipeline. It never blocks or performs I/O.
func NewAbuseIPDB(cfg AbuseIPDBConfig) (*AbuseIPDB, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	mem, err := ttlmap.New(cfg.MemCapacity)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	client, err := roundtrip.NewClient(cfg.BaseURL, "", roundtrip.HTTPClient(&http.Client{
		Timeout:   upstreamTimeout,
		Transport: apiKeyTransport{key: cfg.APIKey},
	}))
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &AbuseIPDB{
		cfg:     cfg,
		client:  client,
		mem:     mem,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		backoff: make(map[string]time.Time),
	}, nil
}

// Lookup implements the five-step protocol from spec.md §4.5.
func (a *AbuseIPDB) Lookup(ctx context.Context, ip string) (*snapshot, error) {
	if v, ok := a.mem.Get(ip); ok {
		return v.(*snapshot), nil
	}

	var stale *snapshot
	if row, ok, err := a.cfg.Store.LookupAbuseCache(ctx, ip); err == nil && ok {
		snap := abuseCacheRowToSnapshot(row)
		if a.cfg.Clock.Now().UTC().Sub(row.Timestamp) < TTL {
			a.mem.Set(ip, snap, TTL)
			return snap, nil
		}
		// Stale, but still the best-effort answer fetch should fall back
		// to on any failure, per spec.md §4.5 step 6.
		stale = snap
	}

	v, err, _ := a.group.Do(ip, func() (any, error) {
		return a.fetch(ctx, ip, stale)
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return v.(*snapshot), nil
}

func (a *AbuseIPDB) inBackoff(ip string) (time.Time, bool) {
	a.backoffMu.Lock()
	defer a.backoffMu.Unlock()
	until, ok := a.backoff[ip]
	if !ok {
		return time.Time{}, false
	}
	if a.cfg.Clock.Now().UTC().After(until) {
		delete(a.backoff, ip)
		return time.Time{}, false
	}
	return until, true
}

func (a *AbuseIPDB) setBackoff(ip string, until time.Time) {
	a.backoffMu.Lock()
	defer a.backoffMu.Unlock()
	a.backoff[ip] = until
}

func (a *AbuseIPDB) fetch(ctx context.Context, ip string, stale *snapshot) (*snapshot, error) {
	if _, blocked := a.inBackoff(ip); blocked {
		return fallbackSnapshot(stale), nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return fallbackSnapshot(stale), nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	resp, err := a.client.Get(fetchCtx, a.client.Endpoint("api", "v2", "check"), url.Values{
		"ipAddress":    []string{ip},
		"maxAgeInDays": []string{"90"},
	})
	if err != nil {
		// roundtrip returns an error only for transport failures and
		// timeouts. Those, like every non-200 status below, degrade to the
		// stale entry, or "unknown" if there isn't one; a 429 additionally
		// starts a backoff for this IP.
		if trace.IsLimitExceeded(err) {
			a.applyRetryAfter(ip, nil)
		}
		return fallbackSnapshot(stale), nil
	}
	if resp.Code() == http.StatusTooManyRequests {
		a.applyRetryAfter(ip, resp.Headers())
		return fallbackSnapshot(stale), nil
	}
	if resp.Code() != http.StatusOK {
		return fallbackSnapshot(stale), nil
	}

	var parsed abuseIPDBResponse
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(resp.Bytes(), &parsed); err != nil {
		return fallbackSnapshot(stale), nil
	}

	fields := map[string]any{
		"abuse_confidence_score": parsed.Data.AbuseConfidenceScore,
		"country_code":           parsed.Data.CountryCode,
		"is_tor":                 parsed.Data.IsTor,
		"is_whitelisted":         parsed.Data.IsWhitelisted,
		"total_reports":          parsed.Data.TotalReports,
	}

	snap := &snapshot{
		FetchedAt: a.cfg.Clock.Now().UTC(),
		Raw:       resp.Bytes(),
		Fields:    fields,
	}

	a.mem.Set(ip, snap, TTL)
	a.cfg.Store.SendCacheFill(events.CacheFill{
		Kind:      events.CacheAbuseIPDB,
		IP:        netIP(ip),
		Timestamp: snap.FetchedAt,
		Fields:    fields,
		Raw:       resp.Bytes(),
	})

	return snap, nil
}

func (a *AbuseIPDB) applyRetryAfter(ip string, headers http.Header) {
	wait := maxRetryAfter
	if headers != nil {
		if h := headers.Get("Retry-After"); h != "" {
			if secs, err := strconv.Atoi(h); err == nil {
				d := time.Duration(secs) * time.Second
				if d < maxRetryAfter {
					wait = d
				}
			}
		}
	}
	a.setBackoff(ip, a.cfg.Clock.Now().UTC().Add(wait))
}

func unknownSnapshot() *snapshot {
	return &snapshot{Unknown: true}
}

func abuseCacheRowToSnapshot(row *events.AbuseCacheRow) *snapshot {
	return &snapshot{
		FetchedAt: row.Timestamp,
		Raw:       row.ResponseData,
		Fields: map[string]any{
			"abuse_confidence_score": row.AbuseConfidenceScore,
			"country_code":           row.CountryCode,
			"is_tor":                 row.IsTor,
			"is_whitelisted":         row.IsWhitelisted,
			"total_reports":          row.TotalReports,
		},
	}
}
