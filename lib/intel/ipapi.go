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
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	jsoniter "github.com/json-iterator/go"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"

	"github.com/coldwatch/sshtrap/lib/events"
)

const ipapiBaseURL = "http://ip-api.com"

type ipapiResponse struct {
	Status      string  `json:"status"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"region"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Zip         string  `json:"zip"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
	AS          string  `json:"as"`
}

// IPAPIConfig configures the IP-API pipeline. Unlike AbuseIPDB, ip-api.com's
// free tier needs no API key.
type IPAPIConfig struct {
	Store       CacheStore
	Clock       clockwork.Clock
	MemCapacity int
	// BaseURL overrides the upstream base URL; tests point this at an
	// httptest.Server instead of the real ip-api.com API.
	BaseURL string
}

func (c *IPAPIConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("intel.IPAPIConfig: Store is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.MemCapacity <= 0 {
		c.MemCapacity = 10_000
	}
	if c.BaseURL == "" {
		c.BaseURL = ipapiBaseURL
	}
	return nil
}

// memEntry pairs a cached snapshot with when it was stored, since
// golang-lru has no built-in expiry.
type memEntry struct {
	snap      *snapshot
	insertedAt time.Time
}

// IPAPI is the IP-API half of the IIC. It deliberately uses a different
// in-memory cache library than AbuseIPDB, since spec.md §4.5 describes the
// two pipelines as independent.
type IPAPI struct {
	cfg     IPAPIConfig
	client  *roundtrip.Client
	mem     *lru.Cache
	group   singleflight.Group
	limiter *rate.Limiter

	backoffMu sync.Mutex
	backoff   map[string]time.Time
}

// NewIPAPI constructs the pipeline.
func NewIPAPI(cfg IPAPIConfig) (*IPAPI, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	mem, err := lru.New(cfg.MemCapacity)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	client, err := roundtrip.NewClient(cfg.BaseURL, "", roundtrip.HTTPClient(&http.Client{
		Timeout: upstreamTimeout,
	}))
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &IPAPI{
		cfg:     cfg,
		client:  client,
		mem:     mem,
		limiter: rate.NewLimiter(rate.Every(time.Second), 10),
		backoff: make(map[string]time.Time),
	}, nil
}

// Lookup implements the same five-step protocol AbuseIPDB.Lookup does.
func (i *IPAPI) Lookup(ctx context.Context, ip string) (*snapshot, error) {
	if v, ok := i.mem.Get(ip); ok {
		entry := v.(memEntry)
		if i.cfg.Clock.Now().UTC().Sub(entry.insertedAt) < TTL {
			return entry.snap, nil
		}
		i.mem.Remove(ip)
	}

	var stale *snapshot
	if row, ok, err := i.cfg.Store.LookupIPAPICache(ctx, ip); err == nil && ok {
		snap := ipapiCacheRowToSnapshot(row)
		if i.cfg.Clock.Now().UTC().Sub(row.Timestamp) < TTL {
			i.mem.Add(ip, memEntry{snap: snap, insertedAt: i.cfg.Clock.Now().UTC()})
			return snap, nil
		}
		// Stale, but still the best-effort answer fetch should fall back
		// to on any failure, per spec.md §4.5 step 6.
		stale = snap
	}

	v, err, _ := i.group.Do(ip, func() (any, error) {
		return i.fetch(ctx, ip, stale)
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return v.(*snapshot), nil
}

func (i *IPAPI) inBackoff(ip string) bool {
	i.backoffMu.Lock()
	defer i.backoffMu.Unlock()
	until, ok := i.backoff[ip]
	if !ok {
		return false
	}
	if i.cfg.Clock.Now().UTC().After(until) {
		delete(i.backoff, ip)
		return false
	}
	return true
}

func (i *IPAPI) setBackoff(ip string) {
	i.backoffMu.Lock()
	defer i.backoffMu.Unlock()
	i.backoff[ip] = i.cfg.Clock.Now().UTC().Add(maxRetryAfter)
}

func (i *IPAPI) fetch(ctx context.Context, ip string, stale *snapshot) (*snapshot, error) {
	if i.inBackoff(ip) {
		return fallbackSnapshot(stale), nil
	}
	if err := i.limiter.Wait(ctx); err != nil {
		return fallbackSnapshot(stale), nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	resp, err := i.client.Get(fetchCtx, i.client.Endpoint("json", ip), url.Values{})
	if err != nil {
		if trace.IsLimitExceeded(err) {
			i.setBackoff(ip)
		}
		return fallbackSnapshot(stale), nil
	}
	if resp.Code() == http.StatusTooManyRequests {
		i.setBackoff(ip)
		return fallbackSnapshot(stale), nil
	}
	if resp.Code() != http.StatusOK {
		return fallbackSnapshot(stale), nil
	}

	var parsed ipapiResponse
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(resp.Bytes(), &parsed); err != nil {
		return fallbackSnapshot(stale), nil
	}
	if parsed.Status == "fail" {
		return fallbackSnapshot(stale), nil
	}

	fields := map[string]any{
		"country":      parsed.Country,
		"country_code": parsed.CountryCode,
		"region":       parsed.Region,
		"region_name":  parsed.RegionName,
		"city":         parsed.City,
		"zip":          parsed.Zip,
		"lat":          parsed.Lat,
		"lon":          parsed.Lon,
		"timezone":     parsed.Timezone,
		"isp":          parsed.ISP,
		"org":          parsed.Org,
		"as_info":      parsed.AS,
	}

	snap := &snapshot{
		FetchedAt: i.cfg.Clock.Now().UTC(),
		Raw:       resp.Bytes(),
		Fields:    fields,
	}

	i.mem.Add(ip, memEntry{snap: snap, insertedAt: snap.FetchedAt})
	i.cfg.Store.SendCacheFill(events.CacheFill{
		Kind:      events.CacheIPAPI,
		IP:        netIP(ip),
		Timestamp: snap.FetchedAt,
		Fields:    fields,
		Raw:       resp.Bytes(),
	})

	return snap, nil
}

func ipapiCacheRowToSnapshot(row *events.IPAPICacheRow) *snapshot {
	return &snapshot{
		FetchedAt: row.Timestamp,
		Raw:       row.ResponseData,
		Fields: map[string]any{
			"country":      row.Country,
			"country_code": row.CountryCode,
			"region":       row.Region,
			"region_name":  row.RegionName,
			"city":         row.City,
			"zip":          row.Zip,
			"lat":          row.Lat,
			"lon":          row.Lon,
			"timezone":     row.Timezone,
			"isp":          row.ISP,
			"org":          row.Org,
			"as_info":      row.AS,
		},
	}
}
