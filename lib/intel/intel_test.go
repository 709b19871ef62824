package intel

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/coldwatch/sshtrap/lib/events"
)

type fakeStore struct {
	fills []events.CacheFill

	abuseRow *events.AbuseCacheRow
	ipapiRow *events.IPAPICacheRow
}

func (f *fakeStore) SendCacheFill(fill events.CacheFill) {
	f.fills = append(f.fills, fill)
}

func (f *fakeStore) LookupAbuseCache(context.Context, string) (*events.AbuseCacheRow, bool, error) {
	if f.abuseRow == nil {
		return nil, false, nil
	}
	return f.abuseRow, true, nil
}

func (f *fakeStore) LookupIPAPICache(context.Context, string) (*events.IPAPICacheRow, bool, error) {
	if f.ipapiRow == nil {
		return nil, false, nil
	}
	return f.ipapiRow, true, nil
}

func TestAbuseIPDBSingleFlightCollapsesConcurrentLookups(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(`{"data":{"ipAddress":"1.2.3.4","abuseConfidenceScore":10,"countryCode":"US","isTor":false,"isWhitelisted":false,"totalReports":2}}`))
	}))
	defer srv.Close()

	pipeline, err := NewAbuseIPDB(AbuseIPDBConfig{
		APIKey:  "test-key",
		Store:   &fakeStore{},
		Clock:   clockwork.NewRealClock(),
		BaseURL: srv.URL,
	})
	require.NoError(t, err)

	const n = 10
	results := make(chan *snapshot, n)
	for i := 0; i < n; i++ {
		go func() {
			snap, err := pipeline.Lookup(context.Background(), "1.2.3.4")
			require.NoError(t, err)
			results <- snap
		}()
	}
	for i := 0; i < n; i++ {
		<-results
	}

	require.LessOrEqual(t, atomic.LoadInt32(&hits), int32(2))
}

func TestAbuseIPDBMemoCacheAvoidsSecondCall(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"data":{"ipAddress":"5.6.7.8","abuseConfidenceScore":0,"countryCode":"DE","isTor":false,"isWhitelisted":true,"totalReports":0}}`))
	}))
	defer srv.Close()

	pipeline, err := NewAbuseIPDB(AbuseIPDBConfig{
		APIKey:  "test-key",
		Store:   &fakeStore{},
		Clock:   clockwork.NewRealClock(),
		BaseURL: srv.URL,
	})
	require.NoError(t, err)

	_, err = pipeline.Lookup(context.Background(), "5.6.7.8")
	require.NoError(t, err)
	_, err = pipeline.Lookup(context.Background(), "5.6.7.8")
	require.NoError(t, err)

	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestIPAPIUnknownOnUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pipeline, err := NewIPAPI(IPAPIConfig{
		Store:   &fakeStore{},
		Clock:   clockwork.NewRealClock(),
		BaseURL: srv.URL,
	})
	require.NoError(t, err)

	snap, err := pipeline.Lookup(context.Background(), "9.9.9.9")
	require.NoError(t, err)
	require.True(t, snap.Unknown)
}

func TestAbuseIPDBFallsBackToStaleCacheRowOnUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	store := &fakeStore{
		abuseRow: &events.AbuseCacheRow{
			IP:                   net.ParseIP("4.3.2.1"),
			Timestamp:            clock.Now().UTC().Add(-2 * TTL),
			AbuseConfidenceScore: 77,
			CountryCode:          "RU",
			TotalReports:         9,
			ResponseData:         []byte(`{"stale":true}`),
		},
	}

	pipeline, err := NewAbuseIPDB(AbuseIPDBConfig{
		APIKey:  "test-key",
		Store:   store,
		Clock:   clock,
		BaseURL: srv.URL,
	})
	require.NoError(t, err)

	snap, err := pipeline.Lookup(context.Background(), "4.3.2.1")
	require.NoError(t, err)
	require.False(t, snap.Unknown)
	require.True(t, snap.Stale)
	require.Equal(t, 77, snap.Fields["abuse_confidence_score"])
}

func TestIPAPIFallsBackToStaleCacheRowOnUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	store := &fakeStore{
		ipapiRow: &events.IPAPICacheRow{
			IP:           net.ParseIP("8.1.2.3"),
			Timestamp:    clock.Now().UTC().Add(-2 * TTL),
			Country:      "Germany",
			CountryCode:  "DE",
			City:         "Berlin",
			ResponseData: []byte(`{"stale":true}`),
		},
	}

	pipeline, err := NewIPAPI(IPAPIConfig{
		Store:   store,
		Clock:   clock,
		BaseURL: srv.URL,
	})
	require.NoError(t, err)

	snap, err := pipeline.Lookup(context.Background(), "8.1.2.3")
	require.NoError(t, err)
	require.False(t, snap.Unknown)
	require.True(t, snap.Stale)
	require.Equal(t, "Berlin", snap.Fields["city"])
}

func TestManagerDecorateHonorsSoftDeadline(t *testing.T) {
	blockC := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blockC
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	abuse, err := NewAbuseIPDB(AbuseIPDBConfig{APIKey: "k", Store: &fakeStore{}, Clock: clockwork.NewRealClock(), BaseURL: srv.URL})
	require.NoError(t, err)

	mgr := NewManager(abuse, nil)

	start := time.Now()
	dec := mgr.Decorate(context.Background(), net.ParseIP("1.1.1.1"), 50*time.Millisecond)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Nil(t, dec.AbuseIPDB)

	close(blockC)
}
