package events

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// fakePool is a minimal dbPool that records every statement it executes, in
// order, without touching a real database.
type fakePool struct {
	mu    sync.Mutex
	execs []string
}

func (f *fakePool) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag("INSERT 0 1"), nil
}

func (f *fakePool) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return fakeRow{}
}

func (f *fakePool) Close() {}

func (f *fakePool) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.execs))
	copy(out, f.execs)
	return out
}

type fakeRow struct{}

func (fakeRow) Scan(dest ...any) error {
	return pgx.ErrNoRows
}

func newTestPipeline(t *testing.T, pool *fakePool, clock clockwork.Clock) *Pipeline {
	t.Helper()
	p, err := New(Config{DB: pool, Clock: clock})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	p.Start(ctx)
	return p
}

func TestAuthIsAcknowledgedBeforeCommandCanReferenceIt(t *testing.T) {
	pool := &fakePool{}
	p := newTestPipeline(t, pool, clockwork.NewRealClock())

	authID, err := p.Send(context.Background(), Auth{
		IP:         net.ParseIP("10.0.0.1"),
		Username:   "root",
		AuthType:   AuthPassword,
		Password:   "toor",
		Successful: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, authID)

	p.SendCommand(Command{AuthID: authID, Command: "whoami"})

	require.Eventually(t, func() bool {
		calls := pool.calls()
		return len(calls) >= 2
	}, time.Second, time.Millisecond)

	calls := pool.calls()
	require.Contains(t, calls[0], "INSERT INTO auth")
	require.Contains(t, calls[1], "INSERT INTO commands")
}

func TestSendDetachedDoesNotBlock(t *testing.T) {
	pool := &fakePool{}
	p := newTestPipeline(t, pool, clockwork.NewRealClock())

	start := time.Now()
	p.SendSession(Session{DurationSeconds: 5})
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

// blockingPool's Exec blocks until unblock is closed, simulating a stalled
// database so the actor loop itself is stuck processing one envelope.
type blockingPool struct {
	fakePool
	unblock chan struct{}
}

func (b *blockingPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	<-b.unblock
	return b.fakePool.Exec(ctx, sql, args...)
}

func TestSendDetachedNeverBlocksOnStalledActor(t *testing.T) {
	pool := &blockingPool{unblock: make(chan struct{})}
	p := newTestPipeline(t, pool, clockwork.NewRealClock())

	// Wedge the actor on a single in-flight dispatch.
	p.SendConnTrack(ConnTrack{IP: net.ParseIP("1.1.1.1")})

	start := time.Now()
	const n = 5000
	for i := 0; i < n; i++ {
		p.SendSession(Session{DurationSeconds: int64(i)})
	}
	require.Less(t, time.Since(start), time.Second)

	close(pool.unblock)

	require.Eventually(t, func() bool {
		return len(pool.calls()) >= n+1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestCloseDrainsQueuedWork(t *testing.T) {
	pool := &fakePool{}
	p, err := New(Config{DB: pool, Clock: clockwork.NewRealClock()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	p.SendConnTrack(ConnTrack{IP: net.ParseIP("1.2.3.4")})
	p.Close()
	cancel()

	require.NotEmpty(t, pool.calls())
}
