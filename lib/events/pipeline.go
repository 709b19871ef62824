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

package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/trace"
)

// dbPool is the slice of *pgxpool.Pool the pipeline depends on. Narrowing
// it to an interface lets tests substitute a fake without standing up
// Postgres.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// kind tags an envelope with which handler should process it.
type kind int

const (
	kindAuth kind = iota
	kindCommand
	kindSession
	kindUploadedFile
	kindConnTrack
	kindCacheFill
	kindShutdown
)

// envelope is what actually travels over the pipeline's internal queue.
type envelope struct {
	kind    kind
	payload any
	reply   chan reply // nil for detached sends
}

type reply struct {
	id  uuid.UUID
	err error
}

// Config configures the persistence pipeline actor.
type Config struct {
	DB                dbPool
	Clock             clockwork.Clock
	CacheCleanup      time.Duration // how often to sweep expired cache rows
	CacheTTL          time.Duration // how old a cache row may be before it is swept
	QueueDepth        prometheus.Gauge
}

// CheckAndSetDefaults fills in defaults the way AuthHandlerConfig does.
func (c *Config) CheckAndSetDefaults() error {
	if c.DB == nil {
		return trace.BadParameter("events.Config: DB is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.CacheCleanup <= 0 {
		c.CacheCleanup = 24 * time.Hour
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	return nil
}

// detachedQueue is an unbounded, mutex-guarded FIFO for detached sends.
// spec.md §4.4 only allows a synchronous producer (Send/SendUploadedFile)
// to stall on backpressure; a detached producer (SendCommand/SendSession/
// SendConnTrack/SendCacheFill) must never block on a full buffer, so its
// envelopes never touch the bounded queue channel at all.
type detachedQueue struct {
	mu     sync.Mutex
	items  []envelope
	notify chan struct{}
}

func newDetachedQueue() *detachedQueue {
	return &detachedQueue{notify: make(chan struct{}, 1)}
}

func (q *detachedQueue) push(env envelope) {
	q.mu.Lock()
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain returns and clears everything currently queued.
func (q *detachedQueue) drain() []envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	items := q.items
	q.items = nil
	return items
}

func (q *detachedQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pipeline is the single long-lived actor that owns the database
// connection pool and serializes all mutations through it.
type Pipeline struct {
	cfg Config
	log *log.Entry

	queue    chan envelope
	detached *detachedQueue

	closeOnce sync.Once
	closeC    chan struct{}
	doneC     chan struct{}
}

// New constructs a Pipeline. Start must be called to begin processing.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	return &Pipeline{
		cfg:      cfg,
		log:      log.WithField(trace.Component, "events"),
		queue:    make(chan envelope, 4096),
		detached: newDetachedQueue(),
		closeC:   make(chan struct{}),
		doneC:    make(chan struct{}),
	}, nil
}

// Start runs the actor loop and the cache-cleanup ticker until ctx is
// cancelled or Close is called.
func (p *Pipeline) Start(ctx context.Context) {
	go p.run(ctx)
	go p.cleanupLoop(ctx)
}

// Close stops accepting new work and waits for the actor loop to drain.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		close(p.closeC)
	})
	<-p.doneC
	p.cfg.DB.Close()
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.doneC)
	for {
		if p.cfg.QueueDepth != nil {
			p.cfg.QueueDepth.Set(float64(len(p.queue) + p.detached.len()))
		}
		select {
		case env := <-p.queue:
			p.dispatch(ctx, env)
		case <-p.detached.notify:
			for _, env := range p.detached.drain() {
				p.dispatch(ctx, env)
			}
		case <-p.closeC:
			p.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

// drain flushes whatever is already queued before the actor exits; per
// spec unacknowledged in-flight producers are allowed to be abandoned, but
// anything already on the queue is processed.
func (p *Pipeline) drain(ctx context.Context) {
	for _, env := range p.detached.drain() {
		p.dispatch(ctx, env)
	}
	for {
		select {
		case env := <-p.queue:
			p.dispatch(ctx, env)
		default:
			return
		}
	}
}

func (p *Pipeline) dispatch(ctx context.Context, env envelope) {
	switch env.kind {
	case kindAuth:
		id, err := p.insertAuth(ctx, env.payload.(Auth))
		p.replyTo(env, id, err)
	case kindUploadedFile:
		id, err := p.insertUploadedFile(ctx, env.payload.(UploadedFile))
		p.replyTo(env, id, err)
	case kindCommand:
		if err := p.insertCommand(ctx, env.payload.(Command)); err != nil {
			p.log.WithError(err).Warn("failed to persist command")
		}
	case kindSession:
		if err := p.insertSession(ctx, env.payload.(Session)); err != nil {
			p.log.WithError(err).Warn("failed to persist session")
		}
	case kindConnTrack:
		if err := p.insertConnTrack(ctx, env.payload.(ConnTrack)); err != nil {
			p.log.WithError(err).Warn("failed to persist conn_track")
		}
	case kindCacheFill:
		if err := p.insertCacheFill(ctx, env.payload.(CacheFill)); err != nil {
			p.log.WithError(err).Warn("failed to persist cache fill")
		}
	}
}

func (p *Pipeline) replyTo(env envelope, id uuid.UUID, err error) {
	if env.reply == nil {
		return
	}
	select {
	case env.reply <- reply{id: id, err: err}:
	default:
	}
}

// Send submits an Auth event and blocks until the row is durably inserted
// (retrying transient failures), returning its assigned id.
func (p *Pipeline) Send(ctx context.Context, a Auth) (uuid.UUID, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = p.cfg.Clock.Now().UTC()
	}
	return p.sendSync(ctx, kindAuth, a)
}

// SendUploadedFile submits an UploadedFile event and blocks for its id.
func (p *Pipeline) SendUploadedFile(ctx context.Context, u UploadedFile) (uuid.UUID, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = p.cfg.Clock.Now().UTC()
	}
	return p.sendSync(ctx, kindUploadedFile, u)
}

func (p *Pipeline) sendSync(ctx context.Context, k kind, payload any) (uuid.UUID, error) {
	r := make(chan reply, 1)
	env := envelope{kind: k, payload: payload, reply: r}

	select {
	case p.queue <- env:
	case <-ctx.Done():
		return uuid.Nil, trace.Wrap(ctx.Err())
	}

	select {
	case out := <-r:
		return out.id, trace.Wrap(out.err)
	case <-ctx.Done():
		return uuid.Nil, trace.Wrap(ctx.Err())
	}
}

// SendCommand is a detached send: the caller does not wait for the write.
func (p *Pipeline) SendCommand(c Command) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = p.cfg.Clock.Now().UTC()
	}
	p.sendDetached(kindCommand, c)
}

// SendSession is a detached send.
func (p *Pipeline) SendSession(s Session) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	p.sendDetached(kindSession, s)
}

// SendConnTrack is a detached send.
func (p *Pipeline) SendConnTrack(c ConnTrack) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = p.cfg.Clock.Now().UTC()
	}
	p.sendDetached(kindConnTrack, c)
}

// SendCacheFill is a detached send.
func (p *Pipeline) SendCacheFill(c CacheFill) {
	if c.Timestamp.IsZero() {
		c.Timestamp = p.cfg.Clock.Now().UTC()
	}
	p.sendDetached(kindCacheFill, c)
}

// sendDetached never blocks: it appends to the unbounded detachedQueue and
// returns. Once Close has begun it drops the envelope instead of queuing
// it; only envelopes queued before that are picked up by drain.
func (p *Pipeline) sendDetached(k kind, payload any) {
	select {
	case <-p.closeC:
		return
	default:
	}
	p.detached.push(envelope{kind: k, payload: payload})
}

func (p *Pipeline) cleanupLoop(ctx context.Context) {
	ticker := p.cfg.Clock.NewTicker(p.cfg.CacheCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			cutoff := p.cfg.Clock.Now().UTC().Add(-p.cfg.CacheTTL)
			if err := p.sweepExpiredCache(ctx, cutoff); err != nil {
				p.log.WithError(err).Warn("cache cleanup sweep failed")
			}
		case <-p.closeC:
			return
		case <-ctx.Done():
			return
		}
	}
}

// withRetry retries fn with exponential backoff from 100ms to a 30s cap,
// honoring ctx cancellation, mirroring the retry window spec.md §4.4
// describes for a database that has gone unreachable.
func (p *Pipeline) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	const (
		initial = 100 * time.Millisecond
		max     = 30 * time.Second
	)

	backoff := initial
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		p.log.WithError(err).WithField("op", op).Warn("transient persistence failure, retrying")

		timer := p.cfg.Clock.NewTimer(backoff)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			timer.Stop()
			return trace.Wrap(ctx.Err())
		case <-p.closeC:
			timer.Stop()
			return trace.Wrap(err)
		}

		backoff *= 2
		if backoff > max {
			backoff = max
		}
	}
}
