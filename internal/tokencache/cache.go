// Package tokencache keeps one access token per application and refreshes
// it before the vendor expires it.
//
// Lookups for different applications never contend with each other. Callers
// that miss on the same application share a single in-flight refresh, and a
// refresh that fails is never cached.
package tokencache

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shawn/wecom-gateway/internal/lock"
)

const (
	DefaultMargin       = 5 * time.Minute
	DefaultTTL          = 7200 * time.Second
	DefaultFetchTimeout = 30 * time.Second
	DefaultLocalTTL     = 30 * time.Second
)

// ErrEmptyToken is returned when a fetcher reports success without a token.
var ErrEmptyToken = errors.New("tokencache: fetcher returned an empty token")

// Token is an access token as issued by the vendor.
// A zero IssuedAt means "when the fetch started"; a zero TTL means DefaultTTL.
type Token struct {
	Value    string
	IssuedAt time.Time
	TTL      time.Duration
}

// Fetcher obtains a fresh token for an application.
type Fetcher interface {
	FetchToken(ctx context.Context, appID string) (Token, error)
}

type FetcherFunc func(ctx context.Context, appID string) (Token, error)

func (f FetcherFunc) FetchToken(ctx context.Context, appID string) (Token, error) {
	return f(ctx, appID)
}

// Store is an optional tier shared between gateway replicas.
type Store interface {
	Load(ctx context.Context, appID string) (value string, expiresAt time.Time, ok bool, err error)
	Save(ctx context.Context, appID, value string, expiresAt time.Time) error
	Delete(ctx context.Context, appID string) error
}

// Outcome labels a lookup for observers.
type Outcome string

const (
	OutcomeHit       Outcome = "hit"
	OutcomeShared    Outcome = "shared"
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeError     Outcome = "error"
)

type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// WithMargin sets how long before vendor expiry a token stops being served.
func WithMargin(d time.Duration) Option { return func(c *Cache) { c.margin = d } }

func WithStore(s Store) Option { return func(c *Cache) { c.store = s } }

// WithLocker makes replicas take a lock before refreshing. Replicas that lose
// the race poll the shared store for up to pollTimeout.
func WithLocker(l lock.Locker, lockTTL, pollInterval, pollTimeout time.Duration) Option {
	return func(c *Cache) {
		c.locker = l
		c.lockTTL = lockTTL
		c.pollInterval = pollInterval
		c.pollTimeout = pollTimeout
	}
}

// WithLocalTTL caps how long a replica serves a token from memory before it
// re-reads the shared store, which bounds how long an Invalidate on a peer
// goes unnoticed. It only applies with a Store; zero removes the cap.
func WithLocalTTL(d time.Duration) Option { return func(c *Cache) { c.localTTL = d } }

func WithFetchTimeout(d time.Duration) Option { return func(c *Cache) { c.fetchTimeout = d } }

func WithObserver(fn func(appID string, o Outcome)) Option {
	return func(c *Cache) { c.observer = fn }
}

// Cache is safe for concurrent use.
type Cache struct {
	fetcher      Fetcher
	now          func() time.Time
	margin       time.Duration
	fetchTimeout time.Duration
	localTTL     time.Duration
	store        Store
	locker       lock.Locker
	lockTTL      time.Duration
	pollInterval time.Duration
	pollTimeout  time.Duration
	observer     func(appID string, o Outcome)

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]*entry
}

func New(f Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher:      f,
		now:          time.Now,
		margin:       DefaultMargin,
		fetchTimeout: DefaultFetchTimeout,
		localTTL:     DefaultLocalTTL,
		lockTTL:      10 * time.Second,
		pollInterval: 200 * time.Millisecond,
		pollTimeout:  5 * time.Second,
		entries:      make(map[string]*entry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type entry struct {
	mu        sync.RWMutex
	value     string
	expiresAt time.Time
	gen       uint64
}

func (e *entry) load(now time.Time) (string, uint64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.value != "" && now.Before(e.expiresAt) {
		return e.value, e.gen, true
	}
	return "", e.gen, false
}

// put stores the token only if no invalidation happened since gen was read.
func (e *entry) put(gen uint64, value string, expiresAt time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return false
	}
	e.value = value
	e.expiresAt = expiresAt
	return true
}

func (e *entry) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	e.value = ""
	e.expiresAt = time.Time{}
}

func (c *Cache) entry(appID string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[appID]
	if !ok {
		e = &entry{}
		c.entries[appID] = e
	}
	return e
}

// Get returns a usable token for appID, refreshing it if needed. The
// caller's context bounds how long it waits, not the shared refresh.
func (c *Cache) Get(ctx context.Context, appID string) (string, error) {
	e := c.entry(appID)
	v, gen, ok := e.load(c.now())
	if ok {
		c.observe(appID, OutcomeHit)
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := appID + "#" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return c.refresh(fctx, appID, e, gen)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.observe(appID, OutcomeError)
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate drops the cached token for appID here and in the shared store.
// A refresh already in flight will not repopulate the entry. Peers notice
// within the local TTL.
func (c *Cache) Invalidate(ctx context.Context, appID string) error {
	c.entry(appID).reset()
	if c.store != nil {
		return c.store.Delete(ctx, appID)
	}
	return nil
}

// Cached reports whether a usable token for appID is held locally.
func (c *Cache) Cached(appID string) bool {
	c.mu.Lock()
	e, ok := c.entries[appID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	_, _, usable := e.load(c.now())
	return usable
}

func (c *Cache) refresh(ctx context.Context, appID string, e *entry, gen uint64) (string, error) {
	if v, _, ok := e.load(c.now()); ok {
		return v, nil
	}
	if v, ok := c.fromStore(ctx, appID, e, gen); ok {
		return v, nil
	}

	if c.locker != nil {
		acquired, err := c.locker.AcquireRefreshLock(ctx, appID, c.lockTTL)
		switch {
		case err != nil:
			slog.Warn("token refresh lock unavailable, fetching directly", "app", appID, "err", err)
		case acquired:
			defer func() {
				if err := c.locker.ReleaseRefreshLock(context.WithoutCancel(ctx), appID); err != nil {
					slog.Warn("release token refresh lock", "app", appID, "err", err)
				}
			}()
			// a peer may have finished between our miss and the lock
			if v, ok := c.fromStore(ctx, appID, e, gen); ok {
				return v, nil
			}
		default:
			if v, ok := c.waitForPeer(ctx, appID, e, gen); ok {
				return v, nil
			}
			slog.Warn("peer token refresh did not land, fetching directly", "app", appID)
		}
	}

	start := c.now()
	tok, err := c.fetcher.FetchToken(ctx, appID)
	if err != nil {
		return "", err
	}
	if tok.Value == "" {
		return "", ErrEmptyToken
	}
	if tok.IssuedAt.IsZero() {
		tok.IssuedAt = start
	}
	if tok.TTL <= 0 {
		tok.TTL = DefaultTTL
	}
	expiresAt := tok.IssuedAt.Add(tok.TTL - c.marginFor(tok.TTL))

	if e.put(gen, tok.Value, c.localExpiry(expiresAt)) && c.store != nil {
		if err := c.store.Save(ctx, appID, tok.Value, expiresAt); err != nil {
			slog.Warn("save token to shared store", "app", appID, "err", err)
		}
	}
	c.observe(appID, OutcomeRefreshed)
	slog.Info("access token refreshed", "app", appID, "expires_at", expiresAt)
	return tok.Value, nil
}

// marginFor clamps the safety margin to half the TTL so that short-lived
// tokens are still served for some time.
func (c *Cache) marginFor(ttl time.Duration) time.Duration {
	if c.margin > ttl/2 {
		return ttl / 2
	}
	return c.margin
}

// localExpiry is when the in-memory copy of a token valid until exp must be
// re-checked against the shared store.
func (c *Cache) localExpiry(exp time.Time) time.Time {
	if c.store == nil || c.localTTL <= 0 {
		return exp
	}
	if limit := c.now().Add(c.localTTL); limit.Before(exp) {
		return limit
	}
	return exp
}

func (c *Cache) fromStore(ctx context.Context, appID string, e *entry, gen uint64) (string, bool) {
	if c.store == nil {
		return "", false
	}
	v, exp, ok, err := c.store.Load(ctx, appID)
	if err != nil {
		slog.Warn("load token from shared store", "app", appID, "err", err)
		return "", false
	}
	if !ok || v == "" || !c.now().Before(exp) {
		return "", false
	}
	e.put(gen, v, c.localExpiry(exp))
	c.observe(appID, OutcomeShared)
	return v, true
}

func (c *Cache) waitForPeer(ctx context.Context, appID string, e *entry, gen uint64) (string, bool) {
	if c.store == nil {
		return "", false
	}
	deadline := time.NewTimer(c.pollTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.pollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", false
		case <-deadline.C:
			return "", false
		case <-tick.C:
			if v, ok := c.fromStore(ctx, appID, e, gen); ok {
				return v, true
			}
		}
	}
}

func (c *Cache) observe(appID string, o Outcome) {
	if c.observer != nil {
		c.observer(appID, o)
	}
}
