package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shawn/wecom-gateway/internal/credstore"
)

// RootDepartment is the top of every corp's department tree.
const RootDepartment = 1

// Snapshot is one tenant's directory at SyncedAt.
type Snapshot struct {
	TenantID    string       `json:"tenant_id"`
	Departments []Department `json:"departments"`
	Users       []User       `json:"users"`
	Tags        []Tag        `json:"tags"`
	SyncedAt    time.Time    `json:"synced_at"`
}

// Sink receives snapshots. Persisting them is the collaborator's concern.
type Sink interface {
	Store(ctx context.Context, snap *Snapshot) error
}

// TenantLister is the part of credstore.Client the syncer needs.
type TenantLister interface {
	ListAll(ctx context.Context) ([]*credstore.Credentials, error)
}

// LogSink logs a summary of every snapshot.
type LogSink struct{}

func (LogSink) Store(_ context.Context, snap *Snapshot) error {
	slog.Info("directory: snapshot",
		"tenant", snap.TenantID,
		"departments", len(snap.Departments),
		"users", len(snap.Users),
		"tags", len(snap.Tags),
	)
	return nil
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, snap *Snapshot) error

func (f SinkFunc) Store(ctx context.Context, snap *Snapshot) error { return f(ctx, snap) }

// JSONSink writes each snapshot as one JSON document through write.
func JSONSink(write func(tenantID string, doc []byte) error) Sink {
	return SinkFunc(func(_ context.Context, snap *Snapshot) error {
		doc, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return write(snap.TenantID, doc)
	})
}

type Syncer struct {
	svc     *Service
	tenants TenantLister
	sink    Sink
	now     func() time.Time
	observe func(error)
}

type SyncerOption func(*Syncer)

// WithSyncObserver is called after every tenant sync.
func WithSyncObserver(fn func(error)) SyncerOption {
	return func(s *Syncer) { s.observe = fn }
}

func NewSyncer(svc *Service, tenants TenantLister, sink Sink, opts ...SyncerOption) *Syncer {
	if sink == nil {
		sink = LogSink{}
	}
	s := &Syncer{svc: svc, tenants: tenants, sink: sink, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SyncTenant fetches departments, users and tags and hands them to the sink.
func (s *Syncer) SyncTenant(ctx context.Context, tenantID string) (*Snapshot, error) {
	snap, err := s.syncTenant(ctx, tenantID)
	if s.observe != nil {
		s.observe(err)
	}
	return snap, err
}

func (s *Syncer) syncTenant(ctx context.Context, tenantID string) (*Snapshot, error) {
	depts, err := s.svc.Departments(ctx, tenantID, 0)
	if err != nil {
		return nil, fmt.Errorf("sync departments: %w", err)
	}
	users, err := s.svc.Users(ctx, tenantID, RootDepartment, true)
	if err != nil {
		return nil, fmt.Errorf("sync users: %w", err)
	}
	tags, err := s.svc.Tags(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("sync tags: %w", err)
	}

	snap := &Snapshot{
		TenantID:    tenantID,
		Departments: depts,
		Users:       users,
		Tags:        tags,
		SyncedAt:    s.now().UTC(),
	}
	if err := s.sink.Store(ctx, snap); err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}
	return snap, nil
}

// SyncAll syncs every tenant and returns how many succeeded. A failing
// tenant is logged and skipped.
func (s *Syncer) SyncAll(ctx context.Context) (int, error) {
	all, err := s.tenants.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tenants: %w", err)
	}
	ok := 0
	for _, t := range all {
		if ctx.Err() != nil {
			return ok, ctx.Err()
		}
		if _, err := s.SyncTenant(ctx, t.TenantID); err != nil {
			slog.Error("directory: sync failed", "tenant", t.TenantID, "err", err)
			continue
		}
		ok++
	}
	return ok, nil
}

// Run schedules SyncAll on a cron spec and blocks until ctx is cancelled.
// Overlapping runs are skipped.
func (s *Syncer) Run(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		n, err := s.SyncAll(ctx)
		if err != nil {
			slog.Error("directory: sync run failed", "err", err)
			return
		}
		slog.Info("directory: sync run complete", "tenants", n)
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}

	slog.Info("directory: syncer starting", "schedule", schedule)
	c.Start()
	<-ctx.Done()
	slog.Info("directory: syncer shutting down")
	<-c.Stop().Done()
	return nil
}
