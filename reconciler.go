package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Reconciler defaults
const (
	DefaultReconcileSchedule = "@every 15m"
	DefaultOrphanGracePeriod = 30 * time.Minute
)

// ReconcileReport summarizes one orphan sweep
type ReconcileReport struct {
	Scanned int      `json:"scanned"`
	Removed []string `json:"removed"`
	Failed  int      `json:"failed"`
}

// OrphanReconcilerOption customizes an OrphanReconciler
type OrphanReconcilerOption func(*OrphanReconciler)

// WithReconcileSchedule sets the cron spec used by Start
func WithReconcileSchedule(spec string) OrphanReconcilerOption {
	return func(r *OrphanReconciler) {
		if spec != "" {
			r.schedule = spec
		}
	}
}

// WithOrphanGracePeriod sets how old a principal must be before it is
// considered orphaned. Registrations in flight are younger than this.
func WithOrphanGracePeriod(d time.Duration) OrphanReconcilerOption {
	return func(r *OrphanReconciler) {
		if d > 0 {
			r.grace = d
		}
	}
}

// WithReconcilerLogger sets the reconciler logger
func WithReconcilerLogger(logger Logger) OrphanReconcilerOption {
	return func(r *OrphanReconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReconcilerActivitySink sets the sink for removal events
func WithReconcilerActivitySink(sink ActivitySink) OrphanReconcilerOption {
	return func(r *OrphanReconciler) {
		r.activitySink = normalizeActivitySink(sink)
	}
}

// WithReconcilerClock injects a custom clock
func WithReconcilerClock(now func() time.Time) OrphanReconcilerOption {
	return func(r *OrphanReconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithReconcilerConfig applies schedule and grace period from cfg
func WithReconcilerConfig(cfg Config) OrphanReconcilerOption {
	return func(r *OrphanReconciler) {
		if cfg == nil {
			return
		}
		WithReconcileSchedule(cfg.GetReconcileSchedule())(r)
		WithOrphanGracePeriod(cfg.GetOrphanGracePeriod())(r)
	}
}

// OrphanReconciler removes principals that never got a profile, the
// leftovers of registrations whose compensation could not run
type OrphanReconciler struct {
	accounts     AccountLister
	remover      AccountRemover
	profiles     ProfileFinder
	schedule     string
	grace        time.Duration
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewOrphanReconciler fails if the provider cannot list and delete accounts
func NewOrphanReconciler(provider IdentityProvider, profiles ProfileFinder, opts ...OrphanReconcilerOption) (*OrphanReconciler, error) {
	lister, ok := provider.(AccountLister)
	if !ok {
		return nil, errors.New("identity provider cannot list accounts")
	}

	remover, ok := provider.(AccountRemover)
	if !ok {
		return nil, errors.New("identity provider cannot delete accounts")
	}

	r := &OrphanReconciler{
		accounts:     lister,
		remover:      remover,
		profiles:     profiles,
		schedule:     DefaultReconcileSchedule,
		grace:        DefaultOrphanGracePeriod,
		logger:       defLogger("reconciler"),
		activitySink: noopActivitySink{},
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r, nil
}

// Sweep deletes every principal older than the grace period that has no
// profile. Failures are collected and the sweep continues.
func (r *OrphanReconciler) Sweep(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{Removed: []string{}}
	cutoff := r.now().Add(-r.grace)

	principals, err := r.accounts.ListAccounts(ctx, cutoff)
	if err != nil {
		return report, NewStoreError(err, map[string]any{"operation": "list_accounts"})
	}

	var errs []error
	for _, principal := range principals {
		report.Scanned++

		profile, err := r.profiles.FindByPrincipalID(ctx, principal.ID)
		if err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("lookup %s: %w", principal.ID, err))
			continue
		}
		if profile != nil {
			continue
		}

		if err := r.remover.DeleteAccount(ctx, principal.ID); err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("delete %s: %w", principal.ID, err))
			continue
		}

		report.Removed = append(report.Removed, principal.ID)
		r.logger.Info("reconciler removed orphaned principal %s (%s)", principal.ID, principal.Email)
		recordActivity(ctx, r.activitySink, r.logger, r.now, ActivityEvent{
			EventType:   ActivityEventOrphanRemoved,
			PrincipalID: principal.ID,
			Metadata: map[string]any{
				"email":      principal.Email,
				"created_at": principal.CreatedAt,
			},
		})
	}

	if len(errs) > 0 {
		return report, errors.Join(errs...)
	}
	return report, nil
}

// Start schedules Sweep on the configured cron spec
func (r *OrphanReconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(r.schedule, func() {
		report, err := r.Sweep(context.WithoutCancel(ctx))
		if err != nil {
			r.logger.Warn("orphan sweep finished with errors: %v", err)
			return
		}
		if len(report.Removed) > 0 {
			r.logger.Info("orphan sweep removed %d principals", len(report.Removed))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", r.schedule, err)
	}

	c.Start()
	r.cron = c
	r.logger.Info("orphan reconciler started with schedule %s", r.schedule)
	return nil
}

// Stop halts the schedule and returns a context done once running sweeps finish
func (r *OrphanReconciler) Stop() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	ctx := r.cron.Stop()
	r.cron = nil
	return ctx
}
