package workers

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"app-link-service/services"

	"github.com/go-co-op/gocron/v2"
)

// sweepTimeout bounds a single sweep so a stuck database call cannot pin the job.
const sweepTimeout = 2 * time.Minute

// Sweeper deletes deferred links that can no longer be claimed and expires
// stale pending referrals. Both jobs run once at start and then on their
// interval. Sweeps never overlap, including operator-triggered ones.
type Sweeper struct {
	links     *services.LinkStore
	referrals *services.ReferralService
	metrics   *services.Metrics

	interval           time.Duration
	referralInterval   time.Duration
	referralExpiryDays int

	mu    sync.Mutex // serializes sweeps
	sched gocron.Scheduler
}

func NewSweeper(
	links *services.LinkStore,
	referrals *services.ReferralService,
	metrics *services.Metrics,
	interval, referralInterval time.Duration,
	referralExpiryDays int,
) *Sweeper {
	return &Sweeper{
		links:              links,
		referrals:          referrals,
		metrics:            metrics,
		interval:           interval,
		referralInterval:   referralInterval,
		referralExpiryDays: referralExpiryDays,
	}
}

// Start schedules the jobs and stops the scheduler when ctx is done.
func (w *Sweeper) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() {
			runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
			defer cancel()
			if _, err := w.RunOnce(runCtx); err != nil {
				log.Printf("❌ [SWEEPER] link sweep failed: %v", err)
			}
		}),
		gocron.WithName("deferred-link-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule link sweep: %w", err)
	}

	if w.referrals != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(w.referralInterval),
			gocron.NewTask(func() {
				runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
				defer cancel()
				if _, err := w.ExpireReferrals(runCtx); err != nil {
					log.Printf("❌ [SWEEPER] referral expiry failed: %v", err)
				}
			}),
			gocron.WithName("referral-expiry"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return fmt.Errorf("schedule referral expiry: %w", err)
		}
	}

	w.sched = sched
	sched.Start()
	log.Printf("🧹 [SWEEPER] started (links every %s, referrals every %s)", w.interval, w.referralInterval)

	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			log.Printf("⚠️ [SWEEPER] shutdown: %v", err)
		}
		log.Println("⏹️ [SWEEPER] stopped")
	}()
	return nil
}

// RunOnce deletes expired or claimed links and returns how many were removed.
func (w *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	deleted, err := w.links.DeleteExpiredOrClaimed(ctx)
	if err != nil {
		return 0, err
	}
	w.metrics.ObserveSwept(deleted)
	if deleted > 0 {
		log.Printf("🧹 [SWEEPER] deleted %d expired/claimed deferred links", deleted)
	}
	return deleted, nil
}

// ExpireReferrals moves pending referrals older than the configured age to expired.
func (w *Sweeper) ExpireReferrals(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.referrals.ExpireOld(ctx, w.referralExpiryDays)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("🧹 [SWEEPER] expired %d referrals older than %d days", n, w.referralExpiryDays)
	}
	return n, nil
}
