// Package retention periodically purges conversations that were
// soft-deleted longer than the configured grace period ago.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/store"
)

const defaultCron = "0 2 * * *"
const defaultGrace = 72 * time.Hour

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, eff config.EffectiveConfigResult, st *store.Store) (context.CancelFunc, error) {
	ret := eff.Config.Retention
	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = defaultCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}
	grace := ret.Grace.Duration()
	if grace <= 0 {
		grace = defaultGrace
	}

	logger.Info("retention_enabled", "cron", cronExpr, "grace", grace.String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, st, cronExpr, grace)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until
// then, running one sweep per tick.
func runScheduler(ctx context.Context, st *store.Store, cronExpr string, grace time.Duration) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := RunOnce(st, grace); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce sweeps every conversation once, purging those soft-deleted
// before the grace cutoff. Exposed for admin triggers and tests.
func RunOnce(st *store.Store, grace time.Duration) error {
	cutoff := time.Now().UTC().Add(-grace).UnixNano()
	convs, err := st.ListConversations()
	if err != nil {
		return err
	}
	purged := 0
	for _, c := range convs {
		if !c.Deleted || c.DeletedTS == 0 || c.DeletedTS > cutoff {
			continue
		}
		n, err := st.PurgeConversation(c.ID)
		if err != nil {
			logger.Error("retention_purge_failed", "conversation", c.ID, "error", err)
			continue
		}
		purged++
		logger.Info("retention_purged", "conversation", c.ID, "keys", n)
	}
	logger.Info("retention_run_complete", "conversations", len(convs), "purged", purged)
	return nil
}
