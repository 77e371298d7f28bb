package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aula-lms/aula-lms/internal/authz"
	jobmetrics "github.com/aula-lms/aula-lms/internal/jobs"
)

const defaultSweepLookBack = 15 * time.Minute

// SweepExpiredGrants invalidates cached decisions for every user whose
// time-bounded grant expired inside the lookback window.
func SweepExpiredGrants(ctx context.Context, pool *pgxpool.Pool, cache authz.DecisionCache, logger *slog.Logger, lookBack time.Duration) error {
	if pool == nil || cache == nil {
		return nil
	}
	if lookBack <= 0 {
		lookBack = defaultSweepLookBack
	}
	since := time.Now().UTC().Add(-lookBack)
	rows, err := pool.Query(ctx, `
		SELECT DISTINCT user_id
		FROM user_permissions
		WHERE expires_at IS NOT NULL
		  AND expires_at <= NOW()
		  AND expires_at > $1`, since)
	if err != nil {
		return err
	}
	defer rows.Close()
	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, userID := range userIDs {
		if err := cache.InvalidateUser(ctx, userID); err != nil {
			if logger != nil {
				logger.Warn("expiry sweep invalidation failed",
					slog.Int64("user_id", userID),
					slog.Any("error", err))
			}
		}
	}
	if logger != nil && len(userIDs) > 0 {
		logger.Info("swept expired grants",
			slog.String("job", "authz_expiry_sweep"),
			slog.Int("users", len(userIDs)))
	}
	return nil
}

// NewExpirySweepHandler binds SweepExpiredGrants into an Asynq handler.
func NewExpirySweepHandler(pool *pgxpool.Pool, cache authz.DecisionCache, logger *slog.Logger) asynq.HandlerFunc {
	metrics := jobmetrics.NewMetrics(nil)
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ExpirySweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("authz_expiry_sweep")
		return tracker.End(SweepExpiredGrants(ctx, pool, cache, logger, payload.LookBack))
	}
}
