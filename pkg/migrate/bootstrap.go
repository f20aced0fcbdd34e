package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/glassapp/glass-server/pkg/config"
	"github.com/glassapp/glass-server/pkg/db"
	"github.com/glassapp/glass-server/pkg/logger"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
)

const (
	bootstrapAttempts = 5
	bootstrapBackoff  = 500 * time.Millisecond
)

// Bootstrap runs the schema migrations once at service start, before any
// traffic is accepted. Failures are retried with backoff a bounded number of
// times; exhausting the budget is fatal to the caller. This replaces any
// per-request "create table if missing" self-healing.
func Bootstrap(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"dir": DefaultDir, "driver": cfg.DB.Driver})
	logg.Info(ctx, "running schema migrations")

	var attempts []error
	backoff := retry.WithMaxRetries(bootstrapAttempts-1, retry.NewConstant(bootstrapBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := Run(ctx, sqlDB, cfg.DB, DefaultDir, "up"); err != nil {
			attempts = append(attempts, err)
			logg.Warn(logg.WithField(ctx, "attempt", len(attempts)), "migration attempt failed, retrying")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("schema bootstrap failed after %d attempts: %w", len(attempts), multierr.Combine(attempts...))
	}

	logg.Info(ctx, "schema migrations completed")
	return nil
}
