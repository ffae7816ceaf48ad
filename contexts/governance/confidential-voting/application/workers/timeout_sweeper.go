package workers

import (
	"context"
	"errors"
	"log/slog"

	application "concord/contexts/governance/confidential-voting/application"
	"concord/contexts/governance/confidential-voting/application/commands"
	"concord/contexts/governance/confidential-voting/domain/entities"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
)

type TimeoutFinder interface {
	DueForTimeout(ctx context.Context) ([]entities.Resolution, error)
}

type TimeoutHandler interface {
	HandleTimeout(ctx context.Context, cmd commands.HandleTimeoutCommand) (entities.Resolution, error)
}

// TimeoutSweeper runs the failed-reveal fallback for every resolution whose
// oracle answer is overdue. SweeperIdentity must be an administrator.
type TimeoutSweeper struct {
	Finder          TimeoutFinder
	Lifecycle       TimeoutHandler
	SweeperIdentity string
	Logger          *slog.Logger
}

// RunOnce returns how many resolutions it finalized. A resolution that was
// resolved between the scan and the call is skipped.
func (s TimeoutSweeper) RunOnce(ctx context.Context) (int, error) {
	logger := application.ResolveLogger(s.Logger)
	due, err := s.Finder.DueForTimeout(ctx)
	if err != nil {
		logger.Error("timeout sweep scan failed",
			"event", "voting_timeout_sweep_scan_failed",
			"module", moduleName,
			"layer", "worker",
			"error", err.Error(),
		)
		return 0, err
	}

	handled := 0
	for _, resolution := range due {
		_, err := s.Lifecycle.HandleTimeout(ctx, commands.HandleTimeoutCommand{
			CallerID:     s.SweeperIdentity,
			ResolutionID: resolution.ResolutionID,
		})
		if err != nil {
			if errors.Is(err, domainerrors.ErrState) {
				continue
			}
			logger.Error("timeout sweep handle failed",
				"event", "voting_timeout_sweep_failed",
				"module", moduleName,
				"layer", "worker",
				"resolution_id", resolution.ResolutionID,
				"error", err.Error(),
			)
			return handled, err
		}
		handled++
	}
	if handled > 0 {
		logger.Info("timeout sweep completed",
			"event", "voting_timeout_sweep_completed",
			"module", moduleName,
			"layer", "worker",
			"handled_count", handled,
		)
	}
	return handled, nil
}
