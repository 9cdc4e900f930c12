package scheduler

import (
	"errors"

	"chronod/internal/task/engine"
	logx "chronod/pkg/logx"
)

func (s *Service) reportEnqueueError(owner, id string, err error) {
	if err == nil {
		return
	}
	// A previous dispatch of the same timer still holds its run state.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("timer dispatch skipped", logx.String("owner", owner), logx.String("id", id), logx.Err(err))
		return
	}
	if !s.warn.Allow("enqueue:" + owner) {
		return
	}
	// Stale drops and engine restarts come in bursts.
	s.log.Warn("timer failed to enqueue callback", logx.String("owner", owner), logx.String("id", id), logx.Err(err))
}
