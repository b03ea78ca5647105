package scheduler

import (
	"errors"
	"time"

	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(tag string, err error) {
	if err == nil {
		return
	}
	// A repeat still running from its previous fire.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("trigger skipped", logx.Tag(tag), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[tag]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[tag] = now
	s.enqMu.Unlock()

	s.log.Warn("trigger failed to enqueue task", logx.Tag(tag), logx.Err(err))
}
