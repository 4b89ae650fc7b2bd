// internal/services/expiry_sweeper.go
package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type overdueExpirer interface {
	ExpireOverdueLicenses(ctx context.Context) (int64, error)
}

// ExpirySweeper periodically expires active licenses whose expiration date
// has passed, so licenses that are never validated still change state.
type ExpirySweeper struct {
	licenses overdueExpirer
	interval time.Duration
	log      *logrus.Entry
}

func NewExpirySweeper(licenses overdueExpirer, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		licenses: licenses,
		interval: interval,
		log:      logrus.WithField("component", "expiry_sweeper"),
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("Expiry sweeper disabled")
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	n, err := s.licenses.ExpireOverdueLicenses(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.WithError(err).Error("Failed to expire overdue licenses")
		}
		return
	}
	if n > 0 {
		s.log.WithField("count", n).Info("Expired overdue licenses")
	}
}
