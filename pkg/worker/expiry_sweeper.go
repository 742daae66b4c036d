package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/pkg/logger"
)

// Sweeper is the ledger operation the sweeper triggers.
type Sweeper interface {
	SweepExpired(ctx context.Context, id model.Identity) (int, error)
}

// ExpirySweeper runs the expiry sweep on a fixed interval under the system
// identity.
type ExpirySweeper struct {
	ledger   Sweeper
	interval time.Duration
	identity model.Identity
	logger   *logger.Logger
}

func NewExpirySweeper(ledger Sweeper, interval time.Duration, log *logger.Logger) (*ExpirySweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be greater than 0")
	}
	return &ExpirySweeper{
		ledger:   ledger,
		interval: interval,
		identity: model.SystemIdentity("expiry-sweeper"),
		logger:   log.Named("expiry_sweeper"),
	}, nil
}

// Start sweeps once immediately, then on every tick until ctx is done.
func (w *ExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Starting expiry sweeper", "interval", w.interval.String())
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down expiry sweeper")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

func (w *ExpirySweeper) RunOnce(ctx context.Context) int {
	n, err := w.ledger.SweepExpired(ctx, w.identity)
	if err != nil {
		w.logger.Error(err, "Expiry sweep failed")
		return 0
	}
	if n > 0 {
		w.logger.Info("Expired units swept", "count", n)
	}
	return n
}
