package bridge

import (
	"context"
	"fmt"

	"github.com/relaylabs/chatbridge/internal/logging"
	"github.com/relaylabs/chatbridge/internal/metrics"
)

// Supervise runs loop until ctx is cancelled, restarting it whenever it
// returns or panics. Restart is unconditional and immediate; transient
// transport errors are the loop's own responsibility (it backs off
// internally), so any exit observed here is abnormal. Each restart is logged
// and counted.
func Supervise(ctx context.Context, name string, logger logging.ServiceLogger, m *metrics.Bridge, loop func(context.Context) error) {
	for {
		err := runContained(ctx, loop)

		if ctx.Err() != nil {
			logger.Info("supervised loop stopped", logging.LogFields{"loop": name})
			return
		}

		m.ConsumerRestarts.Inc()
		logger.Error("supervised loop exited, restarting", err, logging.LogFields{"loop": name})
	}
}

func runContained(ctx context.Context, loop func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loop panicked: %v", r)
		}
	}()
	return loop(ctx)
}
