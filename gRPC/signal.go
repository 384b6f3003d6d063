package control

import (
	"context"
	"os"
	"os/signal"

	"ObjectCounter/logger"

	"go.uber.org/zap"
)

// StopOnSignal turns the first of sigs into s.RequestExit. The handler is
// removed right after, so a second signal gets the default behaviour and
// kills a loop stuck in a blocking read.
func StopOnSignal(ctx context.Context, s Stopper, sigs ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	go forwardSignal(ctx, s, ch, func() { signal.Stop(ch) })
}

func forwardSignal(ctx context.Context, s Stopper, ch <-chan os.Signal, reset func()) {
	defer reset()
	select {
	case <-ctx.Done():
	case sig := <-ch:
		logger.Log().Warn("Signal received, stopping capture loop; repeat to force quit",
			zap.String("signal", sig.String()))
		s.RequestExit()
	}
}
