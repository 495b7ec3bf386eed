package shutdown

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func CreateGracefulShutdownChannel() chan os.Signal {
	notifier := make(chan os.Signal, 1)
	signal.Notify(notifier, syscall.SIGINT, syscall.SIGTERM)
	return notifier
}

// ListenForShutdown blocks until a signal arrives on notifier, then runs
// onShutdown. If done is not signalled within timeout the process waits no
// longer and ListenForShutdown returns.
func ListenForShutdown(notifier chan os.Signal, done chan bool, onShutdown func(), timeout time.Duration, l *zap.Logger) {
	sig := <-notifier
	l.Sugar().Infow("Received shutdown signal", "signal", sig.String())

	go func() {
		onShutdown()
		close(done)
	}()

	select {
	case <-done:
		l.Sugar().Infow("Shutdown complete")
	case <-time.After(timeout):
		l.Sugar().Warnw("Shutdown timed out", "timeout", timeout.String())
	}
}
