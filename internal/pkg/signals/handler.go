package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/constants"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
)

var shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}

// SetupHandler cancels the recorder context on the first SIGINT, SIGTERM or
// SIGHUP. A second signal while the graceful shutdown is still running calls
// onForce, which is expected to abort the remaining finalize work.
// The returned cleanup stops signal delivery and waits for the watcher to exit.
func SetupHandler(ctx context.Context, cancel context.CancelFunc, onForce func()) (cleanup func()) {
	sigCh := make(chan os.Signal, constants.SignalChannelBuffer)
	signal.Notify(sigCh, shutdownSignals...)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigCh:
			logger.Info("Received signal, starting graceful shutdown", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		case <-stop:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("Received second signal, forcing shutdown", "signal", sig.String())
			if onForce != nil {
				onForce()
			}
		case <-stop:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(stop)
		<-done
	}
}
