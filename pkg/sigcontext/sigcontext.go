package sigcontext

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/pkg/errors"
)

// ErrSignaled is the cause of a context cancelled by a signal.
var ErrSignaled = errors.New("received signal")

// WithSignalCancel is a context that will cancel itself when a signal is sent
// to the process, with a cause naming the signal. The cancel function
// returned is responsible for freeing the signal handlers used and must be
// called. A second signal after the first cancelled the context falls through
// to the go runtime's default handling once cancel was called.
func WithSignalCancel(ctx context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	sigctx, ctxcancel := context.WithCancelCause(ctx)

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, sigs...)

	var once sync.Once
	cancel := func() {
		ctxcancel(context.Canceled)
		once.Do(func() {
			signal.Stop(sigchan)
			close(sigchan)
		})
	}

	// The caller is required to call their provided cancel function to
	// release the signal channel and notificant.
	go func() {
		for {
			select {
			case <-sigctx.Done():
				return
			case sig, ok := <-sigchan:
				if !ok {
					continue
				}
				ctxcancel(errors.Wrapf(ErrSignaled, "%s", sig))
			}
		}
	}()

	return sigctx, cancel
}

// Signaled reports whether ctx was cancelled by a signal.
func Signaled(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrSignaled)
}
