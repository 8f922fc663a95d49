package ofcore

import "context"

// contextWithCancelCh returns a context that is canceled either by the
// caller or when done is closed, whichever comes first. It lets the
// blocking DialFunc call in Conn.dialLoop be interrupted by Close
// without threading a context through every layer.
func contextWithCancelCh(done <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan struct{})
	go func() {
		select {
		case <-done:
			cancel()
		case <-stop:
		}
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}
