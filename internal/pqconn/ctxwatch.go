package pqconn

import (
	"context"
)

// contextWatcher invokes onCancel when a watched context is cancelled, and
// onUnwatchAfterCancel when Unwatch is called after a cancellation, so the
// owner can undo the cancel side effect (e.g. clear an interrupt deadline).
type contextWatcher struct {
	onCancel             func()
	onUnwatchAfterCancel func()

	unwatchChan       chan struct{}
	watchDoneChan     chan struct{}
	watchInProgress   bool
	onCancelWasCalled bool
}

func newContextWatcher(onCancel, onUnwatchAfterCancel func()) *contextWatcher {
	return &contextWatcher{
		onCancel:             onCancel,
		onUnwatchAfterCancel: onUnwatchAfterCancel,
		unwatchChan:          make(chan struct{}),
	}
}

// Watch starts watching ctx. It must be balanced by exactly one Unwatch.
func (cw *contextWatcher) Watch(ctx context.Context) {
	if cw.watchInProgress {
		panic("Watch already in progress")
	}
	if ctx.Done() == nil {
		return
	}

	cw.watchInProgress = true
	cw.onCancelWasCalled = false
	cw.watchDoneChan = make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			cw.onCancel()
			cw.onCancelWasCalled = true
			<-cw.unwatchChan
		case <-cw.unwatchChan:
		}
		close(cw.watchDoneChan)
	}()
}

// Unwatch stops watching the current context.
func (cw *contextWatcher) Unwatch() {
	if !cw.watchInProgress {
		return
	}
	cw.unwatchChan <- struct{}{}
	<-cw.watchDoneChan
	if cw.onCancelWasCalled {
		cw.onUnwatchAfterCancel()
	}
	cw.watchInProgress = false
}
