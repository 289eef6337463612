// Package chflow holds context-aware channel helpers. Every blocking
// operation also gives up when an optional done channel is closed, which is
// how per-subscriber streams are detached without closing the data channel.
package chflow

import "context"

// Receive waits for a value from ch or for ctx to be canceled.
// ok is false when ctx is done or ch is closed.
func Receive[T any](ctx context.Context, ch <-chan T) (T, bool) {
	return ReceiveOrDone(ctx, nil, ch)
}

// ReceiveOrDone is Receive that also stops when done is closed.
func ReceiveOrDone[T any](ctx context.Context, done <-chan struct{}, ch <-chan T) (T, bool) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, false
	case <-done:
		return zero, false
	case data, ok := <-ch:
		return data, ok
	}
}

// Send delivers data on ch unless ctx is canceled first.
func Send[T any](ctx context.Context, ch chan<- T, data T) bool {
	return SendOrDone(ctx, nil, ch, data)
}

// SendOrDone is Send that also gives up when done is closed.
func SendOrDone[T any](ctx context.Context, done <-chan struct{}, ch chan<- T, data T) bool {
	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	case ch <- data:
		return true
	}
}
