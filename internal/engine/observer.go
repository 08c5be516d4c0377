package engine

import (
	"context"

	"github.com/okapilabs/steer/pkg/models"
)

// StepObserver receives step records as the controller produces them.
// This is a push interface with no backpressure contract: implementations
// must be non-blocking or buffer independently, and must be safe to call
// from the loop goroutine.
type StepObserver interface {
	OnStep(ctx context.Context, rec models.StepRecord)
}

// ChanObserver sends step records to a channel, dropping records when the
// channel is full rather than blocking the loop.
type ChanObserver struct {
	ch chan<- models.StepRecord
}

// NewChanObserver creates an observer that sends to a channel.
// The channel should be buffered to avoid dropped records.
func NewChanObserver(ch chan<- models.StepRecord) *ChanObserver {
	return &ChanObserver{ch: ch}
}

// OnStep sends the record to the channel (non-blocking if full or context
// cancelled).
func (o *ChanObserver) OnStep(ctx context.Context, rec models.StepRecord) {
	select {
	case o.ch <- rec:
	case <-ctx.Done():
	default:
		// Channel full - drop record rather than block
	}
}

// CallbackObserver wraps a function as a StepObserver for inline handling.
type CallbackObserver struct {
	fn func(ctx context.Context, rec models.StepRecord)
}

// NewCallbackObserver creates an observer that calls fn for each record.
func NewCallbackObserver(fn func(ctx context.Context, rec models.StepRecord)) *CallbackObserver {
	return &CallbackObserver{fn: fn}
}

// OnStep calls the wrapped function.
func (o *CallbackObserver) OnStep(ctx context.Context, rec models.StepRecord) {
	if o.fn != nil {
		o.fn(ctx, rec)
	}
}

// MultiObserver fans out step records to multiple observers.
// Nil observers are filtered out automatically.
type MultiObserver struct {
	observers []StepObserver
}

// NewMultiObserver creates an observer that dispatches to several observers.
func NewMultiObserver(observers ...StepObserver) *MultiObserver {
	filtered := make([]StepObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	return &MultiObserver{observers: filtered}
}

// OnStep dispatches the record to all observers.
func (o *MultiObserver) OnStep(ctx context.Context, rec models.StepRecord) {
	for _, obs := range o.observers {
		obs.OnStep(ctx, rec)
	}
}

// NopObserver discards all step records silently.
type NopObserver struct{}

// OnStep does nothing.
func (NopObserver) OnStep(ctx context.Context, rec models.StepRecord) {}
