package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/ferrow/llmstream/go/ai"
	"github.com/ferrow/llmstream/go/ai/toolcall"
	"github.com/ferrow/llmstream/go/uuid"
)

const defaultConcurrency = 4

// Dispatcher executes harvested tool calls against a registry. Handlers run
// concurrently under a bounded worker pool; a failing call produces an error
// result for that call only, never an aborted batch.
type Dispatcher struct {
	registry    *Registry
	concurrency int
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		concurrency: defaultConcurrency,
	}
}

// Registry exposes the registry the dispatcher executes against.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// WithConcurrency bounds the number of handlers running at once.
func (d *Dispatcher) WithConcurrency(n int) *Dispatcher {
	if n > 0 {
		d.concurrency = n
	}
	return d
}

// Dispatch runs every call and reports one result per call, in call order.
// The returned error aggregates per-call handler failures for observability;
// each failure is also reflected in its call's result.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []toolcall.CompletedToolCall) ([]*ai.ToolResult, error) {
	results := make([]*ai.ToolResult, len(calls))

	var mu sync.Mutex
	var errs *multierror.Error

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(d.concurrency)

	for i, call := range calls {
		group.Go(func() error {
			result, err := d.dispatchOne(ctx, call)
			results[i] = result
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("tool %s (call %s): %w", call.Name, result.ToolCallID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	group.Wait()

	return results, errs.ErrorOrNil()
}

func (d *Dispatcher) dispatchOne(ctx context.Context, call toolcall.CompletedToolCall) (*ai.ToolResult, error) {
	id := call.ID
	if id == "" {
		id = "call_" + uuid.MustNewV7().String()
	}

	args, ok := call.Args.(map[string]any)
	if !ok {
		err := fmt.Errorf("%w: got %T", ai.ErrInvalidToolArgs, call.Args)
		return ai.NewErrorToolResult(call.Name, id, err), err
	}

	t, err := d.registry.Get(call.Name)
	if err != nil {
		return ai.NewErrorToolResult(call.Name, id, err), err
	}

	value, err := t.Handler(ctx, args)
	if err != nil {
		return ai.NewErrorToolResult(call.Name, id, err), err
	}

	result, err := ai.NewStructuredToolResult(call.Name, id, value)
	if err != nil {
		return ai.NewErrorToolResult(call.Name, id, err), err
	}
	return result, nil
}
