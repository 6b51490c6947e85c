package provider

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ferrow/llmstream/go/ai"
)

// AsyncContentSender decouples a provider's streaming loop from the stream
// consumer: events are enqueued without blocking the SDK read loop and
// delivered by a single goroutine in order. The first send failure is
// retained and later sends become no-ops.
type AsyncContentSender struct {
	stream Stream
	ch     chan *ai.StreamResponse
	done   chan struct{}

	err  atomic.Value
	once sync.Once
}

func NewAsyncContentSender(stream Stream, bufferSize int) *AsyncContentSender {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	s := &AsyncContentSender{
		stream: stream,
		ch:     make(chan *ai.StreamResponse, bufferSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncContentSender) run() {
	defer close(s.done)
	ctx := s.stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.err.Store(ctx.Err())
			return
		case resp, ok := <-s.ch:
			if !ok {
				return
			}
			if err := s.stream.Send(resp); err != nil {
				s.err.Store(err)
				return
			}
		}
	}
}

func (s *AsyncContentSender) Err() error {
	if v := s.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Close stops accepting events. Pending events are still delivered.
func (s *AsyncContentSender) Close() {
	s.once.Do(func() { close(s.ch) })
}

// Wait blocks until the delivery goroutine drains or ctx ends.
func (s *AsyncContentSender) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *AsyncContentSender) enqueue(ctx context.Context, resp *ai.StreamResponse) {
	if err := s.Err(); err != nil {
		return
	}
	select {
	case <-ctx.Done():
	case <-s.stream.Context().Done():
	case s.ch <- resp:
	}
}

func (s *AsyncContentSender) SendBlocks(ctx context.Context, blocks ...*ai.Block) {
	for _, block := range blocks {
		s.enqueue(ctx, ai.NewBlockResponse(block))
	}
}

func (s *AsyncContentSender) SendStopReason(ctx context.Context, r ai.StopReason) {
	s.enqueue(ctx, ai.NewStopReasonResponse(r))
}

func (s *AsyncContentSender) SendUsage(ctx context.Context, u *ai.Usage) {
	s.enqueue(ctx, ai.NewUsageResponse(u))
}

func (s *AsyncContentSender) SendMetrics(ctx context.Context, m *ai.GenerationMetrics) {
	s.enqueue(ctx, ai.NewMetricsResponse(m))
}
