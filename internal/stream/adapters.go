package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

var ErrReaderClosed = errors.New("stream reader is closed")

// Reader is a pull adapter over a stream subscription. When the consumer
// cannot keep up the backing subscription is cancelled: the reader drains
// what it already holds, then reports closure. Re-subscription is not
// automatic; the caller creates a new reader.
type Reader struct {
	stream *Stream
	subID  string
	ch     chan *event.Event
	once   sync.Once
}

// NewReader subscribes to the stream and returns the pull adapter.
// buffer bounds how far the consumer may lag before it is cut off.
func (s *Stream) NewReader(f *event.Filter, buffer int) (*Reader, error) {
	if buffer <= 0 {
		buffer = 64
	}
	r := &Reader{
		stream: s,
		ch:     make(chan *event.Event, buffer),
	}
	id, err := s.Subscribe(f, func(ev *event.Event) {
		select {
		case r.ch <- ev:
		default:
			// Slow consumer: cut the subscription rather than block the
			// publisher or grow without bound.
			s.log.Warn("STREAM_READER_OVERFLOW", "stream", s.name, "subscription_id", r.subID)
			r.Close()
		}
	})
	if err != nil {
		return nil, err
	}
	r.subID = id
	return r, nil
}

// Next blocks until an event arrives, the reader closes, or ctx ends.
func (r *Reader) Next(ctx context.Context) (*event.Event, error) {
	select {
	case ev, ok := <-r.ch:
		if !ok {
			return nil, ErrReaderClosed
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// C exposes the underlying channel for select loops. It is closed when
// the reader closes.
func (r *Reader) C() <-chan *event.Event { return r.ch }

// Close cancels the subscription and closes the channel. Idempotent.
func (r *Reader) Close() {
	r.once.Do(func() {
		r.stream.Unsubscribe(r.subID)
		close(r.ch)
	})
}

// Writer funnels externally produced events through Publish.
type Writer struct {
	stream *Stream
}

func (s *Stream) NewWriter() *Writer {
	return &Writer{stream: s}
}

// Write publishes a draft event, returning the enriched envelope.
func (w *Writer) Write(ctx context.Context, draft *event.Event) (*event.Event, error) {
	return w.stream.Publish(ctx, draft)
}

// TransformFunc maps an event before forwarding. Returning (nil, nil)
// drops the event.
type TransformFunc func(ctx context.Context, ev *event.Event) (*event.Event, error)

// Transformer applies a mapping to each written event before it enters
// the stream.
type Transformer struct {
	stream *Stream
	fn     TransformFunc
}

func (s *Stream) NewTransformer(fn TransformFunc) *Transformer {
	return &Transformer{stream: s, fn: fn}
}

// Write transforms the draft and publishes the result.
func (t *Transformer) Write(ctx context.Context, draft *event.Event) (*event.Event, error) {
	ev, err := t.fn(ctx, draft)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, nil
	}
	return t.stream.Publish(ctx, ev)
}
