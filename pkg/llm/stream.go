// Pull-based streams
package llm

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
)

// Stream is a pull-based sequence. Next returns io.EOF once the sequence is
// exhausted. Close releases the backend connection and may be called at any
// point, any number of times; Next returns io.EOF after Close. Close waits
// for an in-flight Next, so cancel the call's context to abort a blocked read.
type Stream[T any] interface {
	Next() (T, error)
	Close() error
}

type (
	// ChatStream yields accumulated chat snapshots
	ChatStream = Stream[*ChatResponse]
	// CompletionStream yields accumulated completion snapshots
	CompletionStream = Stream[*CompletionResponse]
	// TokenStream yields text fragments
	TokenStream = Stream[string]
)

type funcStream[T any] struct {
	next  func() (T, error)
	close func() error

	mu     sync.Mutex
	done   bool
	closed bool
	err    error
}

// NewStream builds a Stream from a next function and an optional close
// function. Once next returns an error every later call returns it again.
func NewStream[T any](next func() (T, error), closeFn func() error) Stream[T] {
	return &funcStream[T]{next: next, close: closeFn}
}

func (s *funcStream[T]) Next() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if s.closed {
		return zero, io.EOF
	}
	if s.done {
		return zero, s.err
	}
	v, err := s.next()
	if err != nil {
		s.done = true
		s.err = err
		return zero, err
	}
	return v, nil
}

func (s *funcStream[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.close != nil {
		return s.close()
	}
	return nil
}

// PullStream adapts a push sequence into a Stream. Close stops the sequence,
// which lets the producer release its resources.
func PullStream[T any](seq iter.Seq2[T, error]) Stream[T] {
	next, stop := iter.Pull2(seq)
	return NewStream(func() (T, error) {
		v, err, ok := next()
		if !ok {
			var zero T
			return zero, io.EOF
		}
		return v, err
	}, func() error {
		stop()
		return nil
	})
}

// SliceStream yields the given items in order
func SliceStream[T any](items []T) Stream[T] {
	i := 0
	return NewStream(func() (T, error) {
		if i >= len(items) {
			var zero T
			return zero, io.EOF
		}
		v := items[i]
		i++
		return v, nil
	}, nil)
}

// MapStream transforms each item of s. fn returns false to drop an item.
func MapStream[A, B any](s Stream[A], fn func(A) (B, bool, error)) Stream[B] {
	return NewStream(func() (B, error) {
		var zero B
		for {
			a, err := s.Next()
			if err != nil {
				return zero, err
			}
			b, keep, err := fn(a)
			if err != nil {
				return zero, err
			}
			if keep {
				return b, nil
			}
		}
	}, s.Close)
}

// ObserveStream calls onItem for every item and onEnd once at io.EOF
func ObserveStream[T any](s Stream[T], onItem func(T), onEnd func()) Stream[T] {
	return NewStream(func() (T, error) {
		v, err := s.Next()
		if errors.Is(err, io.EOF) {
			if onEnd != nil {
				onEnd()
			}
			return v, err
		}
		if err == nil && onItem != nil {
			onItem(v)
		}
		return v, err
	}, s.Close)
}

// Collect drains s and closes it
func Collect[T any](s Stream[T]) ([]T, error) {
	defer s.Close()

	var out []T
	for {
		v, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

// CompletionStreamFromChat views a chat stream as a completion stream
func CompletionStreamFromChat(s ChatStream) CompletionStream {
	return MapStream(s, func(r *ChatResponse) (*CompletionResponse, bool, error) {
		return r.ToCompletion(), true, nil
	})
}

// ChatStreamFromCompletion views a completion stream as a chat stream
func ChatStreamFromCompletion(s CompletionStream) ChatStream {
	return MapStream(s, func(r *CompletionResponse) (*ChatResponse, bool, error) {
		return r.ToChat(), true, nil
	})
}

// TokensFromChat yields the non-empty deltas of a chat stream
func TokensFromChat(s ChatStream) TokenStream {
	return MapStream(s, func(r *ChatResponse) (string, bool, error) {
		return r.Delta, r.Delta != "", nil
	})
}

// TokensFromCompletion yields the non-empty deltas of a completion stream
func TokensFromCompletion(s CompletionStream) TokenStream {
	return MapStream(s, func(r *CompletionResponse) (string, bool, error) {
		return r.Delta, r.Delta != "", nil
	})
}

// Result carries one item, or the error that ended a stream, over a channel
type Result[T any] struct {
	Value T
	Err   error
}

// StreamToChannel consumes s in a goroutine, sending every item on an
// unbuffered channel. A terminating error other than io.EOF is sent as the
// last Result. The channel is closed and s is closed on every exit path,
// including cancellation of ctx.
func StreamToChannel[T any](ctx context.Context, s Stream[T]) <-chan Result[T] {
	ch := make(chan Result[T])
	go func() {
		defer close(ch)
		defer s.Close()

		for {
			v, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			res := Result[T]{Value: v, Err: err}
			select {
			case ch <- res:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}
