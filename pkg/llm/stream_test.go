package llm

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceStreamCollect(t *testing.T) {
	t.Parallel()

	out, err := Collect(SliceStream([]int{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, out)
}

func TestNewStream_ErrorIsSticky(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	calls := 0
	s := NewStream(func() (int, error) {
		calls++
		return 0, boom
	}, nil)

	_, err := s.Next()
	assert.ErrorIs(t, err, boom)
	_, err = s.Next()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestNewStream_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	closes := 0
	s := NewStream(func() (int, error) { return 1, nil }, func() error {
		closes++
		return nil
	})

	v, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, closes)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMapStream(t *testing.T) {
	t.Parallel()

	evens := MapStream(SliceStream([]int{1, 2, 3, 4}), func(v int) (string, bool, error) {
		return string(rune('a' + v)), v%2 == 0, nil
	})
	out, err := Collect(evens)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "e"}, out)
}

func TestObserveStream(t *testing.T) {
	t.Parallel()

	var seen []int
	ended := 0
	s := ObserveStream(SliceStream([]int{1, 2}), func(v int) { seen = append(seen, v) }, func() { ended++ })

	_, err := Collect(s)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, 1, ended)
}

func TestPullStream_CloseStopsSequence(t *testing.T) {
	t.Parallel()

	var stopped atomic.Bool
	seq := iter.Seq2[int, error](func(yield func(int, error) bool) {
		defer stopped.Store(true)
		for i := 0; ; i++ {
			if !yield(i, nil) {
				return
			}
		}
	})

	s := PullStream(seq)
	v, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	require.NoError(t, s.Close())
	assert.True(t, stopped.Load())
}

func TestPullStream_EndsWithEOF(t *testing.T) {
	t.Parallel()

	seq := iter.Seq2[string, error](func(yield func(string, error) bool) {
		_ = yield("a", nil) && yield("b", nil)
	})
	out, err := Collect(PullStream(seq))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out)
}

func TestTokenStreams(t *testing.T) {
	t.Parallel()

	chat := SliceStream([]*ChatResponse{
		{Message: NewTextMessage(RoleAssistant, "He"), Delta: "He"},
		{Message: NewTextMessage(RoleAssistant, "He"), Delta: ""},
		{Message: NewTextMessage(RoleAssistant, "Hey"), Delta: "y"},
	})
	tokens, err := Collect(TokensFromChat(chat))
	require.NoError(t, err)
	assert.Equal(t, []string{"He", "y"}, tokens)

	completions, err := Collect(CompletionStreamFromChat(SliceStream([]*ChatResponse{
		{Message: NewTextMessage(RoleAssistant, "ok"), Delta: "ok"},
	})))
	require.NoError(t, err)
	require.Len(t, completions, 1)
	assert.Equal(t, "ok", completions[0].Text)
}

func TestStreamToChannel(t *testing.T) {
	t.Parallel()

	t.Run("delivers items then closes", func(t *testing.T) {
		t.Parallel()

		var got []int
		for r := range StreamToChannel(context.Background(), SliceStream([]int{1, 2, 3})) {
			require.NoError(t, r.Err)
			got = append(got, r.Value)
		}
		assert.Equal(t, []int{1, 2, 3}, got)
	})

	t.Run("error is the last result", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		i := 0
		s := NewStream(func() (int, error) {
			i++
			if i > 1 {
				return 0, boom
			}
			return i, nil
		}, nil)

		var results []Result[int]
		for r := range StreamToChannel(context.Background(), s) {
			results = append(results, r)
		}
		require.Len(t, results, 2)
		assert.Equal(t, 1, results[0].Value)
		assert.ErrorIs(t, results[1].Err, boom)
	})

	t.Run("cancellation closes the stream", func(t *testing.T) {
		t.Parallel()

		var closed atomic.Bool
		s := NewStream(func() (int, error) { return 1, nil }, func() error {
			closed.Store(true)
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		ch := StreamToChannel(ctx, s)
		<-ch
		cancel()

		assert.Eventually(t, closed.Load, time.Second, 5*time.Millisecond)
	})
}
