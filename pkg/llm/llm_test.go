package llm_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inercia/go-llmcore/pkg/llm"
	"github.com/inercia/go-llmcore/pkg/providers/mock"
)

type city struct {
	Name       string `json:"name" required:"true"`
	Population int    `json:"population"`
}

// recorder is a Sink keeping event names in order
type recorder struct {
	mu     sync.Mutex
	events []llm.Event
}

func (r *recorder) Emit(_ context.Context, ev llm.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		names = append(names, ev.EventName())
	}
	return names
}

func TestPredict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("chat model", func(t *testing.T) {
		t.Parallel()

		client := mock.NewClient("chat-model")
		rec := &recorder{}
		model := llm.New(client, llm.WithSystemPrompt("Be brief."), llm.WithSink(rec))

		out, err := model.Predict(ctx, llm.NewPromptTemplate("Tell me about {{.topic}}"), map[string]any{"topic": "Go"})
		require.NoError(t, err)
		assert.Equal(t, "Mock response to: Tell me about Go", out)

		call := client.LastCall()
		require.NotNil(t, call)
		assert.Equal(t, "Chat", call.Method)
		require.Len(t, call.Messages, 2)
		assert.Equal(t, llm.NewTextMessage(llm.RoleSystem, "Be brief."), call.Messages[0])

		assert.Equal(t, []string{"predict_start", "templating", "chat_start", "chat_end", "predict_end"}, rec.names())
	})

	t.Run("completion model", func(t *testing.T) {
		t.Parallel()

		client := mock.NewClient("text-model").WithCompletionMode()
		rec := &recorder{}
		model := llm.New(client,
			llm.WithSystemPrompt("sys"),
			llm.WithQueryWrapper(llm.NewPromptTemplate("[INST] {{.query_str}} [/INST]")),
			llm.WithSink(rec),
		)

		_, err := model.Predict(ctx, llm.NewPromptTemplate("hello {{.who}}"), map[string]any{"who": "world"})
		require.NoError(t, err)

		call := client.LastCall()
		assert.Equal(t, "Complete", call.Method)
		assert.Equal(t, "[INST] sys\n\nhello world [/INST]", call.Prompt)
		assert.Contains(t, rec.names(), "completion_end")
	})

	t.Run("chat template flattened for completion models", func(t *testing.T) {
		t.Parallel()

		client := mock.NewClient("text-model").WithCompletionMode()
		model := llm.New(client, llm.WithMessagesToPrompt(func(msgs []llm.Message) string {
			return "<<" + msgs[0].Content + ">>"
		}))

		tmpl := llm.NewChatPromptTemplate(llm.MessageTemplate{Role: llm.RoleUser, Text: "hi {{.name}}"})
		_, err := model.Predict(ctx, tmpl, map[string]any{"name": "bob"})
		require.NoError(t, err)
		assert.Equal(t, "<<hi bob>>", client.LastCall().Prompt)
	})

	t.Run("output parser", func(t *testing.T) {
		t.Parallel()

		parser, err := llm.NewJSONOutputParser[city]()
		require.NoError(t, err)

		client := mock.NewClient("chat-model").WithSimpleResponse("```json\n{\"name\": \"Oslo\", \"population\": 700000}\n```")
		model := llm.New(client, llm.WithOutputParser(parser))

		out, err := model.Predict(ctx, llm.NewPromptTemplate("Describe Oslo"), nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"name": "Oslo", "population": 700000}`, out)

		sent := client.LastCall().Messages
		assert.Contains(t, sent[len(sent)-1].Content, "Here's a JSON schema to follow")
	})

	t.Run("output parser failure", func(t *testing.T) {
		t.Parallel()

		parser, err := llm.NewJSONOutputParser[city]()
		require.NoError(t, err)

		client := mock.NewClient("chat-model").WithSimpleResponse("I don't know")
		model := llm.New(client, llm.WithOutputParser(parser))

		_, err = model.Predict(ctx, llm.NewPromptTemplate("Describe Oslo"), nil)
		var ve *llm.ValidationError
		assert.ErrorAs(t, err, &ve)
	})

	t.Run("backend error", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("backend down")
		model := llm.New(mock.NewClient("chat-model").WithError(boom))
		_, err := model.Predict(ctx, llm.NewPromptTemplate("hi"), nil)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("panicking sink", func(t *testing.T) {
		t.Parallel()

		sink := llm.SinkFunc(func(context.Context, llm.Event) { panic("sink exploded") })
		model := llm.New(mock.NewClient("chat-model"), llm.WithSink(sink))

		out, err := model.Predict(ctx, llm.NewPromptTemplate("hi"), nil)
		require.NoError(t, err)
		assert.Equal(t, "Mock response to: hi", out)
	})
}

func TestAPredict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	model := llm.New(mock.NewClient("chat-model"))
	out, err := model.APredict(ctx, llm.NewPromptTemplate("hi"), nil).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: hi", out)

	slow := llm.New(mock.NewClient("chat-model").WithLatency(time.Second))
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = slow.APredict(ctx, llm.NewPromptTemplate("hi"), nil).Await(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStream(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("parser is rejected before any call", func(t *testing.T) {
		t.Parallel()

		parser, err := llm.NewJSONOutputParser[city]()
		require.NoError(t, err)
		client := mock.NewClient("chat-model")

		_, err = llm.New(client, llm.WithOutputParser(parser)).Stream(ctx, llm.NewPromptTemplate("hi"), nil)
		assert.ErrorIs(t, err, llm.ErrStreamingOutputParser)

		tmpl := &llm.PromptTemplate{Text: "hi", Parser: parser}
		_, err = llm.New(client).Stream(ctx, tmpl, nil)
		assert.ErrorIs(t, err, llm.ErrStreamingOutputParser)

		assert.Zero(t, client.CallCount())
	})

	t.Run("tokens and events", func(t *testing.T) {
		t.Parallel()

		client := mock.NewClient("chat-model").WithStreamText("Hel", "", "lo")
		rec := &recorder{}
		model := llm.New(client, llm.WithSink(rec))

		s, err := model.Stream(ctx, llm.NewPromptTemplate("hi"), nil)
		require.NoError(t, err)
		tokens, err := llm.Collect(s)
		require.NoError(t, err)

		assert.Equal(t, []string{"Hel", "lo"}, tokens)
		assert.Equal(t, []string{"predict_start", "templating", "chat_start", "chat_end", "predict_end"}, rec.names())
		assert.Equal(t, 1, client.StreamsOpened())
		assert.Equal(t, 1, client.StreamsClosed())

		last := rec.events[len(rec.events)-1].(llm.PredictEndEvent)
		assert.Equal(t, "Hello", last.Output)
	})

	t.Run("completion model", func(t *testing.T) {
		t.Parallel()

		client := mock.NewClient("text-model").WithCompletionMode()
		s, err := llm.New(client).Stream(ctx, llm.NewPromptTemplate("ping"), nil)
		require.NoError(t, err)
		tokens, err := llm.Collect(s)
		require.NoError(t, err)

		assert.Equal(t, "Mock response to: ping", strings.Join(tokens, ""))
		assert.Equal(t, "StreamComplete", client.LastCall().Method)
	})

	t.Run("channel delivery", func(t *testing.T) {
		t.Parallel()

		client := mock.NewClient("chat-model").WithStreamText("a", "b")
		ch, err := llm.New(client).AStream(ctx, llm.NewPromptTemplate("hi"), nil)
		require.NoError(t, err)

		var got []string
		for r := range ch {
			require.NoError(t, r.Err)
			got = append(got, r.Value)
		}
		assert.Equal(t, []string{"a", "b"}, got)
		assert.Equal(t, 1, client.StreamsClosed())
	})
}

func TestStructuredPredict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	prompt := llm.NewPromptTemplate("Describe {{.city}}")
	args := map[string]any{"city": "Oslo"}

	t.Run("native", func(t *testing.T) {
		t.Parallel()

		client := mock.NewClient("chat-model").WithNativeStructuredOutput().
			WithSimpleResponse(`{"name": "Oslo", "population": 700000}`)
		rec := &recorder{}
		model := llm.New(client, llm.WithSystemPrompt("Be exact."), llm.WithSink(rec))

		got, err := llm.StructuredPredict[city](ctx, model, prompt, args)
		require.NoError(t, err)
		assert.Equal(t, &city{Name: "Oslo", Population: 700000}, got)

		call := client.LastCall()
		assert.Equal(t, "StructuredChat", call.Method)
		require.NotNil(t, call.Schema)
		assert.Equal(t, "city", call.Schema.Name)
		assert.Equal(t, llm.RoleSystem, call.Messages[0].Role)

		names := rec.names()
		assert.Equal(t, "structured_predict_start", names[0])
		assert.Equal(t, "structured_predict_end", names[len(names)-1])
	})

	t.Run("native mismatch", func(t *testing.T) {
		t.Parallel()

		client := mock.NewClient("chat-model").WithNativeStructuredOutput().
			WithSimpleResponse(`{"name": "Oslo", "mayor": "someone"}`)
		_, err := llm.StructuredPredict[city](ctx, llm.New(client), prompt, args)
		assert.ErrorIs(t, err, llm.ErrStructuredOutputMismatch)
	})

	t.Run("prompted with retries", func(t *testing.T) {
		t.Parallel()

		client := mock.NewClient("chat-model").
			WithSimpleResponse("Oslo is nice").
			WithSimpleResponse(`Here: {"name": "Oslo", "population": 700000}`)
		model := llm.New(client, llm.WithStructuredRetries(1))

		got, err := llm.StructuredPredict[city](ctx, model, prompt, args)
		require.NoError(t, err)
		assert.Equal(t, "Oslo", got.Name)
		assert.Equal(t, 2, client.CallCount())
		assert.Contains(t, client.LastCall().Messages[0].Content, "Here's a JSON schema to follow")
	})

	t.Run("prompted retries exhausted", func(t *testing.T) {
		t.Parallel()

		client := mock.NewClient("chat-model").WithSimpleResponse("no").WithSimpleResponse("still no")
		model := llm.New(client, llm.WithStructuredRetries(1))

		_, err := llm.StructuredPredict[city](ctx, model, prompt, args)
		var ve *llm.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "still no", ve.Output)
		assert.Equal(t, 2, client.CallCount())
	})

	t.Run("llm mode skips native output", func(t *testing.T) {
		t.Parallel()

		client := mock.NewClient("chat-model").WithNativeStructuredOutput().
			WithSimpleResponse(`{"name": "Oslo"}`)
		model := llm.New(client, llm.WithProgramMode(llm.ProgramModeLLM))

		_, err := llm.StructuredPredict[city](ctx, model, prompt, args)
		require.NoError(t, err)
		assert.Equal(t, "Chat", client.LastCall().Method)
	})

	t.Run("async", func(t *testing.T) {
		t.Parallel()

		client := mock.NewClient("chat-model").WithSimpleResponse(`{"name": "Oslo"}`)
		got, err := llm.AStructuredPredict[city](ctx, llm.New(client), prompt, args).Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Oslo", got.Name)
	})
}

func TestStreamStructuredPredict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	prompt := llm.NewPromptTemplate("Describe Oslo")

	t.Run("partial snapshots", func(t *testing.T) {
		t.Parallel()

		client := mock.NewClient("chat-model").
			WithStreamText(`{"name": "Os`, `lo", "population": 7`, `00000}`)
		rec := &recorder{}
		model := llm.New(client, llm.WithSink(rec))

		s, err := llm.StreamStructuredPredict[city](ctx, model, prompt, nil)
		require.NoError(t, err)
		snapshots, err := llm.Collect(s)
		require.NoError(t, err)

		require.NotEmpty(t, snapshots)
		assert.Equal(t, &city{Name: "Oslo", Population: 700000}, snapshots[len(snapshots)-1])
		for i := 1; i < len(snapshots); i++ {
			assert.NotEqual(t, snapshots[i-1], snapshots[i], "consecutive snapshots differ")
		}

		inProgress := 0
		for _, name := range rec.names() {
			if name == "structured_predict_in_progress" {
				inProgress++
			}
		}
		assert.Equal(t, len(snapshots), inProgress)
		names := rec.names()
		assert.Equal(t, "structured_predict_end", names[len(names)-1])
	})

	t.Run("output parser rejected before any call", func(t *testing.T) {
		t.Parallel()

		parser, err := llm.NewJSONOutputParser[city]()
		require.NoError(t, err)
		client := mock.NewClient("chat-model").WithStreamText(`{"name": "Oslo"}`)
		rec := &recorder{}
		model := llm.New(client, llm.WithOutputParser(parser), llm.WithSink(rec))

		_, err = llm.StreamStructuredPredict[city](ctx, model, prompt, nil)
		assert.ErrorIs(t, err, llm.ErrStreamingOutputParser)

		_, err = llm.AStreamStructuredPredict[city](ctx, model, prompt, nil)
		assert.ErrorIs(t, err, llm.ErrStreamingOutputParser)

		tmpl := &llm.PromptTemplate{Text: "Describe Oslo", Parser: parser}
		_, err = llm.StreamStructuredPredict[city](ctx, llm.New(client), tmpl, nil)
		assert.ErrorIs(t, err, llm.ErrStreamingOutputParser)

		assert.Zero(t, client.CallCount())
		assert.Zero(t, client.StreamsOpened())
		assert.Empty(t, rec.names())
	})

	t.Run("native stream", func(t *testing.T) {
		t.Parallel()

		client := mock.NewClient("chat-model").WithNativeStructuredOutput().
			WithStreamText(`{"name": "Oslo"`, `, "population": 1}`)
		ch, err := llm.AStreamStructuredPredict[city](ctx, llm.New(client), prompt, nil)
		require.NoError(t, err)

		var last *city
		for r := range ch {
			require.NoError(t, r.Err)
			last = r.Value
		}
		assert.Equal(t, &city{Name: "Oslo", Population: 1}, last)
		assert.Equal(t, "StreamStructuredChat", client.LastCall().Method)
	})

	t.Run("nothing decodable", func(t *testing.T) {
		t.Parallel()

		client := mock.NewClient("chat-model").WithStreamText("I can't ", "help with that")
		s, err := llm.StreamStructuredPredict[city](ctx, llm.New(client), prompt, nil)
		require.NoError(t, err)

		_, err = llm.Collect(s)
		var ve *llm.ValidationError
		assert.ErrorAs(t, err, &ve)
	})
}

func TestStructuredLLM(t *testing.T) {
	t.Parallel()

	client := mock.NewClient("chat-model").WithSimpleResponse(`{"name": "Oslo", "population": 3}`)
	sllm := llm.AsStructuredLLM[city](llm.New(client))

	resp, err := sllm.Chat(context.Background(), []llm.Message{llm.NewTextMessage(llm.RoleUser, "{{not a template}}")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name": "Oslo", "population": 3}`, resp.Message.Content)
	assert.Equal(t, &city{Name: "Oslo", Population: 3}, resp.Raw)
	assert.True(t, strings.HasPrefix(client.LastCall().Messages[0].Content, "{{not a template}}"),
		"message text is sent as is")
}
