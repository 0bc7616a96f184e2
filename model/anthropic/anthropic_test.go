package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ model.Completer = (*Completer)(nil)

func TestBuildMessages(t *testing.T) {
	system, messages := buildMessages([]core.Message{
		core.System("world"),
		core.User("Steve: hi"),
		core.Assistant("Alice: hello"),
		core.System("You are Alice."),
	})
	require.Len(t, system, 2)
	assert.Equal(t, "world", system[0].Text)
	assert.Len(t, messages, 2)
}

func TestBuildMessages_SystemOnly(t *testing.T) {
	system, messages := buildMessages([]core.Message{core.System("a"), core.System("summarize")})
	require.Len(t, system, 1)
	assert.Equal(t, "a", system[0].Text)
	assert.Len(t, messages, 1)
}

func TestComplete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[{"type":"text","text":"Greetings."}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	c := NewCompleter(func(o *Options) {
		o.APIKey = "secret"
		o.BaseURL = srv.URL
	})
	text, err := c.Complete(context.Background(), model.Request{Messages: []core.Message{core.System("s"), core.User("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "Greetings.", text)
	assert.EqualValues(t, 500, body["max_tokens"])
}

func TestComplete_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer srv.Close()

	c := NewCompleter(func(o *Options) {
		o.APIKey = "secret"
		o.BaseURL = srv.URL
	})
	_, err := c.Complete(context.Background(), model.Request{Messages: []core.Message{core.User("hi")}})
	assert.ErrorIs(t, err, core.ErrGeneration)
}

func TestComplete_MissingAPIKey(t *testing.T) {
	c := NewCompleter()
	_, err := c.Complete(context.Background(), model.Request{Messages: []core.Message{core.User("hi")}})
	assert.ErrorIs(t, err, core.ErrGeneration)
}
