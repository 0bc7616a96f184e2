package model

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hupe1980/storymesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockCompleter(t *testing.T) {
	m := NewMockCompleter("mock")
	m.AddResponse("Steve: hello", "Alice")

	out, err := m.Complete(context.Background(), Request{Messages: []core.Message{core.System("pick"), core.User("Steve: hello")}})
	require.NoError(t, err)
	assert.Equal(t, "Alice", out)

	out, err = m.Complete(context.Background(), Request{Messages: []core.Message{core.User("other")}})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", out)

	_, err = m.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, core.ErrGeneration)

	assert.Len(t, m.Calls(), 2)
	assert.Equal(t, Info{Name: "mock", Provider: "mock"}, m.Info())
}

func TestMockCompleter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockCompleter("m").Complete(ctx, Request{Messages: []core.Message{core.User("x")}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, core.ErrGeneration)
}

func TestNewHTTPClient_ReadTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(Timeouts{Connect: time.Second, Write: time.Second, Read: 50 * time.Millisecond})
	resp, err := client.Get(srv.URL)
	if resp != nil {
		_ = resp.Body.Close()
	}
	assert.Error(t, err)
}

func TestNewHTTPClient_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(DefaultTimeouts).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
