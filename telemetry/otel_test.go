package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/agentuity/go-guildcache/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNew(t *testing.T) {
	var (
		mu    sync.Mutex
		paths = map[string]string{}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths[r.URL.Path] = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer otel.SetTracerProvider(otel.GetTracerProvider())

	console := logger.NewTestLogger()
	tel, err := New(context.Background(), server.URL, "secret", "guildcache-test", console)
	require.NoError(t, err)
	require.NotNil(t, tel.Logger)
	require.NotNil(t, tel.TracerProvider)

	tel.Logger.Info("hello %s", "collector")
	_, span := tel.TracerProvider.Tracer("test").Start(context.Background(), "op")
	span.End()
	tel.Shutdown()

	assert.True(t, console.Contains("INFO", "hello collector"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer secret", paths["/v1/logs"])
	assert.Equal(t, "Bearer secret", paths["/v1/traces"])
}

func TestNewWithInvalidURL(t *testing.T) {
	tel, err := New(context.Background(), "://invalid-url", "", "svc", nil)
	assert.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "error parsing otlp url")

	_, err = New(context.Background(), "grpc://collector:4317", "", "svc", nil)
	assert.ErrorContains(t, err, "must be http or https")
}

func TestDisabled(t *testing.T) {
	console := logger.NewTestLogger()
	tel := Disabled(console)
	assert.Same(t, console, tel.Logger)
	assert.NotPanics(t, func() { tel.Shutdown() })
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "https://otlp.example.com", Describe("https://otlp.example.com/some/path"))
}
