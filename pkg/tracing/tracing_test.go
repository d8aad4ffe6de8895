package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"otlp grpc", func(c *Config) { c.ExporterType = "otlp-grpc" }, false},
		{"empty service", func(c *Config) { c.ServiceName = "" }, true},
		{"bad ratio", func(c *Config) { c.SamplingRate = 1.5 }, true},
		{"bad exporter", func(c *Config) { c.ExporterType = "zipkin" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConvertToAttribute(t *testing.T) {
	assert.Equal(t, attribute.String("k", "v"), convertToAttribute("k", "v"))
	assert.Equal(t, attribute.Int("k", 1), convertToAttribute("k", 1))
	assert.Equal(t, attribute.Bool("k", true), convertToAttribute("k", true))
	assert.Equal(t, attribute.String("k", "{1}"), convertToAttribute("k", struct{ A int }{1}))
}

func TestStartSpanRecordError(t *testing.T) {
	sr := newRecorder(t)

	_, span := StartSpan(context.Background(), "ws.test")
	RecordError(span, assert.AnError)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "ws.test", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sr := newRecorder(t)

	r := gin.New()
	r.Use(Middleware(WithFilter(func(c *gin.Context) bool {
		return c.Request.URL.Path != "/healthz"
	})))
	r.GET("/chat/:room", func(c *gin.Context) {
		assert.True(t, SpanFromContext(c.Request.Context()).SpanContext().IsValid())
		c.Status(http.StatusInternalServerError)
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat/lobby", nil))
	assert.NotEmpty(t, w.Header().Get("traceparent"))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /chat/:room", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestNewTracerProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.ResourceAttributes["qiws.node"] = "node-1"

	tp, err := NewTracerProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "noop", cfg.ExporterType)
	assert.Same(t, tp, otel.GetTracerProvider())

	_, span := tp.Tracer("test").Start(context.Background(), "ws.received")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, Shutdown(context.Background()))
	// 重复关闭为空操作
	require.NoError(t, Shutdown(context.Background()))

	cfg = DefaultConfig()
	cfg.ExporterType = "zipkin"
	_, err = NewTracerProvider(cfg)
	assert.Error(t, err)
}

func TestNewSampler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SamplingRate = 0.25
	tests := map[string]string{
		"always":       "AlwaysOnSampler",
		"never":        "AlwaysOffSampler",
		"ratio":        "TraceIDRatioBased{0.25}",
		"parent_based": "ParentBased{root:TraceIDRatioBased{0.25}",
		"unknown":      "ParentBased{root:TraceIDRatioBased{0.25}",
	}
	for typ, want := range tests {
		cfg.SamplingType = typ
		assert.Contains(t, newSampler(cfg).Description(), want, typ)
	}
}
