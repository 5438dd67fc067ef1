package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/creditcore/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = provider.Shutdown(t.Context())
	})
	return recorder
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestGinMiddlewareCarriesUserAndFeature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := withRecorder(t)

	r := gin.New()
	r.Use(GinMiddleware())
	r.POST("/usage/check", func(c *gin.Context) {
		ctx := obscontext.WithUserID(c.Request.Context(), "5001")
		ctx = obscontext.WithFeatureKey(ctx, "GENERATE_IMAGE")
		c.Request = c.Request.WithContext(ctx)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/usage/check", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "HTTP POST /usage/check" {
		t.Fatalf("unexpected span name %q", span.Name())
	}
	attrs := spanAttrs(span)
	if attrs[AttrUserID].AsString() != "5001" {
		t.Fatalf("expected user id attribute, got %v", attrs)
	}
	if attrs[AttrFeatureKey].AsString() != "GENERATE_IMAGE" {
		t.Fatalf("expected feature key attribute, got %v", attrs)
	}
	if attrs["http.status_code"].AsInt64() != http.StatusOK {
		t.Fatalf("expected status attribute 200, got %v", attrs["http.status_code"])
	}
}

func TestGinMiddlewareAnonymousServerError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := withRecorder(t)

	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/account/credits", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/account/credits", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := spanAttrs(spans[0])
	if _, ok := attrs[AttrUserID]; ok {
		t.Fatalf("expected no user attribute on anonymous request")
	}
	if spans[0].Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", spans[0].Status())
	}
}
