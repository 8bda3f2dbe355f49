package otel

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Middleware returns an HTTP middleware that extracts/injects W3C traceparent
// headers and records request metrics.
func Middleware(tracer *Tracer, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if (tracer == nil || !tracer.Enabled()) && (metrics == nil || !metrics.Enabled()) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()

			if tracer != nil && tracer.Enabled() {
				ctx = ExtractContext(ctx, r.Header, tracer)

				spanName := r.Method + " " + r.URL.Path
				var span trace.Span
				ctx, span = tracer.StartSpan(ctx, spanName,
					trace.WithSpanKind(trace.SpanKindServer),
					trace.WithAttributes(
						semconv.HTTPRequestMethodKey.String(r.Method),
						semconv.URLPath(r.URL.Path),
						semconv.URLScheme(r.URL.Scheme),
						attribute.String("http.host", r.Host),
					),
				)
				defer func() {
					span.SetAttributes(semconv.HTTPResponseStatusCode(rw.statusCode))
					if rw.statusCode >= 400 {
						span.SetAttributes(attribute.Bool("error", true))
					}
					span.End()
				}()
			}

			next.ServeHTTP(rw, r.WithContext(ctx))

			if metrics != nil && metrics.Enabled() {
				latencyMs := float64(time.Since(start).Microseconds()) / 1000.0
				metrics.RecordHTTPRequest(ctx, r.URL.Path, rw.statusCode, latencyMs)
			}
		})
	}
}

// ExtractContext extracts trace context from incoming HTTP headers.
func ExtractContext(ctx context.Context, headers http.Header, tracer *Tracer) context.Context {
	if tracer == nil || !tracer.Enabled() {
		return ctx
	}
	return tracer.Propagator().Extract(ctx, propagation.HeaderCarrier(headers))
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}
