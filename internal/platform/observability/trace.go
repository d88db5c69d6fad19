package observability

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maplewick/api/internal/platform/requestctx"
)

const cloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/maplewick/api/internal/platform/observability")

// TraceMiddleware starts a server span for every request, honouring an
// incoming X-Cloud-Trace-Context header, and stores the resulting trace
// metadata on the request context for log correlation.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if remote, ok := remoteSpanContext(r.Header.Get(cloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}

			ctx, span := tracer.Start(ctx, requestSpanName(r), trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			span.SetAttributes(requestSpanAttributes(r)...)

			spanCtx := span.SpanContext()
			info := requestctx.TraceInfo{
				ProjectID: projectID,
				TraceID:   spanCtx.TraceID().String(),
				SpanID:    spanCtx.SpanID().String(),
				Sampled:   spanCtx.IsSampled(),
			}
			r = r.WithContext(requestctx.WithTrace(ctx, info))

			w.Header().Set(cloudTraceHeader, info.HeaderValue())

			next.ServeHTTP(w, r)
		})
	}
}

// remoteSpanContext parses the TRACE_ID/SPAN_ID;o=OPT header format used
// by Google's HTTP load balancers.
func remoteSpanContext(header string) (trace.SpanContext, bool) {
	header = strings.TrimSpace(header)
	slash := strings.IndexByte(header, '/')
	if slash < 0 {
		return trace.SpanContext{}, false
	}

	traceID, err := trace.TraceIDFromHex(header[:slash])
	if err != nil {
		return trace.SpanContext{}, false
	}

	rest := header[slash+1:]
	sampled := false
	if semi := strings.IndexByte(rest, ';'); semi >= 0 {
		sampled = traceHeaderSampled(rest[semi+1:])
		rest = rest[:semi]
	}

	// Span IDs arrive as decimal or short hex; left-pad to the 16 hex
	// characters the SDK requires.
	spanHex := strings.TrimSpace(rest)
	if len(spanHex) < 16 {
		spanHex = strings.Repeat("0", 16-len(spanHex)) + spanHex
	}
	spanID, err := trace.SpanIDFromHex(spanHex)
	if err != nil {
		return trace.SpanContext{}, false
	}

	var flags trace.TraceFlags
	if sampled {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

func traceHeaderSampled(options string) bool {
	for _, segment := range strings.Split(options, ";") {
		if strings.TrimSpace(segment) == "o=1" {
			return true
		}
	}
	return false
}

func requestSpanName(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return r.Method + " " + path
}

func requestSpanAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", r.Method),
		attribute.String("url.scheme", scheme),
	}
	if path := r.URL.Path; path != "" {
		attrs = append(attrs, attribute.String("url.path", path))
	}
	if r.Host != "" {
		attrs = append(attrs, attribute.String("server.address", r.Host))
	}
	return attrs
}
