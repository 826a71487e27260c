package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/requestctx"
)

const traceContextHeader = "X-Cloud-Trace-Context"

// RequestLogger returns middleware that injects a request-scoped logger and
// emits one structured access log entry per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			requestID := middleware.GetReqID(ctx)
			trace := parseTraceContext(r.Header.Get(traceContextHeader))

			reqLogger := logger.With(
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			if trace.TraceID != "" {
				reqLogger = reqLogger.With(zap.String("trace_id", trace.TraceID))
				ctx = requestctx.WithTrace(ctx, trace)
			}
			ctx = requestctx.WithLogger(ctx, reqLogger)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http.request",
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// parseTraceContext extracts trace metadata from the Cloud Trace header
// format TRACE_ID/SPAN_ID;o=OPTIONS.
func parseTraceContext(header string) requestctx.TraceInfo {
	header = strings.TrimSpace(header)
	if header == "" {
		return requestctx.TraceInfo{}
	}

	var info requestctx.TraceInfo
	slash := strings.IndexByte(header, '/')
	if slash < 0 {
		info.TraceID = header
		return info
	}
	info.TraceID = header[:slash]

	rest := header[slash+1:]
	if semi := strings.IndexByte(rest, ';'); semi >= 0 {
		info.SpanID = rest[:semi]
		opts := rest[semi+1:]
		if strings.HasPrefix(opts, "o=") {
			if sampled, err := strconv.Atoi(opts[2:]); err == nil {
				info.Sampled = sampled == 1
			}
		}
	} else {
		info.SpanID = rest
	}
	return info
}
