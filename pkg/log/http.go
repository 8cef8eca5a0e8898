package log

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HeaderRequestID carries the request id on inbound and outbound HTTP calls.
const HeaderRequestID = "X-Request-ID"

// HTTPMiddleware logs every request of the local control API and puts a
// request-scoped logger and id on the request context. Server errors are
// logged at error level, client errors at warn, probes at debug.
func HTTPMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := r.Header.Get(HeaderRequestID)
			if reqID == "" {
				reqID = uuid.New().String()
			}
			w.Header().Set(HeaderRequestID, reqID)

			child := logger.With().
				Str(FieldRequestID, reqID).
				Str(FieldMethod, r.Method).
				Str(FieldPath, r.URL.Path).
				Str(FieldClientIP, clientIP(r)).
				Logger()
			r = r.WithContext(WithLogger(WithRequestID(r.Context(), reqID), child))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			var ev *zerolog.Event
			switch {
			case rec.status >= 500:
				ev = child.Error()
			case rec.status >= 400:
				ev = child.Warn()
			case r.URL.Path == "/health" || r.URL.Path == "/metrics":
				ev = child.Debug()
			default:
				ev = child.Info()
			}
			ev.Int(FieldStatus, rec.status).
				Int("bytes", rec.bytes).
				Int64(FieldLatency, time.Since(start).Milliseconds()).
				Msg("request completed")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// clientIP extracts the client IP from X-Forwarded-For, X-Real-IP, or RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Outbound wraps base so every outgoing request carries the request id of
// its context and is logged at debug level. A nil base means
// http.DefaultTransport.
func Outbound(base http.RoundTripper, logger zerolog.Logger) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &outbound{base: base, logger: logger}
}

type outbound struct {
	base   http.RoundTripper
	logger zerolog.Logger
}

func (o *outbound) RoundTrip(req *http.Request) (*http.Response, error) {
	reqID := req.Header.Get(HeaderRequestID)
	if reqID == "" {
		reqID = RequestID(req.Context())
		req = req.Clone(req.Context())
		req.Header.Set(HeaderRequestID, reqID)
	}

	start := time.Now()
	resp, err := o.base.RoundTrip(req)

	ev := o.logger.Debug().
		Str(FieldRequestID, reqID).
		Str(FieldMethod, req.Method).
		Str(FieldPath, req.URL.Path).
		Int64(FieldLatency, time.Since(start).Milliseconds())
	if err != nil {
		ev.Err(err).Msg("outbound request failed")
		return nil, err
	}
	ev.Int(FieldStatus, resp.StatusCode).Msg("outbound request")
	return resp, nil
}
