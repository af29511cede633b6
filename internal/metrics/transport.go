package metrics

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// transport wraps an http.RoundTripper to record collector request metrics.
type transport struct {
	collector string
	reg       *Registry
	logger    *zap.Logger
	next      http.RoundTripper
}

// InstrumentTransport returns a RoundTripper that records metrics and debug
// logs for every request sent through next. A nil next uses
// http.DefaultTransport.
func InstrumentTransport(collector string, reg *Registry, logger *zap.Logger, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &transport{collector: collector, reg: reg, logger: logger, next: next}
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.reg.InFlightInc()
	defer t.reg.InFlightDec()

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	t.reg.RecordRequest(t.collector, status, duration.Seconds())

	t.logger.Debug("collector request",
		zap.String("collector", t.collector),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", status),
		zap.Float64("duration_ms", float64(duration.Microseconds())/1000),
		zap.Error(err),
	)
	return resp, err
}
