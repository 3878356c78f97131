package reqnet

import (
	"time"

	"github.com/vitwit/reqnet/logger"
	"github.com/vitwit/reqnet/metrics"
)

type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		e.rec = r
	}
}

func WithTimeout(t time.Duration) Option {
	return func(e *Engine) {
		e.timeout = t
	}
}
