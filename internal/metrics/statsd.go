// Package metrics reports scheduler timings to a statsd agent. It keeps the
// datadog client behind one type so the rest of the tree only sees
// system.Observer.
package metrics

import (
	"errors"
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"go.uber.org/zap"

	"github.com/l1jgo/sched/internal/config"
	"github.com/l1jgo/sched/internal/core/system"
)

// Reporter implements system.Observer on top of a statsd client.
type Reporter struct {
	client ddstatsd.ClientInterface
	log    *zap.Logger
}

var _ system.Observer = (*Reporter)(nil)

// NewNop returns a reporter that drops every metric.
func NewNop() *Reporter {
	return &Reporter{client: &ddstatsd.NoOpClient{}, log: zap.NewNop()}
}

// New dials the statsd agent at cfg.StatsdAddress. An empty address yields a
// no-op reporter.
func New(cfg config.MetricsConfig, log *zap.Logger) (*Reporter, error) {
	if cfg.StatsdAddress == "" {
		r := NewNop()
		r.log = log
		return r, nil
	}
	opts := []ddstatsd.Option{ddstatsd.WithNamespace(cfg.Namespace)}
	if len(cfg.Tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(cfg.Tags))
	}
	c, err := ddstatsd.New(cfg.StatsdAddress, opts...)
	if err != nil {
		return nil, err
	}
	return &Reporter{client: c, log: log}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c ddstatsd.ClientInterface, log *zap.Logger) *Reporter {
	return &Reporter{client: c, log: log}
}

func (r *Reporter) SystemRan(name string, took time.Duration, err error) {
	tags := []string{"system:" + name}
	r.warn(r.client.Timing("system.run", took, tags, 1))
	if err != nil {
		var pe *system.PanicError
		kind := "error"
		if errors.As(err, &pe) {
			kind = "panic"
		}
		r.warn(r.client.Incr("system.failure", append(tags, "kind:"+kind), 1))
	}
}

func (r *Reporter) FrameDone(res system.FrameResult, took time.Duration) {
	r.warn(r.client.Timing("frame", took, nil, 1))
	r.warn(r.client.Gauge("frame.systems_run", float64(res.SystemsRun), nil, 1))
	if n := len(res.Errors); n > 0 {
		r.warn(r.client.Count("frame.errors", int64(n), nil, 1))
	}
}

// Count emits an arbitrary counter, used for control-plane commands.
func (r *Reporter) Count(name string, value int64, tags ...string) {
	r.warn(r.client.Count(name, value, tags, 1))
}

func (r *Reporter) Close() error {
	return r.client.Close()
}

func (r *Reporter) warn(err error) {
	if err != nil {
		r.log.Warn("failed to emit metric", zap.Error(err))
	}
}
