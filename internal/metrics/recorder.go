// Package metrics 基于 Prometheus 记录 bundle 请求结局、安装/编译耗时与缓存命中情况。
// Recorder 的所有方法都允许 nil 接收者，未启用指标时调用方无需判空。
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome 标记一次 bundle 请求的最终去向。
type Outcome string

const (
	OutcomeServe             Outcome = "serve"
	OutcomeServeShrinkwrap   Outcome = "serve_shrinkwrapped"
	OutcomeRedirectCanonical Outcome = "redirect_canonical"
	OutcomeRedirectTimeout   Outcome = "redirect_timeout"
	OutcomeTimeout           Outcome = "timeout"
	OutcomeError             Outcome = "error"
)

// Lookup 标记缓存查找结果。
type Lookup string

const (
	LookupHit    Lookup = "hit"
	LookupMiss   Lookup = "miss"
	LookupJoined Lookup = "joined"
)

// Recorder 持有独立的 Registry，避免测试之间互相污染全局默认注册表。
type Recorder struct {
	registry        *prom.Registry
	requests        *prom.CounterVec
	installDuration *prom.HistogramVec
	compileDuration *prom.HistogramVec
	lookups         *prom.CounterVec
	evictions       *prom.CounterVec
}

// NewRecorder 构造并注册全部指标；reg 为 nil 时新建 Registry。
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		registry: reg,
		requests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildhub",
			Name:      "bundle_requests_total",
			Help:      "Bundle requests by final outcome",
		}, []string{"outcome"}),
		installDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "buildhub",
			Name:      "install_duration_seconds",
			Help:      "Duration of module set installations",
			Buckets:   prom.ExponentialBuckets(0.5, 2, 10),
		}, []string{"result"}),
		compileDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "buildhub",
			Name:      "compile_duration_seconds",
			Help:      "Duration of bundle compilations",
			Buckets:   prom.ExponentialBuckets(0.1, 2, 12),
		}, []string{"type", "result"}),
		lookups: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildhub",
			Name:      "cache_lookups_total",
			Help:      "Installation and bundle cache lookups by result",
		}, []string{"cache", "result"}),
		evictions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildhub",
			Name:      "cache_evictions_total",
			Help:      "Expired cache entries removed by the sweeper",
		}, []string{"cache"}),
	}
	reg.MustRegister(r.requests, r.installDuration, r.compileDuration, r.lookups, r.evictions)
	return r
}

// IncRequest 记录一次请求结局。
func (r *Recorder) IncRequest(outcome Outcome) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(string(outcome)).Inc()
}

// ObserveInstall 记录一次安装耗时。
func (r *Recorder) ObserveInstall(d time.Duration, success bool) {
	if r == nil {
		return
	}
	r.installDuration.WithLabelValues(resultLabel(success)).Observe(d.Seconds())
}

// ObserveCompile 记录一次编译耗时。
func (r *Recorder) ObserveCompile(bundleType string, d time.Duration, success bool) {
	if r == nil {
		return
	}
	r.compileDuration.WithLabelValues(bundleType, resultLabel(success)).Observe(d.Seconds())
}

// IncLookup 记录缓存查找结果，cache 取值 installation 或 bundle。
func (r *Recorder) IncLookup(cache string, result Lookup) {
	if r == nil {
		return
	}
	r.lookups.WithLabelValues(cache, string(result)).Inc()
}

// AddEvictions 累加一次清扫移除的条目数。
func (r *Recorder) AddEvictions(cache string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.evictions.WithLabelValues(cache).Add(float64(n))
}

// Registry 返回底层 Registry，便于测试直接 Gather。
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler 返回暴露当前 Registry 的 HTTP handler。
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}
