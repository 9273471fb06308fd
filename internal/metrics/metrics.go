// Package metrics exposes pipeline, model and tool measurements to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/llm"
	"github.com/kkk0312/mdia/internal/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mdia"

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	reg *prometheus.Registry

	stages      *prometheus.CounterVec
	steps       *prometheus.CounterVec
	stepSeconds prometheus.Histogram
	validations *prometheus.CounterVec
	modelCalls  *prometheus.CounterVec
	modelTime   prometheus.Histogram
	toolCalls   *prometheus.CounterVec
	toolTime    *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_completed_total",
			Help:      "Pipeline stages marked completed.",
		}, []string{"stage"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Executed plan steps by outcome.",
		}, []string{"status", "repaired"}),
		stepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one plan step including tool calls and validation.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_validations_total",
			Help:      "Tool output validations by verdict.",
		}, []string{"matches"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Model gateway calls by result.",
		}, []string{"result"}),
		modelTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Model gateway call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and result.",
		}, []string{"tool", "result"}),
		toolTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.stages, m.steps, m.stepSeconds, m.validations,
		m.modelCalls, m.modelTime, m.toolCalls, m.toolTime,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// StageCompleted implements pipeline.Recorder.
func (m *Metrics) StageCompleted(stage analysis.Stage) {
	m.stages.WithLabelValues(string(stage)).Inc()
}

// StepFinished implements pipeline.Recorder.
func (m *Metrics) StepFinished(status analysis.StepStatus, repaired bool, elapsed time.Duration) {
	m.steps.WithLabelValues(string(status), boolLabel(repaired)).Inc()
	m.stepSeconds.Observe(elapsed.Seconds())
}

// Validation implements pipeline.Recorder.
func (m *Metrics) Validation(matches bool) {
	m.validations.WithLabelValues(boolLabel(matches)).Inc()
}

// ObserveTool is a tools.Observer.
func (m *Metrics) ObserveTool(tool string, elapsed time.Duration, err error) {
	m.toolCalls.WithLabelValues(tool, resultLabel(err)).Inc()
	m.toolTime.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// Instrument attaches m to reg.
func (m *Metrics) Instrument(reg *tools.Registry) {
	reg.Observe(m.ObserveTool)
}

// Gateway wraps gw so every call is counted and timed.
func (m *Metrics) Gateway(gw llm.Gateway) llm.Gateway {
	return llm.GatewayFunc(func(ctx context.Context, parts []llm.Part) (string, error) {
		start := time.Now()
		out, err := gw.Complete(ctx, parts)
		m.modelCalls.WithLabelValues(resultLabel(err)).Inc()
		m.modelTime.Observe(time.Since(start).Seconds())
		return out, err
	})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
