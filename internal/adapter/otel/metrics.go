package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "issueforge"

// Metrics holds all IssueForge metric instruments.
type Metrics struct {
	SessionsStarted    metric.Int64Counter
	SessionsFinished   metric.Int64Counter
	AgentRuns          metric.Int64Counter
	LimitPauses        metric.Int64Counter
	TransientRetries   metric.Int64Counter
	DivergenceOutcomes metric.Int64Counter
	AgentDuration      metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.GetMeterProvider())
}

// NewMetricsFrom creates all metric instruments on mp.
func NewMetricsFrom(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SessionsStarted, err = meter.Int64Counter("issueforge.sessions.started",
		metric.WithDescription("Number of sessions started"))
	if err != nil {
		return nil, err
	}

	m.SessionsFinished, err = meter.Int64Counter("issueforge.sessions.finished",
		metric.WithDescription("Number of sessions finished, by termination reason"))
	if err != nil {
		return nil, err
	}

	m.AgentRuns, err = meter.Int64Counter("issueforge.agent.runs",
		metric.WithDescription("Number of agent sessions run, by outcome"))
	if err != nil {
		return nil, err
	}

	m.LimitPauses, err = meter.Int64Counter("issueforge.agent.limit_pauses",
		metric.WithDescription("Number of usage-limit pauses"))
	if err != nil {
		return nil, err
	}

	m.TransientRetries, err = meter.Int64Counter("issueforge.agent.transient_retries",
		metric.WithDescription("Number of agent retries after transient failures"))
	if err != nil {
		return nil, err
	}

	m.DivergenceOutcomes, err = meter.Int64Counter("issueforge.push.outcomes",
		metric.WithDescription("Push outcomes, by divergence state"))
	if err != nil {
		return nil, err
	}

	m.AgentDuration, err = meter.Float64Histogram("issueforge.agent.duration_seconds",
		metric.WithDescription("Agent session duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
