// Package metrics exposes counters for the engine's hot paths via
// OpenTelemetry's metric API, the teacher's own observability dependency
// (go.opentelemetry.io/otel/metric, go.opentelemetry.io/otel/sdk/metric)
// left otherwise unwired once DefraDB's HTTP/GraphQL admin surface
// (where the teacher's own metrics presumably attach) is out of scope.
// A nil *Recorder is always safe to call into, so callers that don't
// construct one (tests, package-level unit tests of replctx/sync) don't
// need a metrics no-op stub.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/meshdoc/core/errors"
)

func contextAttr(ctxID string) attribute.KeyValue {
	return attribute.String("context_id", ctxID)
}

func attrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Recorder bundles the counters this module increments on its hot
// paths: local/remote delta application, sync attempts, and gossip
// traffic.
type Recorder struct {
	provider *sdkmetric.MeterProvider

	deltasApplied   metric.Int64Counter
	deltasAuthored  metric.Int64Counter
	syncAttempts    metric.Int64Counter
	gossipReceived  metric.Int64Counter
	verifyFailures  metric.Int64Counter
}

// NewRecorder constructs a Recorder backed by a process-local
// sdkmetric.MeterProvider (no exporter is wired: spec.md's Non-goals
// exclude a metrics/observability backend). No reader is registered
// either, so the counters are recorded but nothing in this module reads
// them back.
func NewRecorder() (*Recorder, error) {
	provider := sdkmetric.NewMeterProvider()
	meter := provider.Meter("meshcore/core")

	r := &Recorder{provider: provider}
	var err error
	if r.deltasApplied, err = meter.Int64Counter("meshcore_deltas_applied_total"); err != nil {
		return nil, errors.Wrap("creating deltas_applied counter", err)
	}
	if r.deltasAuthored, err = meter.Int64Counter("meshcore_deltas_authored_total"); err != nil {
		return nil, errors.Wrap("creating deltas_authored counter", err)
	}
	if r.syncAttempts, err = meter.Int64Counter("meshcore_sync_attempts_total"); err != nil {
		return nil, errors.Wrap("creating sync_attempts counter", err)
	}
	if r.gossipReceived, err = meter.Int64Counter("meshcore_gossip_messages_total"); err != nil {
		return nil, errors.Wrap("creating gossip_messages counter", err)
	}
	if r.verifyFailures, err = meter.Int64Counter("meshcore_verification_failures_total"); err != nil {
		return nil, errors.Wrap("creating verification_failures counter", err)
	}
	return r, nil
}

func (r *Recorder) DeltaApplied(ctx context.Context, ctxID string) {
	if r == nil {
		return
	}
	r.deltasApplied.Add(ctx, 1, metric.WithAttributes(contextAttr(ctxID)))
}

func (r *Recorder) DeltaAuthored(ctx context.Context, ctxID string) {
	if r == nil {
		return
	}
	r.deltasAuthored.Add(ctx, 1, metric.WithAttributes(contextAttr(ctxID)))
}

func (r *Recorder) SyncAttempt(ctx context.Context, strategy, outcome string) {
	if r == nil {
		return
	}
	r.syncAttempts.Add(ctx, 1, metric.WithAttributes(
		attrString("strategy", strategy),
		attrString("outcome", outcome),
	))
}

func (r *Recorder) GossipReceived(ctx context.Context, msgType string) {
	if r == nil {
		return
	}
	r.gossipReceived.Add(ctx, 1, metric.WithAttributes(attrString("type", msgType)))
}

func (r *Recorder) VerificationFailure(ctx context.Context, reason string) {
	if r == nil {
		return
	}
	r.verifyFailures.Add(ctx, 1, metric.WithAttributes(attrString("reason", reason)))
}

// Close shuts down the underlying MeterProvider.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.provider.Shutdown(ctx)
}
