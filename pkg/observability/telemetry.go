package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Attribute keys shared by spans and metrics.
var (
	StepKey    = attribute.Key("resolver.step")
	KeyringKey = attribute.Key("resolver.keyring_type")
	ChannelKey = attribute.Key("resolver.channel")
	DeviceKey  = attribute.Key("resolver.device")
	RunIDKey   = attribute.Key("resolver.run_id")
)

const instrumentationName = "github.com/otaresolve/resolver"

// Telemetry is the instrument bundle the resolver records through: step
// spans, recovery and keyring-install counters, and download volume. A nil
// *Telemetry is valid and records nothing, so components can carry one
// unconditionally.
type Telemetry struct {
	tracer          trace.Tracer
	stepsTotal      metric.Int64Counter
	recoveriesTotal metric.Int64Counter
	keyringInstalls metric.Int64Counter
	downloadBytes   metric.Int64Counter
	downloadFiles   metric.Int64Counter
	winnerImages    metric.Int64Histogram
}

// NewTelemetry creates the bundle from the given providers; a nil provider
// is replaced by its no-op counterpart, so a disabled Manager still hands
// out a usable value.
func NewTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *Telemetry {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	t := &Telemetry{tracer: tp.Tracer(instrumentationName)}
	t.stepsTotal, _ = meter.Int64Counter("resolver_steps_total",
		metric.WithDescription("State machine steps executed, by step name and outcome"))
	t.recoveriesTotal, _ = meter.Int64Counter("resolver_recovery_total",
		metric.WithDescription("Trust-chain recovery edges taken, by originating step"))
	t.keyringInstalls, _ = meter.Int64Counter("resolver_keyring_installs_total",
		metric.WithDescription("Keyrings verified and pinned, by type"))
	t.downloadBytes, _ = meter.Int64Counter("resolver_download_bytes_total",
		metric.WithDescription("Bytes of verified update artifacts downloaded"))
	t.downloadFiles, _ = meter.Int64Counter("resolver_download_files_total",
		metric.WithDescription("Update artifact files downloaded"))
	t.winnerImages, _ = meter.Int64Histogram("resolver_winner_path_images",
		metric.WithDescription("Images in the winning upgrade path, per content kind"))
	return t
}

// StartStep opens a span for one state-machine step.
func (t *Telemetry) StartStep(ctx context.Context, step string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, tracenoop.Span{}
	}
	ctx, span := t.tracer.Start(ctx, "resolver."+step)
	span.SetAttributes(StepKey.String(step))
	return ctx, span
}

// EndStep records the step's outcome on both the span and the step counter,
// then ends the span.
func (t *Telemetry) EndStep(ctx context.Context, span trace.Span, step string, err error) {
	if t == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	t.stepsTotal.Add(ctx, 1, metric.WithAttributes(
		StepKey.String(step),
		attribute.String("outcome", outcome),
	))
	span.End()
}

// RecordRecovery counts one recovery edge taken on behalf of step.
func (t *Telemetry) RecordRecovery(ctx context.Context, step string) {
	if t == nil {
		return
	}
	t.recoveriesTotal.Add(ctx, 1, metric.WithAttributes(StepKey.String(step)))
}

// RecordKeyringInstall counts a verified keyring pinned under typ.
func (t *Telemetry) RecordKeyringInstall(ctx context.Context, typ string) {
	if t == nil {
		return
	}
	t.keyringInstalls.Add(ctx, 1, metric.WithAttributes(KeyringKey.String(typ)))
}

// RecordDownload counts one completed artifact batch.
func (t *Telemetry) RecordDownload(ctx context.Context, files int, bytes int64) {
	if t == nil {
		return
	}
	t.downloadFiles.Add(ctx, int64(files))
	t.downloadBytes.Add(ctx, bytes)
}

// RecordWinner records the winning path length for one content kind.
func (t *Telemetry) RecordWinner(ctx context.Context, kind string, images int) {
	if t == nil {
		return
	}
	t.winnerImages.Record(ctx, int64(images), metric.WithAttributes(attribute.String("content_kind", kind)))
}
