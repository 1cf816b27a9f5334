package observability

import (
	"context"
	"errors"
	"testing"
)

func TestNewManagerDisabled(t *testing.T) {
	m, err := NewManager(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.Telemetry() == nil {
		t.Fatal("disabled manager must still hand out a Telemetry")
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNewManagerNilConfigUsesDefaults(t *testing.T) {
	m, err := NewManager(nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.Telemetry() == nil {
		t.Fatal("expected telemetry bundle")
	}
}

func TestNewManagerTracingOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.Enabled = false
	cfg.OTLP.Enabled = false
	cfg.Tracing.Stdout = false

	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Shutdown(context.Background())

	ctx, span := m.Telemetry().StartStep(context.Background(), "get_blacklist")
	m.Telemetry().EndStep(ctx, span, "get_blacklist", nil)
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry

	ctx, span := tel.StartStep(context.Background(), "get_channel")
	tel.EndStep(ctx, span, "get_channel", errors.New("boom"))
	tel.RecordRecovery(ctx, "get_blacklist")
	tel.RecordKeyringInstall(ctx, "image-master")
	tel.RecordDownload(ctx, 3, 1024)
	tel.RecordWinner(ctx, "ubuntu", 2)
}

func TestTelemetryNoopProviders(t *testing.T) {
	tel := NewTelemetry(nil, nil)

	ctx, span := tel.StartStep(context.Background(), "download_files")
	if ctx == nil {
		t.Fatal("StartStep returned nil context")
	}
	tel.EndStep(ctx, span, "download_files", nil)
	tel.RecordRecovery(ctx, "get_channel")
	tel.RecordDownload(ctx, 1, 42)
}

func TestDefaultConfigDisabled(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Enabled {
		t.Error("telemetry must be opt-in on a device-side resolver")
	}
	if cfg.ServiceName != "otaresolve" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
}
