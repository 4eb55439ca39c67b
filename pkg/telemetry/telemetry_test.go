package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	grpccodes "google.golang.org/grpc/codes"

	"ridematch/pkg/config"
)

// withRecorder подменяет глобальный provider на in-memory экспортёр
func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	prev := globalProvider
	globalProvider = &Provider{tp: tp, tracer: tp.Tracer("test")}
	t.Cleanup(func() { globalProvider = prev })
	return rec
}

func attrMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.TracingConfig{
		Enabled:     true,
		Endpoint:    "otel:4317",
		ServiceName: "ridematch",
		SampleRate:  0.25,
	}, "1.2.3", "staging")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "otel:4317", cfg.Endpoint)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, "staging", cfg.Environment)
	assert.InDelta(t, 0.25, cfg.SampleRate, 1e-9)
}

func TestInit_Disabled(t *testing.T) {
	prev := globalProvider
	t.Cleanup(func() { globalProvider = prev })

	provider, err := Init(context.Background(), Config{ServiceName: "test"})
	require.NoError(t, err)
	require.NotNil(t, provider.Tracer())
	assert.Same(t, provider, Get())
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		root string
	}{
		{"always", 1, "AlwaysOnSampler"},
		{"above_one", 3, "AlwaysOnSampler"},
		{"never", 0, "AlwaysOffSampler"},
		{"ratio", 0.25, "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := newSampler(tt.rate).Description()
			assert.Contains(t, desc, "ParentBased")
			assert.Contains(t, desc, tt.root)
		})
	}
}

func TestGet_Uninitialized(t *testing.T) {
	prev := globalProvider
	globalProvider = nil
	t.Cleanup(func() { globalProvider = prev })

	assert.NotNil(t, Get().Tracer())
}

func TestPhase(t *testing.T) {
	rec := withRecorder(t)

	_, end := Phase(context.Background(), "engine.Solve", SolverAttributes("ssp", 4, 1500, 1200, 3)...)
	end(nil)

	_, end = Phase(context.Background(), "engine.Validate")
	end(errors.New("duplicate driver"))

	spans := rec.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "engine.Solve", spans[0].Name())
	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "ssp", attrs[AttrSolver].AsString())
	assert.EqualValues(t, 1500, attrs[AttrProfit].AsInt64())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "duplicate driver", spans[1].Status().Description)
}

func TestHelpersOnActiveSpan(t *testing.T) {
	rec := withRecorder(t)

	ctx, span := StartSpan(context.Background(), "engine.BuildMatches")
	SetAttributes(ctx, MatchAttributes(120, 10, 3)...)
	AddEvent(ctx, "level_done", attribute.Int("size", 2))
	SetError(ctx, errors.New("timeout"))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.EqualValues(t, 120, attrMap(spans[0].Attributes())[AttrMatches].AsInt64())
	require.Len(t, spans[0].Events(), 2) // level_done + exception
	assert.Equal(t, "level_done", spans[0].Events()[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestAttributeBuilders(t *testing.T) {
	snap := attrMap(SnapshotAttributes("run-1", 2, 10, 40))
	assert.Equal(t, "run-1", snap[AttrRunID].AsString())
	assert.EqualValues(t, 40, snap[AttrPassengers].AsInt64())

	val := attrMap(ValidationAttributes(0, true))
	assert.True(t, val[AttrValidationPassed].AsBool())
}

func TestUnaryServerInterceptor(t *testing.T) {
	rec := withRecorder(t)
	interceptor := UnaryServerInterceptor("/grpc.health.v1.Health/Watch")
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
	})
	require.NoError(t, err)

	_, err = interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(grpccodes.NotFound, "unknown service")
	})
	require.Error(t, err)

	skipped := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}
	_, err = interceptor(context.Background(), nil, skipped, func(ctx context.Context, req any) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)

	ok := attrMap(spans[0].Attributes())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "grpc.health.v1.Health", ok["rpc.service"].AsString())
	assert.Equal(t, "Check", ok["rpc.method"].AsString())
	assert.Equal(t, "SERVING", ok[AttrHealthStatus].AsString())

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "NotFound", attrMap(spans[1].Attributes())["rpc.grpc.status_code"].AsString())
}
