package telemetry

import (
	"context"
	"path"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor трейсит вызовы health и reflection сервисов.
// Методы из skip не трейсятся: частые пробы оркестратора забивают трейсы.
func UnaryServerInterceptor(skip ...string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if slices.Contains(skip, info.FullMethod) {
			return handler(ctx, req)
		}

		service, method := path.Split(info.FullMethod)
		ctx, span := StartSpan(ctx, info.FullMethod,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("rpc.system", "grpc"),
				attribute.String("rpc.service", strings.Trim(service, "/")),
				attribute.String("rpc.method", method),
			),
		)
		defer span.End()

		resp, err := handler(ctx, req)
		if err != nil {
			st, _ := status.FromError(err)
			span.SetAttributes(attribute.String("rpc.grpc.status_code", st.Code().String()))
			span.SetStatus(codes.Error, st.Message())
			span.RecordError(err)
			return resp, err
		}

		// статус матчера виден прямо в трейсе пробы
		if hc, ok := resp.(*grpc_health_v1.HealthCheckResponse); ok {
			span.SetAttributes(attribute.String(AttrHealthStatus, hc.GetStatus().String()))
		}
		span.SetStatus(codes.Ok, "")
		return resp, nil
	}
}
