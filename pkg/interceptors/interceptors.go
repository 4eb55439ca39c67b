// Package interceptors собирает серверные gRPC интерсепторы для health/admin
// поверхности matcher на базе go-grpc-middleware.
package interceptors

import (
	"log/slog"
	"runtime/debug"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ridematch/pkg/logger"
	"ridematch/pkg/telemetry"
)

// ServerConfig конфигурация серверных интерсепторов
type ServerConfig struct {
	ServiceName   string
	EnableTracing bool
	// Logger по умолчанию - logger.Log
	Logger *slog.Logger
}

// UnaryServerInterceptors возвращает интерсепторы в порядке применения:
// recovery, tracing, logging.
func UnaryServerInterceptors(cfg *ServerConfig) []grpc.UnaryServerInterceptor {
	l := cfg.Logger
	if l == nil {
		l = logger.Log
	}
	l = l.With("service", cfg.ServiceName)

	chain := []grpc.UnaryServerInterceptor{
		recovery.UnaryServerInterceptor(recovery.WithRecoveryHandler(recoveryHandler(l))),
	}
	if cfg.EnableTracing {
		chain = append(chain, telemetry.UnaryServerInterceptor())
	}
	chain = append(chain, logging.UnaryServerInterceptor(
		SlogAdapter(l),
		logging.WithLogOnEvents(logging.FinishCall),
	))

	return chain
}

// StreamServerInterceptors - то же для stream вызовов (health Watch)
func StreamServerInterceptors(cfg *ServerConfig) []grpc.StreamServerInterceptor {
	l := cfg.Logger
	if l == nil {
		l = logger.Log
	}
	l = l.With("service", cfg.ServiceName)

	return []grpc.StreamServerInterceptor{
		recovery.StreamServerInterceptor(recovery.WithRecoveryHandler(recoveryHandler(l))),
		logging.StreamServerInterceptor(
			SlogAdapter(l),
			logging.WithLogOnEvents(logging.StartCall, logging.FinishCall),
		),
	}
}

func recoveryHandler(l *slog.Logger) recovery.RecoveryHandlerFunc {
	return func(p any) error {
		l.Error("panic recovered in gRPC handler",
			"panic", p,
			"stack", string(debug.Stack()),
		)
		return status.Errorf(codes.Internal, "internal error")
	}
}
