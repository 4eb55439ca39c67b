package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ridematch/pkg/config"
	"ridematch/pkg/interceptors"
	"ridematch/pkg/logger"
)

// GRPCServer - gRPC сервер со стандартным health сервисом.
// matcher не предоставляет собственного RPC API: сервер нужен оркестратору
// для проверок готовности, статус меняется по ходу интервалов.
type GRPCServer struct {
	server          *grpc.Server
	health          *health.Server
	serviceName     string
	port            int
	shutdownTimeout time.Duration
}

// New создаёт новый gRPC сервер
func New(cfg *config.Config) *GRPCServer {
	icfg := &interceptors.ServerConfig{
		ServiceName:   cfg.App.Name,
		EnableTracing: cfg.Tracing.Enabled,
	}

	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptors.UnaryServerInterceptors(icfg)...),
		grpc.ChainStreamInterceptor(interceptors.StreamServerInterceptors(icfg)...),
	)

	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, h)

	if cfg.IsDevelopment() {
		reflection.Register(s)
		logger.Log.Debug("gRPC reflection enabled")
	}

	shutdownTimeout := cfg.GRPC.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	// До первого успешного интервала сервис не готов
	h.SetServingStatus(cfg.App.Name, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &GRPCServer{
		server:          s,
		health:          h,
		serviceName:     cfg.App.Name,
		port:            cfg.GRPC.Port,
		shutdownTimeout: shutdownTimeout,
	}
}

// GetEngine возвращает *grpc.Server для регистрации сервисов
func (s *GRPCServer) GetEngine() *grpc.Server {
	return s.server
}

// Run слушает порт до отмены ctx, затем останавливает сервер gracefully
func (s *GRPCServer) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	lis, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve обслуживает уже открытый listener (используется в тестах с bufconn/случайным портом)
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("Starting gRPC health server",
			"service", s.serviceName,
			"addr", lis.Addr().String(),
		)
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info("gRPC server stopped gracefully")
	case <-time.After(s.shutdownTimeout):
		logger.Log.Warn("Forcing gRPC server stop")
		s.server.Stop()
	}

	return nil
}

// SetServingStatus устанавливает статус сервиса
func (s *GRPCServer) SetServingStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus(s.serviceName, status)
}

// Stop останавливает сервер немедленно
func (s *GRPCServer) Stop() {
	s.server.Stop()
}
