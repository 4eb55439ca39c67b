// Package client dials matcher-svc over gRPC for probes and tooling.
package client

import (
	"context"
	"time"

	grpc_retry "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
)

// Config параметры соединения
type Config struct {
	Address string
	// Timeout на одну попытку вызова
	Timeout    time.Duration
	MaxRetries int
	// RetryBackoff базовая пауза, растёт экспоненциально с джиттером
	RetryBackoff time.Duration
}

// retryCodes коды, при которых сервис ещё поднимается
var retryCodes = []codes.Code{codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted}

// Dial создаёт соединение с повторами унарных вызовов. Соединение ленивое:
// ошибка адреса видна только при первом вызове.
func Dial(cfg Config, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	retry := []grpc_retry.CallOption{
		grpc_retry.WithMax(uint(max(cfg.MaxRetries, 0))),
		grpc_retry.WithCodes(retryCodes...),
		grpc_retry.WithBackoff(grpc_retry.BackoffExponentialWithJitter(cfg.RetryBackoff, 0.2)),
	}
	if cfg.Timeout > 0 {
		retry = append(retry, grpc_retry.WithPerRetryTimeout(cfg.Timeout))
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(grpc_retry.UnaryClientInterceptor(retry...)),
	}, extra...)

	return grpc.NewClient(cfg.Address, opts...)
}

// Probe дозванивается до сервиса и возвращает его статус одним вызовом
func Probe(ctx context.Context, cfg Config, service string, extra ...grpc.DialOption) (string, error) {
	conn, err := Dial(cfg, extra...)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	st, err := CheckHealth(ctx, conn, service)
	return st.String(), err
}
