// Command healthcheck probes the gRPC health service of matcher-svc and exits
// with status 0 only when it reports SERVING. It is meant for container
// HEALTHCHECK and Kubernetes exec probes.
//
//	healthcheck -addr localhost:50061 -service matcher-svc
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc/health/grpc_health_v1"

	"ridematch/pkg/client"
	"ridematch/pkg/config"
)

func main() {
	cfg, err := config.LoadWithServiceDefaults("matcher-svc", 50061)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	addr := flag.String("addr", fmt.Sprintf("localhost:%d", cfg.GRPC.Port), "gRPC address")
	service := flag.String("service", cfg.App.Name, "health service name")
	timeout := flag.Duration("timeout", 3*time.Second, "probe timeout")
	retries := flag.Int("retries", 2, "retries on UNAVAILABLE")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	status, err := client.Probe(ctx, client.Config{
		Address:      *addr,
		Timeout:      *timeout,
		MaxRetries:   *retries,
		RetryBackoff: 200 * time.Millisecond,
	}, *service)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println(status)
	if status != grpc_health_v1.HealthCheckResponse_SERVING.String() {
		os.Exit(1)
	}
}
