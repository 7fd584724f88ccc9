// Package main implements hubd, the swarm hub daemon.
//
// The hub owns the service registry and the request router:
//   - Workers register here and heartbeat on a fixed interval.
//   - A background sweep marks stale workers unhealthy and eventually
//     removes them.
//   - POST /v1/route/:role forwards a payload to a healthy worker of the
//     role, with per-instance circuit breaking and bounded retries.
//
// HTTP API:
//
//	POST   /v1/services               - register a worker
//	DELETE /v1/services/:id           - deregister a worker
//	GET    /v1/services[?role=]       - list registered workers
//	POST   /v1/services/:id/heartbeat - report worker health
//	POST   /v1/route/:role            - route a payload to the role
//	GET    /health                    - liveness check
//	GET    /metrics                   - Prometheus metrics
//
// Configuration comes from SWARM_* environment variables (see pkg/config).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openswarm/swarm-go/pkg/config"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	srv := newServer(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.reg.Start(ctx)

	httpServer := &http.Server{
		Addr:              cfg.Node.ListenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Node.ListenAddr).Info("hub listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown error")
	}
	srv.reg.Stop()
	log.Info("hub stopped")
}
