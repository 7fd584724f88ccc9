// Package main implements workerd, a generic swarm worker.
//
// workerd serves any declared role (reasoning, personality, ...) with a
// minimal operation set, which makes it useful for standing up swarm
// topologies before the real role implementations exist and for exercising
// the hub's routing and health machinery.
//
// HTTP API:
//
//	POST /v1/invoke - routed operation envelope (ping, echo, info)
//	GET  /health    - liveness check
//	GET  /metrics   - Prometheus metrics
//
// Configuration comes from SWARM_* environment variables (see pkg/config).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openswarm/swarm-go/pkg/config"
	"github.com/openswarm/swarm-go/pkg/swarm"
)

const registerRetries = 5

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if cfg.Node.Role == "" {
		cfg.Node.Role = string(swarm.RoleReasoning)
	}
	if cfg.Node.ID == "" {
		cfg.Node.ID = cfg.Node.Role + "-" + uuid.NewString()[:8]
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	srv := newServer(cfg.Node.ID, cfg.Node.Role, log)
	httpServer := &http.Server{
		Addr:              cfg.Node.ListenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr": cfg.Node.ListenAddr,
			"role": cfg.Node.Role,
		}).Info("worker listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := register(ctx, cfg, advertiseAddr(cfg), log); err != nil {
		log.WithError(err).Fatal("failed to register with hub")
	}
	go heartbeat(ctx, cfg, log)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	cancel()

	deregisterCtx, deregisterCancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := swarm.DeleteJSON(deregisterCtx,
		cfg.Node.HubAddr+"/v1/services/"+cfg.Node.ID); err != nil {
		log.WithError(err).Warn("deregistration failed")
	}
	deregisterCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown error")
	}
	log.Info("worker stopped")
}

func register(ctx context.Context, cfg *config.Config, advertise string, log *logrus.Logger) error {
	req := swarm.RegisterRequest{
		ID:           cfg.Node.ID,
		Role:         cfg.Node.Role,
		Addr:         advertise,
		Capabilities: []string{"ping", "echo", "info"},
	}

	var err error
	for attempt := 1; attempt <= registerRetries; attempt++ {
		err = swarm.PostJSON(ctx, cfg.Node.HubAddr+"/v1/services", req, nil)
		if err == nil {
			log.WithFields(logrus.Fields{
				"id":  cfg.Node.ID,
				"hub": cfg.Node.HubAddr,
			}).Info("registered with hub")
			return nil
		}
		log.WithError(err).WithField("attempt", attempt).Warn("registration failed, retrying")

		select {
		case <-time.After(time.Duration(attempt) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func heartbeat(ctx context.Context, cfg *config.Config, log *logrus.Logger) {
	ticker := time.NewTicker(cfg.Registry.HeartbeatInterval)
	defer ticker.Stop()

	url := cfg.Node.HubAddr + "/v1/services/" + cfg.Node.ID + "/heartbeat"
	for {
		select {
		case <-ticker.C:
			err := swarm.PostJSON(ctx, url, swarm.HeartbeatRequest{Status: "healthy"}, nil)
			if err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("heartbeat failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func advertiseAddr(cfg *config.Config) string {
	if cfg.Node.AdvertiseAddr != "" {
		return cfg.Node.AdvertiseAddr
	}
	if strings.HasPrefix(cfg.Node.ListenAddr, ":") {
		return fmt.Sprintf("http://127.0.0.1%s", cfg.Node.ListenAddr)
	}
	return "http://" + cfg.Node.ListenAddr
}
