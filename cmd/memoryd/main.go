// Package main implements memoryd, the swarm's durable memory worker.
//
// memoryd owns a record store (file, sqlite, postgres, or mysql) fronted by
// the retrieval engine's two cache levels. On boot it registers with the hub
// and heartbeats on a fixed interval; the hub forwards memory-role payloads
// to POST /v1/invoke.
//
// HTTP API:
//
//	POST   /v1/memories           - store a memory
//	GET    /v1/memories/:id       - fetch one memory (counts a reference)
//	GET    /v1/memories           - paginated listing (page, page_size, sort)
//	GET    /v1/memories/search    - ranked search (q, themes, emotion, ...)
//	DELETE /v1/memories/:id       - remove a memory
//	POST   /v1/backup             - snapshot every record (file provider)
//	POST   /v1/invoke             - routed operation envelope
//	GET    /health                - liveness check
//	GET    /metrics               - Prometheus metrics
//
// Configuration comes from SWARM_* environment variables (see pkg/config).
package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openswarm/swarm-go/pkg/config"
	"github.com/openswarm/swarm-go/pkg/retrieval"
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
		cfg.Node.Role = string(swarm.RoleMemory)
	}
	if cfg.Node.ID == "" {
		cfg.Node.ID = "memory-" + uuid.NewString()[:8]
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("failed to open record store")
	}

	engine, err := retrieval.NewEngine(store, retrieval.Options{
		RecentTTL:         cfg.Retrieval.RecentTTL,
		ResultTTL:         cfg.Retrieval.ResultTTL,
		RecentWindow:      cfg.Retrieval.RecentWindow,
		FrequentThreshold: cfg.Retrieval.FrequentThreshold,
		NodeID:            snowflakeNodeID(cfg.Node.ID),
	})
	if err != nil {
		log.WithError(err).Fatal("failed to build retrieval engine")
	}

	srv := newServer(engine, log)
	httpServer := &http.Server{
		Addr:              cfg.Node.ListenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":     cfg.Node.ListenAddr,
			"provider": cfg.Storage.Provider,
		}).Info("memory worker listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	advertise := advertiseAddr(cfg)
	if err := register(ctx, cfg, advertise, log); err != nil {
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

	engine.Close()
	if err := store.Close(); err != nil {
		log.WithError(err).Warn("store close error")
	}
	log.Info("memory worker stopped")
}

// register announces this worker to the hub, retrying with backoff while the
// hub comes up.
func register(ctx context.Context, cfg *config.Config, advertise string, log *logrus.Logger) error {
	req := swarm.RegisterRequest{
		ID:           cfg.Node.ID,
		Role:         cfg.Node.Role,
		Addr:         advertise,
		Capabilities: []string{"put", "get", "delete", "page", "search", "backup"},
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

// heartbeat reports healthy on the configured interval until ctx is canceled.
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

// advertiseAddr is the address the hub forwards requests to. A bare listen
// port (":8701") advertises as localhost.
func advertiseAddr(cfg *config.Config) string {
	if cfg.Node.AdvertiseAddr != "" {
		return cfg.Node.AdvertiseAddr
	}
	if strings.HasPrefix(cfg.Node.ListenAddr, ":") {
		return fmt.Sprintf("http://127.0.0.1%s", cfg.Node.ListenAddr)
	}
	return "http://" + cfg.Node.ListenAddr
}

// snowflakeNodeID folds the instance id into the generator's node-id space.
func snowflakeNodeID(id string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum32()%1023) + 1
}
