package main

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/openswarm/swarm-go/pkg/config"
	"github.com/openswarm/swarm-go/pkg/registry"
	"github.com/openswarm/swarm-go/pkg/router"
	"github.com/openswarm/swarm-go/pkg/swarm"
	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// maxRoutePayload bounds a routed request body.
const maxRoutePayload = 4 << 20

// server wires the registry and router behind the hub's HTTP API.
type server struct {
	reg *registry.Registry
	rt  *router.Router
	log *logrus.Logger
}

func newServer(cfg *config.Config, log *logrus.Logger) *server {
	reg := registry.New(registry.Options{
		SweepInterval:       cfg.Registry.SweepInterval,
		StalenessThreshold:  cfg.Registry.StalenessThreshold,
		DeregisterThreshold: cfg.Registry.DeregisterThreshold,
		Probe:               probeHealth,
		Logger:              log,
	})

	rt := router.New(reg, router.NewHTTPCaller(cfg.Router.CallTimeout), router.Config{
		Breaker: router.BreakerConfig{
			FailureThreshold: cfg.Router.FailureThreshold,
			FailureWindow:    cfg.Router.FailureWindow,
			Cooldown:         cfg.Router.Cooldown,
		},
		RetryBudget: cfg.Router.RetryBudget,
		Logger:      log,
	})

	return &server{reg: reg, rt: rt, log: log}
}

// probeHealth checks a worker's liveness endpoint; success counts as a
// heartbeat during the sweep.
func probeHealth(ctx context.Context, addr string) error {
	return swarm.GetJSON(ctx, addr+"/health", nil)
}

func (s *server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), swarm.Correlate())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/services", s.handleRegister)
	v1.DELETE("/services/:id", s.handleDeregister)
	v1.GET("/services", s.handleList)
	v1.POST("/services/:id/heartbeat", s.handleHeartbeat)
	v1.POST("/route/:role", s.handleRoute)

	return r
}

func (s *server) handleRegister(c *gin.Context) {
	var req swarm.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		swarm.RenderError(c, swarmerr.Wrap(swarmerr.KindInvalidInput, "malformed register request", err))
		return
	}

	inst := registry.ServiceInstance{
		ID:           req.ID,
		Role:         req.Role,
		Addr:         req.Addr,
		Capabilities: req.Capabilities,
	}
	if err := s.reg.Register(inst); err != nil {
		swarm.RenderError(c, err)
		return
	}

	registered, err := s.reg.Get(req.ID)
	if err != nil {
		swarm.RenderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toView(registered))
}

func (s *server) handleDeregister(c *gin.Context) {
	s.reg.Deregister(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *server) handleList(c *gin.Context) {
	instances := s.reg.List(c.Query("role"))
	views := make([]swarm.InstanceView, len(instances))
	for i, inst := range instances {
		views[i] = toView(inst)
	}
	c.JSON(http.StatusOK, gin.H{"services": views})
}

func (s *server) handleHeartbeat(c *gin.Context) {
	var req swarm.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		swarm.RenderError(c, swarmerr.Wrap(swarmerr.KindInvalidInput, "malformed heartbeat", err))
		return
	}

	if err := s.reg.Heartbeat(c.Param("id"), registry.Health(req.Status)); err != nil {
		swarm.RenderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleRoute forwards the request body to a healthy instance of the role
// and relays the worker's response verbatim.
func (s *server) handleRoute(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRoutePayload))
	if err != nil {
		swarm.RenderError(c, swarmerr.Wrap(swarmerr.KindInvalidInput, "unreadable payload", err))
		return
	}

	body, err := s.rt.Route(c.Request.Context(), c.Param("role"), payload)
	if err != nil {
		swarm.RenderError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

func toView(inst registry.ServiceInstance) swarm.InstanceView {
	return swarm.InstanceView{
		ID:            inst.ID,
		Role:          inst.Role,
		Addr:          inst.Addr,
		Capabilities:  inst.Capabilities,
		Health:        string(inst.Health),
		LastHeartbeat: inst.LastHeartbeat,
		RegisteredAt:  inst.RegisteredAt,
	}
}
