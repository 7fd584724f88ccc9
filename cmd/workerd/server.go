package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/openswarm/swarm-go/pkg/swarm"
	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// server answers routed envelopes for a generic role.
type server struct {
	id   string
	role string
	log  *logrus.Logger

	started time.Time
}

func newServer(id, role string, log *logrus.Logger) *server {
	return &server{id: id, role: role, log: log, started: time.Now()}
}

func (s *server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), swarm.Correlate())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "role": s.role})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/v1/invoke", s.handleInvoke)
	return r
}

func (s *server) handleInvoke(c *gin.Context) {
	var req swarm.InvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		swarm.RenderError(c, swarmerr.Wrap(swarmerr.KindInvalidInput, "malformed invoke envelope", err))
		return
	}

	switch req.Op {
	case "ping":
		c.JSON(http.StatusOK, gin.H{"pong": s.id})
	case "echo":
		c.JSON(http.StatusOK, gin.H{"op": "echo", "params": req.Params})
	case "info":
		c.JSON(http.StatusOK, gin.H{
			"id":     s.id,
			"role":   s.role,
			"uptime": time.Since(s.started).String(),
		})
	default:
		swarm.RenderError(c, swarmerr.Newf(swarmerr.KindInvalidInput, "unknown op %q", req.Op))
	}
}
