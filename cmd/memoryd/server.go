package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/openswarm/swarm-go/pkg/retrieval"
	"github.com/openswarm/swarm-go/pkg/storage"
	"github.com/openswarm/swarm-go/pkg/swarm"
	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// server exposes the retrieval engine over the worker HTTP API.
type server struct {
	engine *retrieval.Engine
	log    *logrus.Logger
}

func newServer(engine *retrieval.Engine, log *logrus.Logger) *server {
	return &server{engine: engine, log: log}
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
	v1.POST("/memories", s.handlePut)
	v1.GET("/memories", s.handlePage)
	v1.GET("/memories/search", s.handleSearch)
	v1.GET("/memories/:id", s.handleGet)
	v1.DELETE("/memories/:id", s.handleDelete)
	v1.POST("/backup", s.handleBackup)
	v1.POST("/invoke", s.handleInvoke)

	return r
}

// putRequest is the body of a memory write.
type putRequest struct {
	Content   string             `json:"content"`
	Themes    []string           `json:"themes,omitempty"`
	Emotions  map[string]float64 `json:"emotions,omitempty"`
	CreatedAt time.Time          `json:"created_at,omitempty"`
}

func (s *server) handlePut(c *gin.Context) {
	var req putRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		swarm.RenderError(c, swarmerr.Wrap(swarmerr.KindInvalidInput, "malformed memory", err))
		return
	}

	record, err := s.engine.Put(c.Request.Context(), &storage.MemoryRecord{
		Content:   req.Content,
		Themes:    req.Themes,
		Emotions:  req.Emotions,
		CreatedAt: req.CreatedAt,
	})
	if err != nil {
		swarm.RenderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (s *server) handleGet(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		swarm.RenderError(c, err)
		return
	}

	record, err := s.engine.Get(c.Request.Context(), id)
	if err != nil {
		swarm.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *server) handleDelete(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		swarm.RenderError(c, err)
		return
	}

	if err := s.engine.Delete(c.Request.Context(), id); err != nil {
		swarm.RenderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) handlePage(c *gin.Context) {
	page, pageSize, err := pageParams(c)
	if err != nil {
		swarm.RenderError(c, err)
		return
	}

	result, err := s.engine.GetPage(c.Request.Context(), page, pageSize, c.Query("sort"))
	if err != nil {
		swarm.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *server) handleSearch(c *gin.Context) {
	page, pageSize, err := pageParams(c)
	if err != nil {
		swarm.RenderError(c, err)
		return
	}
	filters, err := filtersFromQuery(c)
	if err != nil {
		swarm.RenderError(c, err)
		return
	}

	result, err := s.engine.Search(c.Request.Context(), c.Query("q"), filters, page, pageSize)
	if err != nil {
		swarm.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *server) handleBackup(c *gin.Context) {
	if err := s.engine.Backup(c.Request.Context()); err != nil {
		swarm.RenderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// invoke parameter envelopes, one per operation.
type getParams struct {
	ID int64 `json:"id"`
}

type pageOpParams struct {
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Sort     string `json:"sort,omitempty"`
}

type searchOpParams struct {
	Query    string            `json:"query"`
	Filters  retrieval.Filters `json:"filters,omitempty"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// handleInvoke dispatches a routed operation envelope. This is the endpoint
// the hub forwards /v1/route/memory payloads to.
func (s *server) handleInvoke(c *gin.Context) {
	var req swarm.InvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		swarm.RenderError(c, swarmerr.Wrap(swarmerr.KindInvalidInput, "malformed invoke envelope", err))
		return
	}

	ctx := c.Request.Context()
	switch req.Op {
	case "put":
		var p putRequest
		if err := decodeParams(req.Params, &p); err != nil {
			swarm.RenderError(c, err)
			return
		}
		record, err := s.engine.Put(ctx, &storage.MemoryRecord{
			Content:   p.Content,
			Themes:    p.Themes,
			Emotions:  p.Emotions,
			CreatedAt: p.CreatedAt,
		})
		respond(c, record, err)
	case "get":
		var p getParams
		if err := decodeParams(req.Params, &p); err != nil {
			swarm.RenderError(c, err)
			return
		}
		record, err := s.engine.Get(ctx, p.ID)
		respond(c, record, err)
	case "delete":
		var p getParams
		if err := decodeParams(req.Params, &p); err != nil {
			swarm.RenderError(c, err)
			return
		}
		err := s.engine.Delete(ctx, p.ID)
		respond(c, gin.H{"deleted": p.ID}, err)
	case "page":
		var p pageOpParams
		if err := decodeParams(req.Params, &p); err != nil {
			swarm.RenderError(c, err)
			return
		}
		result, err := s.engine.GetPage(ctx, defaultInt(p.Page, 1), defaultInt(p.PageSize, defaultPageSize), p.Sort)
		respond(c, result, err)
	case "search":
		var p searchOpParams
		if err := decodeParams(req.Params, &p); err != nil {
			swarm.RenderError(c, err)
			return
		}
		result, err := s.engine.Search(ctx, p.Query, p.Filters, defaultInt(p.Page, 1), defaultInt(p.PageSize, defaultPageSize))
		respond(c, result, err)
	case "backup":
		err := s.engine.Backup(ctx)
		respond(c, gin.H{"backup": "done"}, err)
	default:
		swarm.RenderError(c, swarmerr.Newf(swarmerr.KindInvalidInput, "unknown op %q", req.Op))
	}
}

func respond(c *gin.Context, body any, err error) {
	if err != nil {
		swarm.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return swarmerr.New(swarmerr.KindMissingField, "params are required")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return swarmerr.Wrap(swarmerr.KindInvalidInput, "malformed params", err)
	}
	return nil
}

const defaultPageSize = 20

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, swarmerr.Newf(swarmerr.KindInvalidInput, "invalid record id %q", c.Param("id"))
	}
	return id, nil
}

func pageParams(c *gin.Context) (int, int, error) {
	page, err := intQuery(c, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	pageSize, err := intQuery(c, "page_size", defaultPageSize)
	if err != nil {
		return 0, 0, err
	}
	return page, pageSize, nil
}

func filtersFromQuery(c *gin.Context) (retrieval.Filters, error) {
	var f retrieval.Filters

	if themes := c.Query("themes"); themes != "" {
		for _, theme := range strings.Split(themes, ",") {
			if theme = strings.TrimSpace(theme); theme != "" {
				f.Themes = append(f.Themes, theme)
			}
		}
	}

	f.Emotion = c.Query("emotion")
	var err error
	if f.EmotionMin, err = floatQuery(c, "emotion_min"); err != nil {
		return f, err
	}
	if f.EmotionMax, err = floatQuery(c, "emotion_max"); err != nil {
		return f, err
	}
	if f.CreatedAfter, err = timeQuery(c, "created_after"); err != nil {
		return f, err
	}
	if f.CreatedBefore, err = timeQuery(c, "created_before"); err != nil {
		return f, err
	}
	return f, nil
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, swarmerr.Newf(swarmerr.KindInvalidInput, "%s: invalid integer %q", name, raw)
	}
	return v, nil
}

func floatQuery(c *gin.Context, name string) (float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, swarmerr.Newf(swarmerr.KindInvalidInput, "%s: invalid number %q", name, raw)
	}
	return v, nil
}

func timeQuery(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, swarmerr.Newf(swarmerr.KindInvalidInput,
			"%s: expected RFC3339 timestamp, got %q", name, raw)
	}
	return t, nil
}
