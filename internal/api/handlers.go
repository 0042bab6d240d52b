package api

import (
	"errors"
	"macrodash/internal/engine"
	"macrodash/internal/models"
	"macrodash/internal/pipeline"
	"macrodash/internal/registry"
	"macrodash/internal/viewstate"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/labstack/echo/v4"
)

const arrowStreamType = "application/vnd.apache.arrow.stream"

type Handler struct {
	pipeline *pipeline.Pipeline
	sessions *pipeline.Sessions
	reg      *registry.Registry
	codec    *viewstate.Codec
	warm     atomic.Bool
}

func NewHandler(p *pipeline.Pipeline, sessions *pipeline.Sessions) *Handler {
	return &Handler{pipeline: p, sessions: sessions, reg: p.Registry(), codec: p.Codec()}
}

// SetWarm records that the background warm-up has finished.
func (h *Handler) SetWarm(ok bool) { h.warm.Store(ok) }

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	api := e.Group("/api")
	api.GET("/indicators", h.GetIndicators)
	api.GET("/countries", h.GetCountries)
	api.GET("/view", h.GetView)
	api.GET("/permalink", h.GetPermalink)
	api.GET("/rows", h.GetRows)

	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:id", h.GetSession)
	api.PUT("/sessions/:id/view", h.PutSessionView)
	api.POST("/sessions/:id/reset", h.ResetSession)
}

// --- HANDLERS ---
func getDisplayParams(c echo.Context) (int, bool) {
	horizon, err := strconv.Atoi(c.QueryParam("ahead"))
	if err != nil || horizon <= 0 {
		horizon = pipeline.DefaultHorizon
	}
	smooth, err := strconv.ParseBool(c.QueryParam("smooth"))
	if err != nil {
		smooth = false
	}
	return horizon, smooth
}

func (h *Handler) request(c echo.Context) pipeline.Request {
	horizon, smooth := getDisplayParams(c)
	return pipeline.Request{
		View:    h.codec.Decode(viewstate.FromQuery(c.QueryParams())),
		Horizon: horizon,
		Smooth:  smooth,
	}
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "ok",
		"warm":   h.warm.Load(),
	})
}

func (h *Handler) GetIndicators(c echo.Context) error {
	return c.JSON(http.StatusOK, h.reg.Indicators())
}

func (h *Handler) GetCountries(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"primary":   h.reg.Primary(),
		"countries": h.reg.Countries(),
		"presets":   h.reg.Presets(),
	})
}

// bundle for the selection in the query string
func (h *Handler) GetView(c echo.Context) error {
	b, err := h.pipeline.Run(c.Request().Context(), h.request(c))
	if err != nil {
		return runError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// canonical form of whatever selection was passed in
func (h *Handler) GetPermalink(c echo.Context) error {
	v := h.codec.Decode(viewstate.FromQuery(c.QueryParams()))
	p := h.codec.Encode(v)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"view":   v,
		"params": p,
		"query":  p.Query(),
	})
}

// windowed series as an Arrow IPC stream
func (h *Handler) GetRows(c echo.Context) error {
	b, err := h.pipeline.Run(c.Request().Context(), h.request(c))
	if err != nil {
		return runError(err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, arrowStreamType)
	res.Header().Set("X-Series-Failures", strconv.Itoa(len(b.Failures)))
	res.WriteHeader(http.StatusOK)
	return engine.NewColumnStore(b.Series).WriteIPC(res, memory.DefaultAllocator)
}

func (h *Handler) CreateSession(c echo.Context) error {
	s := h.sessions.Create()
	v, _ := s.Current()
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":        s.ID.String(),
		"view":      v,
		"permalink": h.codec.Encode(v).Query(),
	})
}

func (h *Handler) session(c echo.Context) (*pipeline.Session, error) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return s, nil
}

func (h *Handler) GetSession(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	v, b := s.Current()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":     s.ID.String(),
		"view":   v,
		"bundle": b,
	})
}

// PutSessionView applies the selection in the query string. A cycle that was
// overtaken by a newer one answers 409 with the bundle it computed.
func (h *Handler) PutSessionView(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	b, committed, err := s.Apply(c.Request().Context(), h.request(c))
	return sessionResult(c, b, committed, err)
}

func (h *Handler) ResetSession(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	b, committed, err := s.Reset(c.Request().Context())
	return sessionResult(c, b, committed, err)
}

func sessionResult(c echo.Context, b models.Bundle, committed bool, err error) error {
	if err != nil {
		return runError(err)
	}
	status := http.StatusOK
	if !committed {
		status = http.StatusConflict
	}
	return c.JSON(status, map[string]interface{}{
		"superseded": !committed,
		"bundle":     b,
	})
}

func runError(err error) error {
	if errors.Is(err, registry.ErrUnknownIndicator) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
}
