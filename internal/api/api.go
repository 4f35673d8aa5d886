package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"flexphone/internal/auth"
	"flexphone/internal/config"
	"flexphone/internal/engine"
	"flexphone/internal/firewall"
	"flexphone/internal/history"
	"flexphone/internal/models"
	"flexphone/internal/notify"
	"flexphone/internal/providers"
	"flexphone/internal/registrar"
	"flexphone/pkg/utils"
)

// ControlAPI is the HTTP surface the UI layer drives the softphone
// through. Every response carries a success flag and, on failure, a
// human-readable reason.
type ControlAPI struct {
	reg    *registrar.Registrar
	cc     *engine.CallControl
	hist   history.Recorder
	events *notify.BufferSink
	tokens *auth.Manager
	fw     *firewall.Firewall
	cfg    config.APIConfig
	log    zerolog.Logger
}

func New(reg *registrar.Registrar, cc *engine.CallControl, hist history.Recorder,
	events *notify.BufferSink, tokens *auth.Manager, fw *firewall.Firewall,
	cfg config.APIConfig, log zerolog.Logger) *ControlAPI {
	return &ControlAPI{
		reg:    reg,
		cc:     cc,
		hist:   hist,
		events: events,
		tokens: tokens,
		fw:     fw,
		cfg:    cfg,
		log:    log.With().Str("component", "api").Logger(),
	}
}

func (a *ControlAPI) Start(addr string) error {
	return a.router().Start(addr)
}

func (a *ControlAPI) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// CORS for local UI shells
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE},
	}))

	// Metrics and health, unauthenticated
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/api/health", a.health)
	e.POST("/api/login", a.login)

	g := e.Group("/api", a.requireAuth)

	// ─── Session ─────────────────────────────────────────
	g.POST("/connect", a.connect)
	g.POST("/disconnect", a.disconnect)
	g.GET("/status", a.getStatus)
	g.GET("/providers", a.listProviders)

	// ─── Calls ───────────────────────────────────────────
	g.POST("/calls", a.initiateCall)
	g.GET("/calls/active", a.listActiveCalls)
	g.POST("/calls/:id/answer", a.answer)
	g.POST("/calls/:id/decline", a.decline)
	g.POST("/calls/:id/hangup", a.hangup)
	g.POST("/calls/:id/dtmf", a.sendDTMF)

	// ─── History & events ────────────────────────────────
	g.GET("/history", a.listHistory)
	g.GET("/events", a.listEvents)

	return e
}

// requireAuth validates the bearer token when API auth is configured.
func (a *ControlAPI) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if a.cfg.Username == "" {
			return next(c)
		}
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			return c.JSON(http.StatusUnauthorized, failure("missing bearer token"))
		}
		if _, err := a.tokens.ValidateToken(token); err != nil {
			return c.JSON(http.StatusUnauthorized, failure("invalid token"))
		}
		return next(c)
	}
}

func (a *ControlAPI) login(c echo.Context) error {
	ip := c.RealIP()
	if !a.fw.IsAllowed(ip) {
		return c.JSON(http.StatusForbidden, failure("too many failed logins"))
	}

	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, failure(err.Error()))
	}
	if a.cfg.Username == "" || body.Username != a.cfg.Username || body.Password != a.cfg.Password {
		a.fw.RecordFailedAuth(ip)
		utils.APIAuthFailures.Inc()
		return c.JSON(http.StatusUnauthorized, failure("bad credentials"))
	}
	a.fw.RecordSuccess(ip)

	token, err := a.tokens.GenerateToken(body.Username)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, failure("failed to issue token"))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   token,
	})
}

func (a *ControlAPI) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"state":   a.reg.State(),
	})
}

// ─── Session handlers ────────────────────────────────────────────

func (a *ControlAPI) connect(c echo.Context) error {
	var cfg models.ConnectConfig
	if err := c.Bind(&cfg); err != nil {
		return c.JSON(http.StatusBadRequest, failure(err.Error()))
	}
	if err := a.reg.Connect(c.Request().Context(), cfg); err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"success": true,
		"state":   a.reg.State(),
	})
}

func (a *ControlAPI) disconnect(c echo.Context) error {
	if err := a.reg.Disconnect(c.Request().Context()); err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

func (a *ControlAPI) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  a.reg.Status(),
	})
}

func (a *ControlAPI) listProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":   true,
		"providers": providers.List(),
	})
}

// ─── Call handlers ───────────────────────────────────────────────

func (a *ControlAPI) initiateCall(c echo.Context) error {
	var body struct {
		Number string `json:"number"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, failure(err.Error()))
	}
	callID, err := a.cc.InitiateCall(c.Request().Context(), body.Number)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"call_id": callID,
	})
}

func (a *ControlAPI) listActiveCalls(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"calls":   a.cc.ActiveCalls(),
	})
}

func (a *ControlAPI) answer(c echo.Context) error {
	if err := a.cc.Answer(c.Request().Context(), c.Param("id")); err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

func (a *ControlAPI) decline(c echo.Context) error {
	if err := a.cc.Decline(c.Request().Context(), c.Param("id")); err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

func (a *ControlAPI) hangup(c echo.Context) error {
	found, err := a.cc.Hangup(c.Request().Context(), c.Param("id"))
	if err != nil {
		return a.fail(c, err)
	}
	resp := map[string]interface{}{"success": true}
	if !found {
		resp["note"] = "call not found"
	}
	return c.JSON(http.StatusOK, resp)
}

func (a *ControlAPI) sendDTMF(c echo.Context) error {
	var body struct {
		Digits string `json:"digits"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, failure(err.Error()))
	}
	if err := a.cc.SendDTMF(c.Request().Context(), c.Param("id"), body.Digits); err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

// ─── History & events ────────────────────────────────────────────

func (a *ControlAPI) listHistory(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	records, err := a.hist.List(limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, failure(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"history": records,
	})
}

func (a *ControlAPI) listEvents(c echo.Context) error {
	after, _ := strconv.ParseUint(c.QueryParam("after"), 10, 64)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"events":  a.events.Since(after),
	})
}

// ─── Error mapping ───────────────────────────────────────────────

func failure(reason string) map[string]interface{} {
	return map[string]interface{}{
		"success": false,
		"reason":  reason,
	}
}

// fail maps the error taxonomy onto HTTP statuses; every failure is a
// structured body, never an unhandled error up the stack.
func (a *ControlAPI) fail(c echo.Context, err error) error {
	var (
		cfgErr    *models.ConfigError
		numErr    *models.InvalidNumberError
		digitsErr *models.InvalidDigitsError
		notRegErr *models.NotRegisteredError
		stateErr  *models.InvalidCallStateError
		limitErr  *models.ConcurrencyLimitError
		tpErr     *models.TransportError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &numErr), errors.As(err, &digitsErr):
		status = http.StatusBadRequest
	case errors.As(err, &notRegErr), errors.As(err, &stateErr):
		status = http.StatusConflict
	case errors.As(err, &limitErr):
		status = http.StatusTooManyRequests
	case errors.As(err, &tpErr):
		status = http.StatusBadGateway
	}
	return c.JSON(status, failure(err.Error()))
}
