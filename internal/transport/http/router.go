package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mathquest-live/internal/app"
	"mathquest-live/internal/auth"
	"mathquest-live/internal/domain"
	"mathquest-live/internal/events"
	"mathquest-live/internal/metrics"
)

const ctxIdentity = "identity"

// Body is the REST response envelope.
type Body struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// RouterDeps bundles what the HTTP surface serves.
type RouterDeps struct {
	Game     *app.GameService
	Practice *app.PracticeService
	WS       *WSHandler
	Auth     *auth.JWTService
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	// Ready reports backing store health for /healthz; nil means always ready.
	Ready func() error
	// AllowedOrigins enables CORS for browser clients; "*" allows any origin.
	AllowedOrigins []string
}

type api struct {
	game     *app.GameService
	practice *app.PracticeService
	decoder  *events.Decoder
	logger   *zap.Logger
}

// NewRouter builds the gin engine with REST, websocket, health and metrics routes.
func NewRouter(d RouterDeps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Logger, d.Metrics))
	if len(d.AllowedOrigins) > 0 {
		r.Use(corsPolicy(d.AllowedOrigins))
	}

	r.GET("/healthz", func(c *gin.Context) {
		if d.Ready != nil {
			if err := d.Ready(); err != nil {
				c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err.Error()})
				return
			}
		}
		c.String(http.StatusOK, "ok")
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}
	if d.WS != nil {
		r.GET("/ws", gin.WrapF(d.WS.ServeWS))
	}

	a := &api{game: d.Game, practice: d.Practice, decoder: events.NewDecoder(), logger: d.Logger}
	v1 := r.Group("/api/v1", requireIdentity(d.Auth))
	{
		v1.POST("/games", a.createGame)
		v1.GET("/games/:code", a.getGame)
		v1.GET("/games/:code/results", a.getResults)
		v1.PATCH("/games/:code/deferred", a.setDeferred)
		v1.GET("/games/:code/replays", a.deferredResults)

		v1.POST("/practice", a.startPractice)
		v1.GET("/practice/history", a.practiceHistory)
		v1.GET("/practice/:id", a.getPractice)
		v1.POST("/practice/:id/answers", a.submitPracticeAnswer)
		v1.POST("/practice/:id/next", a.nextPracticeQuestion)
		v1.POST("/practice/:id/end", a.endPractice)
	}
	return r
}

func requestLogger(logger *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest(c.Request.Method, route, strconv.Itoa(status), latency)
		logger.Info("request",
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func requireIdentity(jwt *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := jwt.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Body{Success: false, Error: "invalid or expired token"})
			return
		}
		c.Set(ctxIdentity, id)
		c.Next()
	}
}

func identityOf(c *gin.Context) auth.Identity {
	id, _ := c.Get(ctxIdentity)
	identity, _ := id.(auth.Identity)
	return identity
}

func (a *api) fail(c *gin.Context, err error) {
	de, ok := domain.AsError(err)
	if !ok {
		a.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Body{Success: false, Error: "internal error", Code: "internal"})
		return
	}
	c.JSON(statusOf(de.Kind), Body{Success: false, Error: de.Error(), Code: de.ClientCode()})
}

func statusOf(kind domain.Kind) int {
	switch kind {
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound, domain.KindNoQuestionsFound:
		return http.StatusNotFound
	case domain.KindInvalidPayload:
		return http.StatusBadRequest
	case domain.KindConflict, domain.KindAlreadyAnswered:
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

func (a *api) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		a.fail(c, domain.ErrInvalidPayload.With("malformed body"))
		return false
	}
	if err := a.decoder.Validate(dst); err != nil {
		a.fail(c, err)
		return false
	}
	return true
}

func (a *api) createGame(c *gin.Context) {
	id := identityOf(c)
	if !id.IsTeacher() {
		a.fail(c, domain.ErrForbidden.With("only teachers can create games"))
		return
	}
	var req app.CreateGameRequest
	if !a.bind(c, &req) {
		return
	}
	s, err := a.game.CreateSession(c.Request.Context(), id.UserID, req)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Body{Success: true, Data: gin.H{
		"accessCode": s.AccessCode,
		"sessionId":  s.ID,
		"playMode":   s.PlayMode,
		"questions":  len(s.QuestionUIDs),
	}})
}

type lobbyView struct {
	AccessCode   string                   `json:"accessCode"`
	Status       domain.SessionStatus     `json:"status"`
	PlayMode     domain.PlayMode          `json:"playMode"`
	Creator      string                   `json:"creator"`
	Total        int                      `json:"total"`
	Participants []events.ParticipantView `json:"participants"`
}

func (a *api) getGame(c *gin.Context) {
	s, err := a.game.GetSession(c.Request.Context(), c.Param("code"))
	if err != nil {
		a.fail(c, err)
		return
	}
	view := lobbyView{
		AccessCode:   s.AccessCode,
		Status:       s.Status,
		PlayMode:     s.PlayMode,
		Creator:      s.CreatorID,
		Total:        len(s.QuestionUIDs),
		Participants: app.ParticipantViews(s),
	}
	c.JSON(http.StatusOK, Body{Success: true, Data: view})
}

func (a *api) getResults(c *gin.Context) {
	res, err := a.game.GetResult(c.Request.Context(), c.Param("code"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Body{Success: true, Data: res})
}

func (a *api) setDeferred(c *gin.Context) {
	var req events.DeferredWindowPayload
	if !a.bind(c, &req) {
		return
	}
	code := c.Param("code")
	if err := a.game.SetDeferredWindow(c.Request.Context(), code, identityOf(c).UserID, req.Window()); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Body{Success: true, Data: gin.H{"accessCode": code, "deferred": req.Window()}})
}

func (a *api) deferredResults(c *gin.Context) {
	results, err := a.game.DeferredResults(c.Request.Context(), c.Param("code"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Body{Success: true, Data: results})
}

func (a *api) startPractice(c *gin.Context) {
	var req events.StartPracticePayload
	if !a.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	userID := identityOf(c).UserID
	s, err := a.practice.Create(ctx, userID, req.Settings)
	if err != nil {
		a.fail(c, err)
		return
	}
	q, err := a.practice.CurrentQuestion(ctx, s.SessionID, userID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Body{Success: true, Data: gin.H{"session": s, "question": q}})
}

func (a *api) getPractice(c *gin.Context) {
	s, err := a.practice.Get(c.Request.Context(), c.Param("id"), identityOf(c).UserID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Body{Success: true, Data: s})
}

type practiceAnswerBody struct {
	QuestionUID string             `json:"questionUid" validate:"required,min=1,max=128"`
	Value       domain.AnswerValue `json:"value"`
	TimeSpentMs int64              `json:"timeSpentMs" validate:"gte=0"`
}

func (a *api) submitPracticeAnswer(c *gin.Context) {
	var body practiceAnswerBody
	if !a.bind(c, &body) {
		return
	}
	if body.Value.Empty() {
		a.fail(c, domain.ErrInvalidPayload.With("value is required"))
		return
	}
	fb, err := a.practice.SubmitAnswer(c.Request.Context(), c.Param("id"), identityOf(c).UserID, body.QuestionUID, body.Value, body.TimeSpentMs)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Body{Success: true, Data: fb})
}

type practiceNextBody struct {
	CurrentQuestionUID string `json:"currentQuestionUid" validate:"omitempty,max=128"`
}

func (a *api) nextPracticeQuestion(c *gin.Context) {
	var body practiceNextBody
	if c.Request.ContentLength > 0 && !a.bind(c, &body) {
		return
	}
	q, err := a.practice.NextQuestion(c.Request.Context(), c.Param("id"), identityOf(c).UserID, body.CurrentQuestionUID)
	if errors.Is(err, domain.ErrNoMoreQuestions) {
		c.JSON(http.StatusOK, Body{Success: true, Data: gin.H{"completed": true}})
		return
	}
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Body{Success: true, Data: q})
}

func (a *api) endPractice(c *gin.Context) {
	s, err := a.practice.End(c.Request.Context(), c.Param("id"), identityOf(c).UserID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Body{Success: true, Data: events.PracticeEndedPayload{SessionID: s.SessionID, Statistics: s.Statistics, Score: s.Score}})
}

func (a *api) practiceHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	results, err := a.practice.History(c.Request.Context(), identityOf(c).UserID, limit)
	if err != nil {
		a.fail(c, err)
		return
	}
	if results == nil {
		results = []domain.PracticeResult{}
	}
	c.JSON(http.StatusOK, Body{Success: true, Data: results})
}

func corsPolicy(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cors.New(cfg)
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cors.New(cfg)
}
