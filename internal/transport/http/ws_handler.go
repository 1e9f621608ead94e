package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mathquest-live/internal/app"
	"mathquest-live/internal/auth"
	"mathquest-live/internal/domain"
	"mathquest-live/internal/events"
	"mathquest-live/internal/metrics"
)

const dispatchTimeout = 10 * time.Second

type WSHandler struct {
	game     *app.GameService
	practice *app.PracticeService
	hub      *Hub
	auth     *auth.JWTService
	decoder  *events.Decoder
	logger   *zap.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewWSHandler(game *app.GameService, practice *app.PracticeService, hub *Hub, jwt *auth.JWTService, logger *zap.Logger, m *metrics.Metrics, allowedOrigins []string) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		game:     game,
		practice: practice,
		hub:      hub,
		auth:     jwt,
		decoder:  events.NewDecoder(),
		logger:   logger,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// ServeWS authenticates the caller, upgrades the connection and runs the
// read loop. The token comes from the token query parameter or the
// Authorization header.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}
	identity, err := h.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := newClient(uuid.NewString(), identity, conn)
	h.metrics.ConnectionOpened()
	go c.writePump()

	h.readPump(c)

	h.hub.Remove(c)
	for code := range c.participantOf {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		if err := h.game.Disconnect(ctx, code, identity.UserID, c.id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			h.logger.Warn("disconnect failed", zap.String("access_code", code), zap.Error(err))
		}
		cancel()
	}
	c.close()
	h.metrics.ConnectionClosed()
}

func (h *WSHandler) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("ws read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env events.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			h.reply(c, events.Error, events.ErrorPayload{Code: string(domain.KindInvalidPayload), Message: "malformed message"})
			continue
		}
		payload, err := h.decoder.Decode(env.Event, env.Data)
		if err != nil {
			h.fail(c, env.Event, err, false)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		err = h.dispatch(ctx, c, env.Event, payload)
		cancel()
		if err != nil {
			h.fail(c, env.Event, err, h.controls(c, payload))
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, c *client, event string, payload any) error {
	userID := c.identity.UserID
	switch p := payload.(type) {
	case *events.JoinLobbyPayload:
		// The token identity wins over whatever the client claims.
		username := c.identity.Username
		if username == "" {
			username = p.Username
		}
		avatar := p.AvatarEmoji
		if avatar == "" {
			avatar = c.identity.AvatarEmoji
		}
		room := app.GameRoom(p.AccessCode)
		h.hub.Join(c, room)
		if _, err := h.game.JoinLobby(ctx, p.AccessCode, app.PlayerIdentity{UserID: userID, Username: username, AvatarEmoji: avatar}, c.id); err != nil {
			if _, ok := c.participantOf[p.AccessCode]; !ok {
				h.hub.Leave(c, room)
			}
			return err
		}
		c.participantOf[p.AccessCode] = struct{}{}
		return h.sendState(ctx, c, p.AccessCode, app.ViewParticipant)

	case *events.AccessCodePayload:
		return h.dispatchAccessCode(ctx, c, event, p.AccessCode)

	case *events.StartGamePayload:
		return h.game.StartGame(ctx, p.AccessCode, userID)

	case *events.SubmitAnswerPayload:
		err := h.game.SubmitAnswer(ctx, c.sessionFor(p.AccessCode), userID, p.QuestionUID, p.Value, p.ClientElapsedMs)
		if de, ok := domain.AsError(err); ok {
			// Rejections are acknowledged against the question, without correctness.
			h.reply(c, events.AnswerAck, events.AnswerAckPayload{QuestionUID: p.QuestionUID, Reason: de.ClientCode()})
			return nil
		}
		return err

	case *events.TimerActionPayload:
		_, err := h.game.TimerAction(ctx, p.AccessCode, userID, app.TimerCommand{
			Action:      p.Action,
			QuestionUID: p.QuestionUID,
			DurationMs:  p.DurationMs,
		})
		return err

	case *events.SetQuestionPayload:
		return h.game.SetQuestion(ctx, p.AccessCode, userID, p.QuestionUID)

	case *events.LockAnswersPayload:
		return h.game.LockAnswers(ctx, p.AccessCode, userID, p.Lock)

	case *events.ToggleProjectionStatsPayload:
		return h.game.ToggleProjectionStats(ctx, p.AccessCode, userID, p.Show)

	case *events.RequestNextQuestionPayload:
		q, err := h.practice.NextQuestion(ctx, p.AccessCode, userID, p.CurrentQuestionUID)
		if errors.Is(err, domain.ErrNoMoreQuestions) {
			return h.sendPracticeEnded(ctx, c, p.AccessCode)
		}
		if err != nil {
			return err
		}
		h.reply(c, events.PracticeQuestion, events.PracticeQuestionPayload(q))
		return nil

	case *events.StartPracticePayload:
		s, err := h.practice.Create(ctx, userID, p.Settings)
		if err != nil {
			return err
		}
		h.reply(c, events.PracticeStarted, s)
		q, err := h.practice.CurrentQuestion(ctx, s.SessionID, userID)
		if err != nil {
			return err
		}
		h.reply(c, events.PracticeQuestion, events.PracticeQuestionPayload(q))
		return nil

	case *events.SubmitPracticeAnswerPayload:
		fb, err := h.practice.SubmitAnswer(ctx, p.SessionID, userID, p.QuestionUID, p.Value, p.TimeSpentMs)
		if err != nil {
			return err
		}
		h.reply(c, events.PracticeFeedback, events.PracticeFeedbackPayload(fb))
		if fb.Completed {
			return h.sendPracticeEnded(ctx, c, p.SessionID)
		}
		return nil

	case *events.PracticeSessionPayload:
		s, err := h.practice.End(ctx, p.SessionID, userID)
		if err != nil {
			return err
		}
		h.reply(c, events.PracticeEnded, events.PracticeEndedPayload{SessionID: s.SessionID, Statistics: s.Statistics, Score: s.Score})
		return nil
	}
	return domain.ErrInvalidPayload.With("unsupported event " + event)
}

// dispatchAccessCode handles the events whose payload only names a session.
func (h *WSHandler) dispatchAccessCode(ctx context.Context, c *client, event, code string) error {
	userID := c.identity.UserID
	switch event {
	case events.LeaveLobby:
		err := h.game.LeaveLobby(ctx, code, userID)
		h.hub.Leave(c, app.GameRoom(code))
		delete(c.participantOf, code)
		return err
	case events.JoinDashboard:
		if err := h.game.AuthorizeControl(ctx, code, userID); err != nil {
			return err
		}
		h.hub.Join(c, app.DashboardRoom(code))
		return h.sendState(ctx, c, code, app.ViewDashboard)
	case events.JoinProjection:
		if err := h.game.AuthorizeControl(ctx, code, userID); err != nil {
			return err
		}
		h.hub.Join(c, app.ProjectionRoom(code))
		return h.sendState(ctx, c, code, app.ViewProjection)
	case events.NextQuestion:
		err := h.game.AdvanceQuestion(ctx, code, userID)
		if errors.Is(err, domain.ErrNoMoreQuestions) {
			// game_ended has already been broadcast.
			return nil
		}
		return err
	case events.RevealAnswers:
		return h.game.RevealAnswers(ctx, code, userID)
	case events.EndGame:
		_, err := h.game.EndSession(ctx, code, userID)
		return err
	case events.RequestGameState:
		code = c.sessionFor(code)
		return h.sendState(ctx, c, code, h.viewerOf(c, code))
	case events.StartDeferred:
		player := app.PlayerIdentity{UserID: userID, Username: c.identity.Username, AvatarEmoji: c.identity.AvatarEmoji}
		s, err := h.game.StartDeferred(ctx, code, player, c.id)
		if err != nil {
			return err
		}
		// The first question may have gone out before the join; the state reply covers it.
		h.hub.Join(c, app.GameRoom(s.AccessCode))
		c.replays[code] = s.AccessCode
		c.participantOf[s.AccessCode] = struct{}{}
		return h.sendState(ctx, c, s.AccessCode, app.ViewParticipant)
	}
	return domain.ErrInvalidPayload.With("unsupported event " + event)
}

// viewerOf picks the richest state variant the socket has already been admitted to.
func (h *WSHandler) viewerOf(c *client, code string) app.Viewer {
	h.hub.mu.RLock()
	defer h.hub.mu.RUnlock()
	if _, ok := c.rooms[app.DashboardRoom(code)]; ok {
		return app.ViewDashboard
	}
	if _, ok := c.rooms[app.ProjectionRoom(code)]; ok {
		return app.ViewProjection
	}
	return app.ViewParticipant
}

func (h *WSHandler) sendState(ctx context.Context, c *client, code string, viewer app.Viewer) error {
	state, err := h.game.Snapshot(ctx, code, c.identity.UserID, viewer)
	if err != nil {
		return err
	}
	h.reply(c, events.GameState, state)
	return nil
}

func (h *WSHandler) sendPracticeEnded(ctx context.Context, c *client, sessionID string) error {
	s, err := h.practice.Get(ctx, sessionID, c.identity.UserID)
	if err != nil {
		return err
	}
	h.reply(c, events.PracticeEnded, events.PracticeEndedPayload{SessionID: s.SessionID, Statistics: s.Statistics, Score: s.Score})
	return nil
}

// controls reports whether the socket issued a teacher-side event, in which
// case error detail is returned.
func (h *WSHandler) controls(c *client, payload any) bool {
	if c.identity.IsTeacher() {
		return true
	}
	switch payload.(type) {
	case *events.TimerActionPayload, *events.SetQuestionPayload, *events.LockAnswersPayload, *events.ToggleProjectionStatsPayload:
		return true
	}
	return false
}

func (h *WSHandler) fail(c *client, event string, err error, detailed bool) {
	de, ok := domain.AsError(err)
	if !ok {
		h.logger.Error("event failed", zap.String("event", event), zap.String("user_id", c.identity.UserID), zap.Error(err))
		h.reply(c, events.Error, events.ErrorPayload{Code: "internal", Message: "internal error"})
		return
	}
	msg := terseMessage(de.Kind)
	if detailed {
		msg = de.Error()
	}
	h.reply(c, events.Error, events.ErrorPayload{Code: de.ClientCode(), Message: msg})
}

func terseMessage(kind domain.Kind) string {
	switch kind {
	case domain.KindForbidden:
		return "not allowed"
	case domain.KindNotFound:
		return "not found"
	case domain.KindTimeExpired:
		return "time is up"
	case domain.KindAlreadyAnswered:
		return "already answered"
	case domain.KindAnswersLocked:
		return "answers are locked"
	case domain.KindInvalidPayload:
		return "invalid request"
	case domain.KindSessionNotActive:
		return "game is not running"
	}
	return "request rejected"
}

func (h *WSHandler) reply(c *client, event string, payload any) {
	frame, err := events.Encode(event, payload)
	if err != nil {
		h.logger.Error("encode reply", zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(frame)
}
