package app

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mathquest-live/internal/domain"
)

// SetDeferredWindow lets the creator open or close solo replays of a tournament.
func (g *GameService) SetDeferredWindow(ctx context.Context, accessCode, requesterID string, w domain.DeferredWindow) error {
	return g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		if err := authorize(s, requesterID); err != nil {
			return nil, err
		}
		if s.PlayMode != domain.PlayModeTournament || s.ReplayOf != "" {
			return nil, domain.ErrInvalidPayload.With("only tournaments can be replayed")
		}
		if !w.From.IsZero() && !w.To.IsZero() && w.To.Before(w.From) {
			return nil, domain.ErrInvalidPayload.With("deferred window ends before it starts")
		}
		s.Deferred = w
		return func() {
			g.logger.Info("deferred window updated",
				zap.String("access_code", accessCode),
				zap.Bool("enabled", w.Enabled))
		}, nil
	})
}

// StartDeferred opens player's solo replay of a finished tournament. The
// replay is an ordinary tournament session stored under
// domain.DeferredKey, so it runs on the same timer, ledger and reveal path as
// a live game and its events go to that key's rooms. Calling it while the
// replay runs rebinds the socket; calling it after the replay ended starts a
// new attempt.
func (g *GameService) StartDeferred(ctx context.Context, accessCode string, player PlayerIdentity, socketID string) (*domain.Session, error) {
	src, err := g.sessions.Get(ctx, accessCode)
	if err != nil {
		return nil, err
	}
	now := g.now()
	switch {
	case src.PlayMode != domain.PlayModeTournament || src.ReplayOf != "" || !src.Deferred.Enabled:
		return nil, domain.ErrDeferredUnavailable.With("this game cannot be replayed")
	case src.Status != domain.StatusCompleted:
		return nil, domain.ErrDeferredUnavailable.With("the tournament has not finished")
	case !src.Deferred.Open(now):
		return nil, domain.ErrDeferredUnavailable.With("outside the replay window")
	}

	key := domain.DeferredKey(accessCode, player.UserID)
	unlock := g.locks.Lock(key)
	defer unlock()

	attempt := 1
	prev, err := g.sessions.Get(ctx, key)
	switch {
	case err == nil && prev.Live():
		p := prev.Participants[player.UserID]
		p.SocketID = socketID
		p.Online = true
		if err := g.sessions.Save(ctx, prev); err != nil {
			return nil, err
		}
		return prev.Clone(), nil
	case err == nil:
		attempt = prev.Attempt + 1
		if err := g.sessions.Delete(ctx, key); err != nil {
			return nil, err
		}
	case !errors.Is(err, domain.ErrSessionNotFound):
		return nil, err
	}

	s := &domain.Session{
		ID:                   uuid.NewString(),
		AccessCode:           key,
		Status:               domain.StatusActive,
		PlayMode:             domain.PlayModeTournament,
		CreatorID:            src.CreatorID,
		TemplateID:           src.TemplateID,
		QuestionUIDs:         append([]string(nil), src.QuestionUIDs...),
		CurrentQuestionIndex: -1,
		Participants: map[string]*domain.Participant{
			player.UserID: {
				UserID:            player.UserID,
				Username:          player.Username,
				AvatarEmoji:       player.AvatarEmoji,
				SocketID:          socketID,
				Online:            true,
				JoinedAt:          now,
				AnsweredQuestions: make(map[string]bool),
			},
		},
		Timer:             domain.TimerState{Status: domain.TimerStop, TimeMultiplier: src.TimeMultiplier},
		RevealedQuestions: make(map[string]bool),
		TimeMultiplier:    src.TimeMultiplier,
		CreatedAt:         now,
		StartedAt:         now,
		ReplayOf:          accessCode,
		Attempt:           attempt,
	}
	show, err := g.showQuestion(ctx, s, 0)
	if err != nil {
		return nil, err
	}
	if err := g.sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	g.metrics.SessionCreated("deferred")
	g.logger.Info("deferred replay started",
		zap.String("access_code", accessCode),
		zap.String("user_id", player.UserID),
		zap.Int("attempt", attempt))
	show()
	return s.Clone(), nil
}

// DeferredResults lists the durable results of finished replays of accessCode.
func (g *GameService) DeferredResults(ctx context.Context, accessCode string) ([]domain.GameResult, error) {
	return g.results.ListDeferredResults(ctx, accessCode)
}
