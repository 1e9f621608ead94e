package app

import (
	"context"

	"go.uber.org/zap"

	"mathquest-live/internal/domain"
)

// PlayerIdentity is the roster identity of a joining participant.
type PlayerIdentity struct {
	UserID      string
	Username    string
	AvatarEmoji string
}

// JoinLobby registers or refreshes a participant. Rejoining with the same user
// id rebinds the socket without duplicating the roster entry, which is also how
// a reconnect mid-game is handled.
func (g *GameService) JoinLobby(ctx context.Context, accessCode string, player PlayerIdentity, socketID string) (*domain.Session, error) {
	var out *domain.Session
	err := g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		if s.Status == domain.StatusCompleted {
			return nil, domain.ErrSessionNotActive.With("game has ended")
		}
		if s.Participants == nil {
			s.Participants = make(map[string]*domain.Participant)
		}
		p, ok := s.Participants[player.UserID]
		if !ok {
			p = &domain.Participant{
				UserID:            player.UserID,
				JoinedAt:          g.now(),
				AnsweredQuestions: make(map[string]bool),
			}
			s.Participants[player.UserID] = p
		}
		if player.Username != "" {
			p.Username = player.Username
		}
		if player.AvatarEmoji != "" {
			p.AvatarEmoji = player.AvatarEmoji
		}
		p.SocketID = socketID
		p.Online = true

		out = s.Clone()
		return func() {
			g.logger.Debug("participant joined",
				zap.String("access_code", accessCode),
				zap.String("user_id", player.UserID),
				zap.Bool("rejoin", ok))
			g.fanout.ParticipantList(s)
		}, nil
	})
	return out, err
}

// LeaveLobby removes the participant before start; once the game runs the
// participant is only marked offline so scores survive.
func (g *GameService) LeaveLobby(ctx context.Context, accessCode, userID string) error {
	return g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		p, ok := s.Participants[userID]
		if !ok || s.Status == domain.StatusCompleted {
			return nil, errUnchanged
		}
		if s.Status == domain.StatusPending {
			delete(s.Participants, userID)
		} else {
			p.Online = false
			p.SocketID = ""
		}
		return func() { g.fanout.ParticipantList(s) }, nil
	})
}

// Disconnect marks a participant offline if socketID is still its binding. A
// stale socket closing after a reconnect changes nothing.
func (g *GameService) Disconnect(ctx context.Context, accessCode, userID, socketID string) error {
	return g.mutate(ctx, accessCode, func(s *domain.Session) (func(), error) {
		p, ok := s.Participants[userID]
		if !ok || p.SocketID != socketID || !p.Online {
			return nil, errUnchanged
		}
		p.Online = false
		p.SocketID = ""
		return func() { g.fanout.ParticipantList(s) }, nil
	})
}
