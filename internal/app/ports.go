package app

import (
	"context"
	"time"

	"mathquest-live/internal/domain"
)

// SessionRepository abstracts where live sessions are kept (in-memory, Redis).
// Implementations return copies; callers mutate and Save them back.
type SessionRepository interface {
	// Create stores a new session and fails with domain.ErrVersionConflict when
	// the access code is already taken.
	Create(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, accessCode string) (*domain.Session, error)
	// Save persists session if its Version matches the stored one and bumps it.
	Save(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, accessCode string) error
	// ListLive returns the access codes of sessions that are active or paused.
	ListLive(ctx context.Context) ([]string, error)
}

// QuestionRepository loads question content (from cache/backing store).
type QuestionRepository interface {
	GetQuestion(ctx context.Context, uid string) (domain.Question, error)
	GetTemplate(ctx context.Context, id string) (domain.GameTemplate, error)
	FindQuestionUIDs(ctx context.Context, filter domain.QuestionFilter) ([]string, error)
}

// PracticeRepository keeps practice sessions for their TTL.
type PracticeRepository interface {
	Save(ctx context.Context, session *domain.PracticeSession) error
	Get(ctx context.Context, sessionID string) (*domain.PracticeSession, error)
	Delete(ctx context.Context, sessionID string) error
}

// ResultStore is the durable sink for completed sessions. Saves are
// idempotent per session id.
type ResultStore interface {
	SaveGameResult(ctx context.Context, result domain.GameResult) error
	// GetGameResult returns the live game's result, never a replay's.
	GetGameResult(ctx context.Context, accessCode string) (domain.GameResult, error)
	ListDeferredResults(ctx context.Context, accessCode string) ([]domain.GameResult, error)
	SavePracticeResult(ctx context.Context, result domain.PracticeResult) error
	ListPracticeResults(ctx context.Context, userID string, limit int) ([]domain.PracticeResult, error)
}

// RoomKind names one of the three audiences of a session.
type RoomKind string

const (
	RoomGame       RoomKind = "game"
	RoomDashboard  RoomKind = "dashboard"
	RoomProjection RoomKind = "projection"
)

// Room addresses one audience of one session.
type Room struct {
	Kind       RoomKind
	AccessCode string
}

func (r Room) String() string {
	return string(r.Kind) + ":" + r.AccessCode
}

func GameRoom(code string) Room       { return Room{Kind: RoomGame, AccessCode: code} }
func DashboardRoom(code string) Room  { return Room{Kind: RoomDashboard, AccessCode: code} }
func ProjectionRoom(code string) Room { return Room{Kind: RoomProjection, AccessCode: code} }

// Broadcaster delivers events to rooms and individual users. Implementations
// must not block the caller.
type Broadcaster interface {
	Broadcast(room Room, event string, payload any)
	SendToUser(accessCode, userID, event string, payload any)
}

// Scheduler runs f after d. The returned function cancels the call and reports
// whether it was still pending.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (cancel func() bool)
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// RealScheduler schedules on the runtime timer heap.
func RealScheduler() Scheduler { return realScheduler{} }

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(Room, string, any) {}
func (nopBroadcaster) SendToUser(string, string, string, any) {}
