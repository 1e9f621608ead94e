package domain

import "time"

// PracticeStatus is the lifecycle state of a practice session.
type PracticeStatus string

const (
	PracticeActive    PracticeStatus = "active"
	PracticeCompleted PracticeStatus = "completed"
)

// MaxPracticeRetries caps retries per incorrectly answered question.
const MaxPracticeRetries = 1

// PracticeSettings selects the question pool and feedback policy.
type PracticeSettings struct {
	TemplateID    string   `json:"gameTemplateId,omitempty"`
	GradeLevel    string   `json:"gradeLevel,omitempty"`
	Discipline    string   `json:"discipline,omitempty"`
	Themes        []string `json:"themes,omitempty"`
	QuestionCount int      `json:"questionCount,omitempty"`
	AllowRetry    bool     `json:"allowRetry"`
}

// PracticeAnswer records one attempt inside a practice session.
type PracticeAnswer struct {
	QuestionUID   string      `json:"questionUid"`
	Value         AnswerValue `json:"value"`
	IsCorrect     bool        `json:"isCorrect"`
	ScoreAwarded  int         `json:"scoreAwarded"`
	TimeSpentMs   int64       `json:"timeSpentMs"`
	SubmittedAt   time.Time   `json:"submittedAt"`
	AttemptNumber int         `json:"attemptNumber"`
}

// PracticeStatistics aggregates per-question outcomes; retried questions count once.
type PracticeStatistics struct {
	QuestionsAttempted     int      `json:"questionsAttempted"`
	CorrectAnswers         int      `json:"correctAnswers"`
	IncorrectAnswers       int      `json:"incorrectAnswers"`
	AccuracyPercentage     float64  `json:"accuracyPercentage"`
	AverageTimePerQuestion float64  `json:"averageTimePerQuestion"`
	TotalTimeSpentMs       int64    `json:"totalTimeSpent"`
	RetriedQuestions       []string `json:"retriedQuestions"`
}

// PracticeSession is a single-player, self-paced session.
type PracticeSession struct {
	SessionID            string             `json:"sessionId"`
	UserID               string             `json:"userId"`
	Settings             PracticeSettings   `json:"settings"`
	Status               PracticeStatus     `json:"status"`
	QuestionPool         []string           `json:"questionPool"`
	CurrentQuestionIndex int                `json:"currentQuestionIndex"`
	Answers              []PracticeAnswer   `json:"answers"`
	Outcomes             map[string]bool    `json:"outcomes"`
	Retries              map[string]int     `json:"retries"`
	Statistics           PracticeStatistics `json:"statistics"`
	Score                int                `json:"score"`
	CreatedAt            time.Time          `json:"createdAt"`
	CompletedAt          time.Time          `json:"completedAt,omitempty"`
	ExpiresAt            time.Time          `json:"expiresAt"`
	Recorded             bool               `json:"recorded"`
}

// CurrentQuestionUID returns the question under the pointer, or "" when exhausted.
func (p *PracticeSession) CurrentQuestionUID() string {
	if p.CurrentQuestionIndex < 0 || p.CurrentQuestionIndex >= len(p.QuestionPool) {
		return ""
	}
	return p.QuestionPool[p.CurrentQuestionIndex]
}

// Expired reports whether the session outlived its TTL.
func (p *PracticeSession) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// Clone returns a deep copy.
func (p *PracticeSession) Clone() *PracticeSession {
	if p == nil {
		return nil
	}
	out := *p
	out.Settings.Themes = append([]string(nil), p.Settings.Themes...)
	out.QuestionPool = append([]string(nil), p.QuestionPool...)
	out.Answers = make([]PracticeAnswer, len(p.Answers))
	for i, a := range p.Answers {
		a.Value = a.Value.clone()
		out.Answers[i] = a
	}
	out.Outcomes = make(map[string]bool, len(p.Outcomes))
	for k, v := range p.Outcomes {
		out.Outcomes[k] = v
	}
	out.Retries = make(map[string]int, len(p.Retries))
	for k, v := range p.Retries {
		out.Retries[k] = v
	}
	out.Statistics.RetriedQuestions = append([]string(nil), p.Statistics.RetriedQuestions...)
	return &out
}

// PracticeResult is the durable historical record of a completed practice session.
type PracticeResult struct {
	SessionID   string             `json:"sessionId"`
	UserID      string             `json:"userId"`
	Settings    PracticeSettings   `json:"settings"`
	Statistics  PracticeStatistics `json:"statistics"`
	Score       int                `json:"score"`
	CreatedAt   time.Time          `json:"createdAt"`
	CompletedAt time.Time          `json:"completedAt"`
}
