package generator

import (
	"context"
	"sync"
	"time"

	"github.com/YunX-a/image-to-diagram-xml/imageprep"
)

// Session status values.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Session 记录一次图片转换：来源、模式、最终结果或错误。
type Session struct {
	mu         sync.RWMutex
	ID         string
	Source     string
	Mode       string
	Status     string
	Result     Result
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
	agent      *Agent
}

// NewSession 创建 session，尚未开始转换。
func NewSession(id, source string, agent *Agent) *Session {
	return &Session{
		ID:     id,
		Source: source,
		Status: StatusPending,
		agent:  agent,
	}
}

// Run executes one conversion and records its outcome on the session.
func (s *Session) Run(ctx context.Context, img imageprep.Payload, mode string) (Result, error) {
	if mode == "" {
		mode = ModeStaged
	}
	s.mu.Lock()
	s.Mode = mode
	s.Status = StatusRunning
	s.StartedAt = time.Now()
	s.mu.Unlock()

	var (
		res Result
		err error
	)
	if mode == ModeDirect {
		res, err = s.agent.RunDirect(ctx, img)
	} else {
		res, err = s.agent.Run(ctx, img)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Result, s.Err = res, err
	s.FinishedAt = time.Now()
	if err != nil {
		s.Status = StatusFailed
	} else {
		s.Status = StatusDone
	}
	return res, err
}

// Snapshot is a read-only copy of a session, safe to serialise.
type Snapshot struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Result     *Result   `json:"result,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:         s.ID,
		Source:     s.Source,
		Mode:       s.Mode,
		Status:     s.Status,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
	if s.Err != nil {
		snap.Error = s.Err.Error()
	}
	if s.Status == StatusDone {
		r := s.Result
		snap.Result = &r
	}
	return snap
}
