package agentpipe

import "time"

// SessionInfo identifies a running session.
//
// SessionInfo is a value type. The client owns the authoritative copy and
// hands out snapshots; the only mutation after Start is absorbing the
// session id reported by the agent's init event.
type SessionInfo struct {
	// ID is the caller-supplied resume id, the id reported by the agent,
	// or a generated UUID.
	ID string `json:"id"`

	// CreatedAt is when the session was started.
	CreatedAt time.Time `json:"created_at"`

	// WorkDir is the working directory of the agent process.
	WorkDir string `json:"work_dir"`

	// Model is the model reported by the agent, if any.
	Model string `json:"model,omitempty"`

	// generated marks ID as locally generated, i.e. still replaceable by
	// the agent's own id.
	generated bool
}

// NewSessionInfo returns session info for a new session. An empty id is
// replaced by the value of generate and marked as replaceable.
func NewSessionInfo(id, workDir string, now time.Time, generate func() string) SessionInfo {
	info := SessionInfo{ID: id, CreatedAt: now, WorkDir: workDir}
	if id == "" {
		info.ID = generate()
		info.generated = true
	}
	return info
}

// Absorb records the session id and model reported by the agent. The id
// is only taken if the current one was generated locally; it is taken at
// most once.
func (s *SessionInfo) Absorb(sessionID, model string) bool {
	if model != "" && s.Model == "" {
		s.Model = model
	}
	if sessionID == "" || !s.generated {
		return false
	}
	s.ID = sessionID
	s.generated = false
	return true
}
