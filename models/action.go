package models

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// ActionResult is returned by the kill endpoint. Error is 0 on success.
type ActionResult struct {
	Status  string `json:"status"`
	Error   uint64 `json:"error"`
	Message string `json:"message,omitempty"`
	PID     int32  `json:"pid,omitempty"`
}

type StartRequest struct {
	Command     string            `json:"command"`
	Arguments   []string          `json:"arguments"`
	Environment map[string]string `json:"environment"`
}

// StartResult is returned by the start endpoint. Stdout and Stderr stay empty
// unless output capture is enabled.
type StartResult struct {
	Status    string `json:"status"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Error     uint64 `json:"error"`
	Message   string `json:"message,omitempty"`
	PID       int32  `json:"pid,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Exited    bool   `json:"exited,omitempty"`
	ExitCode  *int   `json:"exitCode,omitempty"`
}
