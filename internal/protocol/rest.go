package protocol

import "fmt"

// REST paths served by the backend
const (
	PathTools      = "/api/tools"
	PathCategories = "/api/categories"
	PathSessions   = "/api/sessions"
	PathTool       = "/api/tool/{name}"
)

// Action is a package management action on a tool
type Action string

const (
	ActionInstall Action = "install"
	ActionRemove  Action = "remove"
	ActionUpdate  Action = "update"
)

// ParseAction validates an action name
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionInstall, ActionRemove, ActionUpdate:
		return a, nil
	}
	return "", fmt.Errorf("invalid action %q", s)
}

// ToolActionRequest is the body of POST /api/tool/{name}. SessionID names
// the terminal the backend should run the action in.
type ToolActionRequest struct {
	Action    Action `json:"action"`
	SessionID string `json:"session_id,omitempty"`
}

// ToolActionResponse is returned by POST /api/tool/{name}
type ToolActionResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}
