package domain

import (
	"encoding/json"
	"time"
)

// Identity is an authenticated user as seen by the realtime layer.
// Degraded is set when the directory could not be reached and only the
// subject id is known.
type Identity struct {
	UserID       string   `json:"userId"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	IsActive     bool     `json:"isActive"`
	WorkspaceIDs []string `json:"workspaceIds"`
	Degraded     bool     `json:"degraded"`
}

// DisplayName falls back to the user id when the directory gave no name.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.UserID
}

func (i Identity) HasWorkspace(workspaceID string) bool {
	for _, id := range i.WorkspaceIDs {
		if id == workspaceID {
			return true
		}
	}
	return false
}

// QueuedEvent is an event held for a user with no live connection.
type QueuedEvent struct {
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
	QueuedAt time.Time       `json:"queuedAt"`
}
