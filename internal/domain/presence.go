package domain

import (
	"errors"
	"strings"
	"time"
)

type PresenceStatus string

const (
	PresenceStatusOnline  PresenceStatus = "online"
	PresenceStatusAway    PresenceStatus = "away"
	PresenceStatusBusy    PresenceStatus = "busy"
	PresenceStatusOffline PresenceStatus = "offline"
)

var ErrInvalidStatus = errors.New("invalid presence status")

// ParsePresenceStatus accepts the four defined statuses, case-insensitively.
func ParsePresenceStatus(s string) (PresenceStatus, error) {
	switch status := PresenceStatus(strings.ToLower(strings.TrimSpace(s))); status {
	case PresenceStatusOnline, PresenceStatusAway, PresenceStatusBusy, PresenceStatusOffline:
		return status, nil
	default:
		return "", ErrInvalidStatus
	}
}

// PresenceRecord is the shared, self-expiring record kept per user.
type PresenceRecord struct {
	Status      PresenceStatus `json:"status"`
	LastSeen    time.Time      `json:"lastSeen"`
	Name        string         `json:"name"`
	Email       string         `json:"email"`
	Connections int            `json:"connections"`
}

// WorkspaceMember is one entry of a workspace's member-presence map.
type WorkspaceMember struct {
	UserID   string         `json:"userId"`
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Status   PresenceStatus `json:"status"`
	JoinedAt time.Time      `json:"joinedAt"`
}

// TypingEntry marks a user typing in a workspace conversation.
type TypingEntry struct {
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"startedAt"`
}

// DisconnectResult is returned by the disconnect transition.
type DisconnectResult struct {
	IsLastConnection   bool
	PresenceWorkspaces []string
}
