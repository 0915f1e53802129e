package models

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
	StatusAway    PresenceStatus = "away"
)

func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusAway:
		return true
	}
	return false
}

type User struct {
	ID           string         `json:"id"`
	DisplayName  string         `json:"display_name"`
	Status       PresenceStatus `json:"status"`
	LastActiveAt time.Time      `json:"last_active_at"`
}

func (u User) Identity() string {
	return u.ID
}

// PresenceUpdate is the persisted side of a presence transition. An empty
// Status only records activity and keeps the stored status.
type PresenceUpdate struct {
	UserID      string
	DisplayName string
	Status      PresenceStatus
	At          time.Time
}
