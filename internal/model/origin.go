package model

import "time"

// Origin is a registered client allowed to push and pull backups.
// APIKey is generated once at registration and never changes.
type Origin struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
