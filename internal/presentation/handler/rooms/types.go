package rooms

import "time"

// roomResponse represents a chat room
type roomResponse struct {
	ID          string    `json:"id" example:"lobby"`                           // Room identifier
	Name        string    `json:"name" example:"Lobby"`                         // Display name
	Description string    `json:"description" example:"General chat"`           // Room description
	CreatedAt   time.Time `json:"createdAt" example:"2024-01-01T12:00:00Z"`     // Room creation timestamp
	Online      []string  `json:"online,omitempty" example:"john_doe,jane_doe"` // Users connected right now
}
