package models

// Role represents a caller's role in the service.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleParticipant Role = "participant"
)
