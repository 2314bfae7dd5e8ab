// File: model/participants.go
package model

import "time"

// ParticipantInfo stores information about registered participants in the system.
type ParticipantInfo struct {
	ObjectType      string    `json:"objectType"`      // Set to the composite key object type (ParticipantInfo)
	FullID          string    `json:"fullId"`          // Full X.509 identity string
	ShortName       string    `json:"shortName"`       // Alias/short name for this participant
	EnrollmentID    string    `json:"enrollmentId"`    // EnrollmentID from certificate or registration
	OrganizationMSP string    `json:"organizationMsp"` // MSP ID of the organization
	Roles           []string  `json:"roles"`           // List of roles assigned to this participant
	IsAdmin         bool      `json:"isAdmin"`         // Whether this participant has admin privileges
	RegisteredBy    string    `json:"registeredBy"`    // Full ID of participant that registered this one
	RegisteredAt    time.Time `json:"registeredAt"`    // Timestamp when participant was registered
	LastUpdatedAt   time.Time `json:"lastUpdatedAt"`   // Timestamp of last update to this record
}
