package model

import "time"

// DIDStatus defines the possible states of a DID document.
type DIDStatus string

const (
	DIDStatusActive    DIDStatus = "ACTIVE"    // DID usable for ticket issuance
	DIDStatusSuspended DIDStatus = "SUSPENDED" // Temporarily unusable, may be reactivated
	DIDStatusRevoked   DIDStatus = "REVOKED"   // Permanently retired, terminal
)

// ValidDIDStatuses is the set of statuses accepted by UpdateDIDStatus.
var ValidDIDStatuses = map[DIDStatus]bool{
	DIDStatusActive:    true,
	DIDStatusSuspended: true,
	DIDStatusRevoked:   true,
}

// DIDDocument is a registered identity record. Documents are append-only:
// once created they are never deleted, only status-transitioned.
type DIDDocument struct {
	ObjectType    string    `json:"objectType"` // "DIDDocument"
	ID            uint64    `json:"id"`         // Sequential handle, never reused
	OwnerID       string    `json:"ownerId"`    // Full X.509 identity of the holder
	OwnerAlias    string    `json:"ownerAlias"`
	Name          string    `json:"name"`
	BirthDate     string    `json:"birthDate"`
	Nationality   string    `json:"nationality"`
	ExternalID    string    `json:"externalId"` // e.g. national ID card number, opaque to the registry
	Status        DIDStatus `json:"status"`
	IssuedBy      string    `json:"issuedBy"` // Full ID of the issuing participant
	IssuedByAlias string    `json:"issuedByAlias"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// PaginatedDIDResponse is the structure returned by paginated DID queries.
type PaginatedDIDResponse struct {
	DIDs         []*DIDDocument `json:"dids"`
	NextBookmark string         `json:"nextBookmark"`
	FetchedCount int32          `json:"fetchedCount"`
}
