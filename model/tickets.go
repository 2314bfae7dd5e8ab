package model

import "time"

// TicketStatus defines the possible states of a ticket.
type TicketStatus string

const (
	// TicketStatusAvailable exists for wire compatibility with older clients;
	// issuance mints tickets directly as SOLD and no code path produces it.
	TicketStatusAvailable TicketStatus = "AVAILABLE"
	TicketStatusSold      TicketStatus = "SOLD"      // Minted on purchase
	TicketStatusUsed      TicketStatus = "USED"      // Redeemed, terminal
	TicketStatusCancelled TicketStatus = "CANCELLED" // Administratively voided, terminal
)

// TicketEvent is an admission event with a fixed ticket inventory.
type TicketEvent struct {
	ObjectType     string    `json:"objectType"` // "TicketEvent"
	ID             uint64    `json:"id"`         // Sequential handle
	Name           string    `json:"name"`
	Venue          string    `json:"venue"`
	ScheduledTime  time.Time `json:"scheduledTime"`
	TicketPrice    float64   `json:"ticketPrice"`
	TotalCapacity  uint64    `json:"totalCapacity"`
	SoldTickets    uint64    `json:"soldTickets"` // Invariant: SoldTickets <= TotalCapacity
	Active         bool      `json:"active"`
	OrganizerID    string    `json:"organizerId"` // Full X.509 identity of the organizer
	OrganizerAlias string    `json:"organizerAlias"`
	CreatedAt      time.Time `json:"createdAt"`
	LastUpdatedAt  time.Time `json:"lastUpdatedAt"`
}

// Ticket binds one event, one DID and one owning principal. The QRCodeHash is
// the redemption secret digest derived at mint time; redemption presents it
// back and fires the single SOLD -> USED transition.
type Ticket struct {
	ObjectType   string       `json:"objectType"` // "Ticket"
	ID           uint64       `json:"id"`         // Sequential handle
	EventID      uint64       `json:"eventId"`
	DIDID        uint64       `json:"didId"`
	OwnerID      string       `json:"ownerId"` // DID owner at mint time
	OwnerAlias   string       `json:"ownerAlias"`
	SeatLabel    string       `json:"seatLabel"`
	PricePaid    float64      `json:"pricePaid"`
	Status       TicketStatus `json:"status"`
	QRCodeHash   string       `json:"qrCodeHash"`
	PurchasedAt  time.Time    `json:"purchasedAt"`
	UsedAt       time.Time    `json:"usedAt"`      // Zero until redeemed
	CancelledAt  time.Time    `json:"cancelledAt"` // Zero unless cancelled
	CancelledBy  string       `json:"cancelledBy"`
	LastUpdateBy string       `json:"lastUpdateBy"`
}

// PurchaseReceipt is returned by PurchaseTicket so the buyer holds the
// redemption secret without a follow-up query.
type PurchaseReceipt struct {
	TicketID   uint64  `json:"ticketId"`
	EventID    uint64  `json:"eventId"`
	DIDID      uint64  `json:"didId"`
	SeatLabel  string  `json:"seatLabel"`
	PricePaid  float64 `json:"pricePaid"`
	QRCodeHash string  `json:"qrCodeHash"`
}

// TicketHistoryEntry represents one historical state of a ticket.
type TicketHistoryEntry struct {
	TxID      string       `json:"txId"`
	Timestamp time.Time    `json:"timestamp"`
	IsDelete  bool         `json:"isDelete"`
	Status    TicketStatus `json:"status"`
	Value     string       `json:"value"` // Raw JSON value of the ticket at that time
}

// PaginatedTicketResponse is the structure returned by paginated ticket queries.
type PaginatedTicketResponse struct {
	Tickets      []*Ticket `json:"tickets"`
	NextBookmark string    `json:"nextBookmark"`
	FetchedCount int32     `json:"fetchedCount"`
}

// PaginatedEventResponse is the structure returned by paginated event queries.
type PaginatedEventResponse struct {
	Events       []*TicketEvent `json:"events"`
	NextBookmark string         `json:"nextBookmark"`
	FetchedCount int32          `json:"fetchedCount"`
}
