package contract

import (
	"encoding/json"
	"fmt"
	"nexkey/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Ticket Ledger: Purchase Operation ---

// PurchaseTicket mints a ticket for an event, gated by the DID registry.
// Preconditions are checked in a fixed order and the first failure wins:
//
//  1. event exists and is active
//  2. inventory remains (soldTickets < totalCapacity)
//  3. the DID is ACTIVE and owned by the transaction's caller
//  4. payment covers the ticket price
//
// The ownership check binds to the authenticated client identity, never to a
// caller-supplied owner field. On success the sold counter, the ticket record
// and its three indexes are written in the same transaction; Fabric discards
// all writes if the function returns an error, so the operation is
// all-or-nothing. Overpayment is accepted and recorded verbatim as pricePaid.
func (s *NexkeySmartContract) PurchaseTicket(ctx contractapi.TransactionContextInterface,
	eventID uint64, didID uint64, seatLabel string, payment float64) (*model.PurchaseReceipt, error) {

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("PurchaseTicket: failed to get actor info: %w", err)
	}

	logger.Infof("Caller '%s' (alias: '%s') purchasing ticket for event %d with DID %d, seat '%s'", actor.fullID, actor.alias, eventID, didID, seatLabel)

	if err := s.validateRequiredString(seatLabel, "seatLabel", maxSeatLabelLength); err != nil {
		return nil, err
	}
	if payment < 0 {
		return nil, fmt.Errorf("payment cannot be negative")
	}

	// 1. Event exists and is active.
	event, err := s.getEventByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("PurchaseTicket: %w", err)
	}
	if !event.Active {
		return nil, fmt.Errorf("%w: event %d is not open for sale", ErrEventInactive, eventID)
	}

	// 2. Inventory remains.
	if event.SoldTickets >= event.TotalCapacity {
		return nil, fmt.Errorf("%w: event %d has sold all %d tickets", ErrSoldOut, eventID, event.TotalCapacity)
	}

	// 3. DID is active and owned by the caller.
	ownsDID, err := s.isActiveAndOwnedByFullID(ctx, didID, actor.fullID)
	if err != nil {
		return nil, fmt.Errorf("PurchaseTicket: failed to check DID %d ownership: %w", didID, err)
	}
	if !ownsDID {
		return nil, fmt.Errorf("%w: DID %d is not valid, not active, or not owned by the transaction's caller", ErrUnauthorized, didID)
	}

	// 4. Payment covers the price.
	if payment < event.TicketPrice {
		return nil, fmt.Errorf("%w: payment %.4f is below ticket price %.4f", ErrInsufficientPayment, payment, event.TicketPrice)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("PurchaseTicket: failed to get transaction timestamp: %w", err)
	}

	ticketID, err := s.nextSequence(ctx, ticketSequenceName)
	if err != nil {
		return nil, fmt.Errorf("PurchaseTicket: %w", err)
	}

	qrHash := deriveQRCodeHash(ticketID, didID, ctx.GetStub().GetTxID(), now)

	ticket := model.Ticket{
		ObjectType:  ticketObjectType,
		ID:          ticketID,
		EventID:     eventID,
		DIDID:       didID,
		OwnerID:     actor.fullID,
		OwnerAlias:  actor.alias,
		SeatLabel:   seatLabel,
		PricePaid:   payment,
		Status:      model.TicketStatusSold,
		QRCodeHash:  qrHash,
		PurchasedAt: now,
	}

	event.SoldTickets++
	event.LastUpdatedAt = now

	eventKey, err := s.createEventCompositeKey(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("PurchaseTicket: failed to create composite key for event %d: %w", eventID, err)
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("PurchaseTicket: failed to marshal event %d: %w", eventID, err)
	}
	if err := ctx.GetStub().PutState(eventKey, eventBytes); err != nil {
		return nil, fmt.Errorf("PurchaseTicket: failed to update event %d on ledger: %w", eventID, err)
	}

	ticketKey, err := s.createTicketCompositeKey(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("PurchaseTicket: failed to create composite key for ticket %d: %w", ticketID, err)
	}
	ticketBytes, err := json.Marshal(ticket)
	if err != nil {
		return nil, fmt.Errorf("PurchaseTicket: failed to marshal ticket %d: %w", ticketID, err)
	}
	if err := ctx.GetStub().PutState(ticketKey, ticketBytes); err != nil {
		return nil, fmt.Errorf("PurchaseTicket: failed to save ticket %d to ledger: %w", ticketID, err)
	}

	if err := s.writeTicketIndexes(ctx, &ticket); err != nil {
		return nil, fmt.Errorf("PurchaseTicket: %w", err)
	}

	s.emitLedgerEvent(ctx, "TicketPurchased", actor, map[string]interface{}{
		"ticketId":    ticketID,
		"eventId":     eventID,
		"didId":       didID,
		"seatLabel":   seatLabel,
		"pricePaid":   payment,
		"soldTickets": event.SoldTickets,
		"purchasedAt": now,
	})
	logger.Infof("Ticket %d (event %d, seat '%s') sold to '%s'; %d/%d tickets sold", ticketID, eventID, seatLabel, actor.alias, event.SoldTickets, event.TotalCapacity)

	// The receipt carries the QR hash so the buyer holds the redemption
	// secret without a follow-up query.
	return &model.PurchaseReceipt{
		TicketID:   ticketID,
		EventID:    eventID,
		DIDID:      didID,
		SeatLabel:  seatLabel,
		PricePaid:  payment,
		QRCodeHash: qrHash,
	}, nil
}

// writeTicketIndexes records the owner, DID and event lookup entries for a
// freshly minted ticket.
func (s *NexkeySmartContract) writeTicketIndexes(ctx contractapi.TransactionContextInterface, ticket *model.Ticket) error {
	ticketIDAttr := formatID(ticket.ID)

	ownerKey, err := ctx.GetStub().CreateCompositeKey(ticketOwnerIndexType, []string{ticket.OwnerID, ticketIDAttr})
	if err != nil {
		return fmt.Errorf("failed to create owner index key for ticket %d: %w", ticket.ID, err)
	}
	if err := ctx.GetStub().PutState(ownerKey, []byte(ticketIDAttr)); err != nil {
		return fmt.Errorf("failed to save owner index for ticket %d: %w", ticket.ID, err)
	}

	didKey, err := ctx.GetStub().CreateCompositeKey(ticketDIDIndexType, []string{formatID(ticket.DIDID), ticketIDAttr})
	if err != nil {
		return fmt.Errorf("failed to create DID index key for ticket %d: %w", ticket.ID, err)
	}
	if err := ctx.GetStub().PutState(didKey, []byte(ticketIDAttr)); err != nil {
		return fmt.Errorf("failed to save DID index for ticket %d: %w", ticket.ID, err)
	}

	eventKey, err := ctx.GetStub().CreateCompositeKey(ticketEventIndexType, []string{formatID(ticket.EventID), ticketIDAttr})
	if err != nil {
		return fmt.Errorf("failed to create event index key for ticket %d: %w", ticket.ID, err)
	}
	if err := ctx.GetStub().PutState(eventKey, []byte(ticketIDAttr)); err != nil {
		return fmt.Errorf("failed to save event index for ticket %d: %w", ticket.ID, err)
	}
	return nil
}
