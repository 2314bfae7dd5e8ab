package contract

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"nexkey/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Ticket Ledger: Redemption and Cancellation ---

// getTicketByID fetches a ticket record from the world state.
func (s *NexkeySmartContract) getTicketByID(ctx contractapi.TransactionContextInterface, ticketID uint64) (*model.Ticket, error) {
	ticketKey, err := s.createTicketCompositeKey(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to create composite key for ticket %d: %w", ticketID, err)
	}
	ticketBytes, err := ctx.GetStub().GetState(ticketKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read ticket %d from ledger: %w", ticketID, err)
	}
	if ticketBytes == nil {
		return nil, fmt.Errorf("%w: ticket with ID %d does not exist", ErrNotFound, ticketID)
	}
	var ticket model.Ticket
	if err := json.Unmarshal(ticketBytes, &ticket); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket %d: %w", ticketID, err)
	}
	return &ticket, nil
}

func (s *NexkeySmartContract) saveTicket(ctx contractapi.TransactionContextInterface, ticket *model.Ticket) error {
	ticketKey, err := s.createTicketCompositeKey(ctx, ticket.ID)
	if err != nil {
		return fmt.Errorf("failed to create composite key for ticket %d: %w", ticket.ID, err)
	}
	ticketBytes, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket %d: %w", ticket.ID, err)
	}
	if err := ctx.GetStub().PutState(ticketKey, ticketBytes); err != nil {
		return fmt.Errorf("failed to save ticket %d to ledger: %w", ticket.ID, err)
	}
	return nil
}

// verifyTicketHash is the shared redemption predicate: the ticket must exist,
// be in the SOLD state and carry exactly the presented hash. A missing ticket
// reads as unredeemable, not as an error.
func (s *NexkeySmartContract) verifyTicketHash(ctx contractapi.TransactionContextInterface, ticketID uint64, providedHash string) (bool, *model.Ticket, error) {
	ticket, err := s.getTicketByID(ctx, ticketID)
	if err != nil {
		if isNotFound(err) {
			return false, nil, nil
		}
		return false, nil, err
	}
	if ticket.Status != model.TicketStatusSold {
		return false, ticket, nil
	}
	if subtle.ConstantTimeCompare([]byte(ticket.QRCodeHash), []byte(providedHash)) != 1 {
		return false, ticket, nil
	}
	return true, ticket, nil
}

// VerifyTicket reports whether a ticket is currently redeemable with the
// presented QR hash. It never mutates state; a false result covers missing
// tickets, hash mismatches and tickets no longer in the SOLD state alike.
func (s *NexkeySmartContract) VerifyTicket(ctx contractapi.TransactionContextInterface, ticketID uint64, providedHash string) (bool, error) {
	ok, _, err := s.verifyTicketHash(ctx, ticketID, providedHash)
	if err != nil {
		return false, fmt.Errorf("VerifyTicket: %w", err)
	}
	return ok, nil
}

// UseTicket redeems a ticket at the gate. The caller presents the QR hash; if
// it matches and the ticket is SOLD, the ticket transitions to USED. The
// transition fires at most once per ticket: a second presentation of the same
// hash fails because the ticket is no longer SOLD.
func (s *NexkeySmartContract) UseTicket(ctx contractapi.TransactionContextInterface, ticketID uint64, providedHash string) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("UseTicket: failed to get actor info: %w", err)
	}
	logger.Infof("Caller '%s' (alias: '%s') redeeming ticket %d", actor.fullID, actor.alias, ticketID)

	ok, ticket, err := s.verifyTicketHash(ctx, ticketID, providedHash)
	if err != nil {
		return fmt.Errorf("UseTicket: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: ticket %d cannot be redeemed with the presented hash", ErrInvalidOrUsedTicket, ticketID)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("UseTicket: failed to get transaction timestamp: %w", err)
	}

	ticket.Status = model.TicketStatusUsed
	ticket.UsedAt = now
	ticket.LastUpdateBy = actor.fullID
	if err := s.saveTicket(ctx, ticket); err != nil {
		return fmt.Errorf("UseTicket: %w", err)
	}

	s.emitLedgerEvent(ctx, "TicketUsed", actor, map[string]interface{}{
		"ticketId": ticketID,
		"eventId":  ticket.EventID,
		"didId":    ticket.DIDID,
		"usedAt":   now,
	})
	logger.Infof("Ticket %d (event %d) redeemed by '%s'", ticketID, ticket.EventID, actor.alias)
	return nil
}

// CancelTicket voids a SOLD ticket. Only the organizer of record for the
// ticket's event, or an admin, may cancel. Cancellation is terminal and does
// not return the seat to inventory.
func (s *NexkeySmartContract) CancelTicket(ctx contractapi.TransactionContextInterface, ticketID uint64, reason string) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("CancelTicket: failed to get actor info: %w", err)
	}
	logger.Infof("Caller '%s' (alias: '%s') cancelling ticket %d", actor.fullID, actor.alias, ticketID)

	if err := s.validateOptionalString(reason, "reason", maxStringInputLength); err != nil {
		return err
	}

	ticket, err := s.getTicketByID(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("CancelTicket: %w", err)
	}

	event, err := s.getEventByID(ctx, ticket.EventID)
	if err != nil {
		return fmt.Errorf("CancelTicket: failed to load event %d for ticket %d: %w", ticket.EventID, ticketID, err)
	}

	am := NewAccessManager(ctx)
	if event.OrganizerID != actor.fullID {
		isAdmin, errAdm := am.IsCurrentUserAdmin()
		if errAdm != nil {
			return fmt.Errorf("CancelTicket: failed to check admin status: %w", errAdm)
		}
		if !isAdmin {
			return fmt.Errorf("%w: caller '%s' is neither the organizer of event %d nor an admin", ErrUnauthorized, actor.fullID, ticket.EventID)
		}
	}

	if ticket.Status != model.TicketStatusSold {
		return fmt.Errorf("%w: ticket %d is in state '%s' and cannot be cancelled", ErrInvalidOrUsedTicket, ticketID, ticket.Status)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("CancelTicket: failed to get transaction timestamp: %w", err)
	}

	ticket.Status = model.TicketStatusCancelled
	ticket.CancelledAt = now
	ticket.CancelledBy = actor.fullID
	ticket.LastUpdateBy = actor.fullID
	if err := s.saveTicket(ctx, ticket); err != nil {
		return fmt.Errorf("CancelTicket: %w", err)
	}

	s.emitLedgerEvent(ctx, "TicketCancelled", actor, map[string]interface{}{
		"ticketId":    ticketID,
		"eventId":     ticket.EventID,
		"didId":       ticket.DIDID,
		"reason":      reason,
		"cancelledAt": now,
	})
	logger.Infof("Ticket %d (event %d) cancelled by '%s'", ticketID, ticket.EventID, actor.alias)
	return nil
}
