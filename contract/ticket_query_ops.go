package contract

import (
	"encoding/json"
	"fmt"
	"nexkey/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Ticket Ledger: Query Functions ---

// GetTicket retrieves a ticket by its sequential ID.
func (s *NexkeySmartContract) GetTicket(ctx contractapi.TransactionContextInterface, ticketID uint64) (*model.Ticket, error) {
	logger.Debugf("GetTicket: Querying ticket %d", ticketID)
	ticket, err := s.getTicketByID(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("GetTicket: %w", err)
	}
	return ticket, nil
}

// GetUserTickets returns the IDs of all tickets owned by the given principal.
// The principal may be passed as an alias or a full X.509 identity string.
// Order of the returned IDs is not significant.
func (s *NexkeySmartContract) GetUserTickets(ctx contractapi.TransactionContextInterface, principalRef string) ([]uint64, error) {
	if err := s.validateRequiredString(principalRef, "principalRef", maxStringInputLength); err != nil {
		return nil, err
	}
	am := NewAccessManager(ctx)
	ownerFullID, err := am.ResolveParticipant(principalRef)
	if err != nil {
		return nil, fmt.Errorf("GetUserTickets: failed to resolve principal '%s': %w", principalRef, err)
	}
	logger.Debugf("GetUserTickets: Scanning tickets owned by '%s'", ownerFullID)
	return s.collectTicketIDs(ctx, ticketOwnerIndexType, ownerFullID)
}

// GetDIDTickets returns the IDs of all tickets bound to the given DID.
func (s *NexkeySmartContract) GetDIDTickets(ctx contractapi.TransactionContextInterface, didID uint64) ([]uint64, error) {
	if _, err := s.getDIDByID(ctx, didID); err != nil {
		return nil, fmt.Errorf("GetDIDTickets: %w", err)
	}
	logger.Debugf("GetDIDTickets: Scanning tickets bound to DID %d", didID)
	return s.collectTicketIDs(ctx, ticketDIDIndexType, formatID(didID))
}

// collectTicketIDs scans a ticket index under the given leading attribute and
// parses the ticket ID from each entry's second key attribute.
func (s *NexkeySmartContract) collectTicketIDs(ctx contractapi.TransactionContextInterface, indexType, leadingAttr string) ([]uint64, error) {
	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(indexType, []string{leadingAttr})
	if err != nil {
		return nil, fmt.Errorf("failed to get '%s' index iterator: %w", indexType, err)
	}
	defer resultsIterator.Close()

	ticketIDs := []uint64{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			logger.Warningf("collectTicketIDs: Error iterating '%s' index: %v. Skipping.", indexType, iterErr)
			continue
		}
		_, attrs, errSplit := ctx.GetStub().SplitCompositeKey(queryResponse.Key)
		if errSplit != nil || len(attrs) < 2 {
			logger.Warningf("collectTicketIDs: Malformed index key '%s' (err: %v). Skipping.", queryResponse.Key, errSplit)
			continue
		}
		id, errParse := parseID(attrs[1])
		if errParse != nil {
			logger.Warningf("collectTicketIDs: Bad ticket ID attribute in key '%s': %v. Skipping.", queryResponse.Key, errParse)
			continue
		}
		ticketIDs = append(ticketIDs, id)
	}
	return ticketIDs, nil
}

// GetEventTickets returns a page of the tickets sold for an event. Restricted
// to inspectors, the event's organizer and admins.
func (s *NexkeySmartContract) GetEventTickets(ctx contractapi.TransactionContextInterface, eventID uint64, pageSizeStr string, bookmark string) (*model.PaginatedTicketResponse, error) {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetEventTickets: failed to get actor info: %w", err)
	}

	event, err := s.getEventByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("GetEventTickets: %w", err)
	}

	am := NewAccessManager(ctx)
	if event.OrganizerID != actor.fullID {
		isInspector, errRole := am.HasRole(actor.fullID, "inspector")
		if errRole != nil {
			return nil, fmt.Errorf("GetEventTickets: failed to check inspector role: %w", errRole)
		}
		if !isInspector {
			isAdmin, errAdm := am.IsCurrentUserAdmin()
			if errAdm != nil {
				return nil, fmt.Errorf("GetEventTickets: failed to check admin status: %w", errAdm)
			}
			if !isAdmin {
				return nil, fmt.Errorf("%w: caller '%s' is not an inspector, the organizer of event %d, or an admin", ErrUnauthorized, actor.fullID, eventID)
			}
		}
	}

	pageSize := parsePageSize(pageSizeStr)
	logger.Infof("GetEventTickets: Listing tickets for event %d (pageSize: %d, bookmark: '%s')", eventID, pageSize, bookmark)

	resultsIterator, metadata, err := ctx.GetStub().GetStateByPartialCompositeKeyWithPagination(ticketEventIndexType, []string{formatID(eventID)}, pageSize, bookmark)
	if err != nil {
		return nil, fmt.Errorf("GetEventTickets: failed to get event ticket index iterator: %w", err)
	}
	defer resultsIterator.Close()

	tickets := []*model.Ticket{}
	fetchedCount := int32(0)
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			logger.Warningf("GetEventTickets: Error iterating results: %v. Skipping.", iterErr)
			continue
		}
		_, attrs, errSplit := ctx.GetStub().SplitCompositeKey(queryResponse.Key)
		if errSplit != nil || len(attrs) < 2 {
			logger.Warningf("GetEventTickets: Malformed index key '%s' (err: %v). Skipping.", queryResponse.Key, errSplit)
			continue
		}
		ticketID, errParse := parseID(attrs[1])
		if errParse != nil {
			logger.Warningf("GetEventTickets: Bad ticket ID attribute in key '%s': %v. Skipping.", queryResponse.Key, errParse)
			continue
		}
		ticket, errGet := s.getTicketByID(ctx, ticketID)
		if errGet != nil {
			logger.Warningf("GetEventTickets: Index entry for ticket %d has no record: %v. Skipping.", ticketID, errGet)
			continue
		}
		tickets = append(tickets, ticket)
		fetchedCount++
	}

	logger.Infof("GetEventTickets: Retrieved %d tickets for event %d on this page.", fetchedCount, eventID)
	return &model.PaginatedTicketResponse{
		Tickets:      tickets, // Will be [] if empty, not null
		NextBookmark: metadata.GetBookmark(),
		FetchedCount: fetchedCount,
	}, nil
}

// GetTicketHistory returns every recorded state of a ticket, in the order the
// peer delivers history entries.
func (s *NexkeySmartContract) GetTicketHistory(ctx contractapi.TransactionContextInterface, ticketID uint64) ([]model.TicketHistoryEntry, error) {
	logger.Debugf("GetTicketHistory: Querying history for ticket %d", ticketID)
	if _, err := s.getTicketByID(ctx, ticketID); err != nil {
		return nil, fmt.Errorf("GetTicketHistory: %w", err)
	}

	ticketKey, err := s.createTicketCompositeKey(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("GetTicketHistory: failed to create composite key for ticket %d: %w", ticketID, err)
	}
	historyIter, err := ctx.GetStub().GetHistoryForKey(ticketKey)
	if err != nil {
		return nil, fmt.Errorf("GetTicketHistory: failed to get history for ticket %d: %w", ticketID, err)
	}
	defer historyIter.Close()

	entries := []model.TicketHistoryEntry{}
	for historyIter.HasNext() {
		historyItem, iterErr := historyIter.Next()
		if iterErr != nil {
			logger.Warningf("GetTicketHistory: Error iterating history for ticket %d: %v. Skipping entry.", ticketID, iterErr)
			continue
		}
		var pastState model.Ticket
		_ = json.Unmarshal(historyItem.Value, &pastState)

		entries = append(entries, model.TicketHistoryEntry{
			TxID:      historyItem.TxId,
			Timestamp: historyItem.Timestamp.AsTime(),
			IsDelete:  historyItem.IsDelete,
			Status:    pastState.Status,
			Value:     string(historyItem.Value),
		})
	}
	return entries, nil // Will be [] if empty, not null
}

// GetTotalTickets returns the number of tickets ever minted, including used
// and cancelled ones.
func (s *NexkeySmartContract) GetTotalTickets(ctx contractapi.TransactionContextInterface) (uint64, error) {
	return s.readSequence(ctx, ticketSequenceName)
}
