package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"nexkey/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Ticket Ledger: Event Inventory Operations ---

// CreateEvent registers a new admission event with a fixed ticket inventory.
// Caller must hold the 'organizer' role (or be admin) and is recorded as the
// event's organizer. Returns the new sequential event ID.
func (s *NexkeySmartContract) CreateEvent(ctx contractapi.TransactionContextInterface,
	name, venue, scheduledTimeStr string, totalCapacity uint64, price float64) (uint64, error) {

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("CreateEvent: failed to get actor info: %w", err)
	}
	am := NewAccessManager(ctx)
	if err := am.RequireRole("organizer"); err != nil {
		return 0, err
	}

	logger.Infof("Organizer '%s' (alias: '%s') creating event '%s' at '%s'", actor.fullID, actor.alias, name, venue)

	if err := s.validateRequiredString(name, "name", maxStringInputLength); err != nil {
		return 0, err
	}
	if err := s.validateRequiredString(venue, "venue", maxStringInputLength); err != nil {
		return 0, err
	}
	scheduledTime, err := parseDateString(scheduledTimeStr, "scheduledTime", true)
	if err != nil {
		return 0, err
	}
	if totalCapacity == 0 {
		return 0, errors.New("totalCapacity must be positive")
	}
	if price < 0 {
		return 0, errors.New("price cannot be negative")
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return 0, fmt.Errorf("CreateEvent: failed to get transaction timestamp: %w", err)
	}

	eventID, err := s.nextSequence(ctx, eventSequenceName)
	if err != nil {
		return 0, fmt.Errorf("CreateEvent: %w", err)
	}

	event := model.TicketEvent{
		ObjectType:     eventObjectType,
		ID:             eventID,
		Name:           name,
		Venue:          venue,
		ScheduledTime:  scheduledTime,
		TicketPrice:    price,
		TotalCapacity:  totalCapacity,
		SoldTickets:    0,
		Active:         true,
		OrganizerID:    actor.fullID,
		OrganizerAlias: actor.alias,
		CreatedAt:      now,
		LastUpdatedAt:  now,
	}

	eventKey, err := s.createEventCompositeKey(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("CreateEvent: failed to create composite key for event %d: %w", eventID, err)
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("CreateEvent: failed to marshal event %d: %w", eventID, err)
	}
	if err := ctx.GetStub().PutState(eventKey, eventBytes); err != nil {
		return 0, fmt.Errorf("CreateEvent: failed to save event %d to ledger: %w", eventID, err)
	}

	s.emitLedgerEvent(ctx, "EventCreated", actor, map[string]interface{}{
		"eventId":       eventID,
		"name":          name,
		"venue":         venue,
		"scheduledTime": scheduledTime,
		"totalCapacity": totalCapacity,
		"ticketPrice":   price,
	})
	logger.Infof("Event %d ('%s') created by organizer '%s'", eventID, name, actor.alias)
	return eventID, nil
}

// getEventByID is an internal helper to retrieve and unmarshal an event.
func (s *NexkeySmartContract) getEventByID(ctx contractapi.TransactionContextInterface, eventID uint64) (*model.TicketEvent, error) {
	eventKey, err := s.createEventCompositeKey(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("getEventByID: failed to create key for event %d: %w", eventID, err)
	}
	eventBytes, err := ctx.GetStub().GetState(eventKey)
	if err != nil {
		return nil, fmt.Errorf("getEventByID: failed to read event %d from ledger: %w", eventID, err)
	}
	if eventBytes == nil {
		return nil, fmt.Errorf("%w: event %d does not exist", ErrNotFound, eventID)
	}
	var event model.TicketEvent
	if err = json.Unmarshal(eventBytes, &event); err != nil {
		return nil, fmt.Errorf("getEventByID: failed to unmarshal event %d data: %w", eventID, err)
	}
	return &event, nil
}

// GetEvent returns the event record for the given ID.
func (s *NexkeySmartContract) GetEvent(ctx contractapi.TransactionContextInterface, eventID uint64) (*model.TicketEvent, error) {
	logger.Debugf("GetEvent: Querying event %d", eventID)
	return s.getEventByID(ctx, eventID)
}

// DeactivateEvent stops further ticket sales for an event. Only the event's
// organizer of record or an admin may deactivate it. Already-sold tickets are
// unaffected.
func (s *NexkeySmartContract) DeactivateEvent(ctx contractapi.TransactionContextInterface, eventID uint64) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("DeactivateEvent: failed to get actor info: %w", err)
	}
	am := NewAccessManager(ctx)

	event, err := s.getEventByID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("DeactivateEvent: %w", err)
	}

	isCallerAdmin, _ := am.IsCurrentUserAdmin()
	if !isCallerAdmin && event.OrganizerID != actor.fullID {
		return fmt.Errorf("%w: only admin or the event's organizer ('%s') can deactivate event %d", ErrUnauthorized, event.OrganizerAlias, eventID)
	}

	if !event.Active {
		logger.Infof("Event %d is already inactive. No action needed.", eventID)
		return nil
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("DeactivateEvent: failed to get transaction timestamp: %w", err)
	}
	event.Active = false
	event.LastUpdatedAt = now

	eventKey, _ := s.createEventCompositeKey(ctx, eventID)
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("DeactivateEvent: failed to marshal event %d: %w", eventID, err)
	}
	if err := ctx.GetStub().PutState(eventKey, eventBytes); err != nil {
		return fmt.Errorf("DeactivateEvent: failed to update event %d on ledger: %w", eventID, err)
	}

	s.emitLedgerEvent(ctx, "EventDeactivated", actor, map[string]interface{}{"eventId": eventID})
	logger.Infof("Event %d deactivated by '%s'", eventID, actor.alias)
	return nil
}

// GetTotalEvents returns the number of events ever created.
func (s *NexkeySmartContract) GetTotalEvents(ctx contractapi.TransactionContextInterface) (uint64, error) {
	return s.readSequence(ctx, eventSequenceName)
}
