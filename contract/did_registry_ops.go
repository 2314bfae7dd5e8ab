package contract

import (
	"encoding/json"
	"fmt"
	"nexkey/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var regLogger = flogging.MustGetLogger("nexkey.didregistry")

// --- Identity Registry Operations ---
//
// DID documents are the registry's append-only record set: created once by an
// issuer, status-managed afterwards, never deleted. Ownership is assigned at
// creation and there is no transfer operation.

// CreateDID registers a new identity document for a participant. Caller must
// hold the 'issuer' role (or be admin). The owner reference may be a full
// X.509 ID or a registered alias; the resolved participant becomes the sole
// owner. Returns the new sequential DID ID.
func (s *NexkeySmartContract) CreateDID(ctx contractapi.TransactionContextInterface,
	ownerRef, name, birthDate, nationality, externalID string) (uint64, error) {

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("CreateDID: failed to get actor info: %w", err)
	}
	am := NewAccessManager(ctx)
	if err := am.RequireRole("issuer"); err != nil {
		return 0, err
	}

	if err := s.validateRequiredString(ownerRef, "ownerRef", maxStringInputLength*2); err != nil {
		return 0, err
	}
	if err := s.validateRequiredString(name, "name", maxStringInputLength); err != nil {
		return 0, err
	}
	if err := s.validateRequiredString(birthDate, "birthDate", maxStringInputLength); err != nil {
		return 0, err
	}
	if err := s.validateRequiredString(nationality, "nationality", maxStringInputLength); err != nil {
		return 0, err
	}
	if err := s.validateRequiredString(externalID, "externalId", maxStringInputLength); err != nil {
		return 0, err
	}

	ownerFullID, err := am.ResolveParticipant(ownerRef)
	if err != nil {
		return 0, fmt.Errorf("CreateDID: failed to resolve owner '%s': %w", ownerRef, err)
	}
	ownerInfo, err := am.getParticipantInfoByFullID(ownerFullID)
	if err != nil {
		return 0, fmt.Errorf("CreateDID: owner '%s' (resolved to '%s') must be a registered participant: %w", ownerRef, ownerFullID, err)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return 0, fmt.Errorf("CreateDID: failed to get transaction timestamp: %w", err)
	}

	didID, err := s.nextSequence(ctx, didSequenceName)
	if err != nil {
		return 0, fmt.Errorf("CreateDID: %w", err)
	}

	// The same owner may hold multiple DIDs; no duplicate detection is done.
	doc := model.DIDDocument{
		ObjectType:    didObjectType,
		ID:            didID,
		OwnerID:       ownerFullID,
		OwnerAlias:    ownerInfo.ShortName,
		Name:          name,
		BirthDate:     birthDate,
		Nationality:   nationality,
		ExternalID:    externalID,
		Status:        model.DIDStatusActive,
		IssuedBy:      actor.fullID,
		IssuedByAlias: actor.alias,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}

	didKey, err := s.createDIDCompositeKey(ctx, didID)
	if err != nil {
		return 0, fmt.Errorf("CreateDID: failed to create composite key for DID %d: %w", didID, err)
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("CreateDID: failed to marshal DID %d: %w", didID, err)
	}
	if err := ctx.GetStub().PutState(didKey, docBytes); err != nil {
		return 0, fmt.Errorf("CreateDID: failed to save DID %d to ledger: %w", didID, err)
	}

	ownerIndexKey, err := ctx.GetStub().CreateCompositeKey(didOwnerIndexType, []string{ownerFullID, formatID(didID)})
	if err != nil {
		return 0, fmt.Errorf("CreateDID: failed to create owner index key for DID %d: %w", didID, err)
	}
	if err := ctx.GetStub().PutState(ownerIndexKey, []byte(formatID(didID))); err != nil {
		return 0, fmt.Errorf("CreateDID: failed to save owner index for DID %d: %w", didID, err)
	}

	s.emitLedgerEvent(ctx, "DIDCreated", actor, map[string]interface{}{
		"didId":      didID,
		"ownerId":    ownerFullID,
		"ownerAlias": ownerInfo.ShortName,
		"status":     doc.Status,
		"createdAt":  now,
	})
	regLogger.Infof("DID %d created for owner '%s' (alias: '%s') by issuer '%s'", didID, ownerFullID, ownerInfo.ShortName, actor.alias)
	return didID, nil
}

// getDIDByID is an internal helper to retrieve and unmarshal a DID document.
func (s *NexkeySmartContract) getDIDByID(ctx contractapi.TransactionContextInterface, didID uint64) (*model.DIDDocument, error) {
	didKey, err := s.createDIDCompositeKey(ctx, didID)
	if err != nil {
		return nil, fmt.Errorf("getDIDByID: failed to create key for DID %d: %w", didID, err)
	}
	docBytes, err := ctx.GetStub().GetState(didKey)
	if err != nil {
		return nil, fmt.Errorf("getDIDByID: failed to read DID %d from ledger: %w", didID, err)
	}
	if docBytes == nil {
		return nil, fmt.Errorf("%w: DID %d does not exist", ErrNotFound, didID)
	}
	var doc model.DIDDocument
	if err = json.Unmarshal(docBytes, &doc); err != nil {
		return nil, fmt.Errorf("getDIDByID: failed to unmarshal DID %d data: %w", didID, err)
	}
	return &doc, nil
}

// GetDID returns the identity document for the given ID.
func (s *NexkeySmartContract) GetDID(ctx contractapi.TransactionContextInterface, didID uint64) (*model.DIDDocument, error) {
	regLogger.Debugf("GetDID: Querying DID %d", didID)
	return s.getDIDByID(ctx, didID)
}

// UpdateDIDStatus transitions a DID document's status. Issuer/admin only.
// REVOKED is terminal; redundant same-status transitions succeed trivially.
func (s *NexkeySmartContract) UpdateDIDStatus(ctx contractapi.TransactionContextInterface, didID uint64, newStatus string) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("UpdateDIDStatus: failed to get actor info: %w", err)
	}
	am := NewAccessManager(ctx)
	if err := am.RequireRole("issuer"); err != nil {
		return err
	}

	status := model.DIDStatus(newStatus)
	if !model.ValidDIDStatuses[status] {
		return fmt.Errorf("invalid DID status '%s'. Valid statuses: ACTIVE, SUSPENDED, REVOKED", newStatus)
	}

	doc, err := s.getDIDByID(ctx, didID)
	if err != nil {
		return fmt.Errorf("UpdateDIDStatus: %w", err)
	}

	if doc.Status == status {
		regLogger.Infof("DID %d already has status '%s'. No action needed.", didID, status)
		return nil
	}
	if doc.Status == model.DIDStatusRevoked {
		return fmt.Errorf("DID %d is revoked; status is terminal and cannot change", didID)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("UpdateDIDStatus: failed to get transaction timestamp: %w", err)
	}

	previous := doc.Status
	doc.Status = status
	doc.LastUpdatedAt = now

	didKey, _ := s.createDIDCompositeKey(ctx, didID)
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("UpdateDIDStatus: failed to marshal DID %d: %w", didID, err)
	}
	if err := ctx.GetStub().PutState(didKey, docBytes); err != nil {
		return fmt.Errorf("UpdateDIDStatus: failed to update DID %d on ledger: %w", didID, err)
	}

	s.emitLedgerEvent(ctx, "DIDStatusChanged", actor, map[string]interface{}{
		"didId":          didID,
		"previousStatus": previous,
		"newStatus":      status,
	})
	regLogger.Infof("DID %d status changed '%s' -> '%s' by '%s'", didID, previous, status, actor.alias)
	return nil
}

// IsActiveAndOwnedBy reports whether the DID exists, is ACTIVE and is owned by
// the given principal (full ID or alias). This is the single predicate the
// ticket ledger gates purchases on.
func (s *NexkeySmartContract) IsActiveAndOwnedBy(ctx contractapi.TransactionContextInterface, didID uint64, principalRef string) (bool, error) {
	am := NewAccessManager(ctx)
	principalFullID, err := am.ResolveParticipant(principalRef)
	if err != nil {
		return false, fmt.Errorf("IsActiveAndOwnedBy: failed to resolve principal '%s': %w", principalRef, err)
	}
	return s.isActiveAndOwnedByFullID(ctx, didID, principalFullID)
}

// isActiveAndOwnedByFullID is the resolved-principal form used internally by
// PurchaseTicket, where the principal is always the transaction's caller.
func (s *NexkeySmartContract) isActiveAndOwnedByFullID(ctx contractapi.TransactionContextInterface, didID uint64, principalFullID string) (bool, error) {
	doc, err := s.getDIDByID(ctx, didID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return doc.Status == model.DIDStatusActive && doc.OwnerID == principalFullID, nil
}

// ValidateCallerOwnsDID reports whether the transaction's authenticated caller
// owns the given DID and the DID is ACTIVE. Binds to the signer, never to a
// caller-supplied address.
func (s *NexkeySmartContract) ValidateCallerOwnsDID(ctx contractapi.TransactionContextInterface, didID uint64) (bool, error) {
	am := NewAccessManager(ctx)
	callerFullID, err := am.GetCurrentIdentityFullID()
	if err != nil {
		return false, fmt.Errorf("ValidateCallerOwnsDID: failed to get caller's FullID: %w", err)
	}
	return s.isActiveAndOwnedByFullID(ctx, didID, callerFullID)
}

// GetTotalDIDs returns the number of DID documents ever created.
func (s *NexkeySmartContract) GetTotalDIDs(ctx contractapi.TransactionContextInterface) (uint64, error) {
	return s.readSequence(ctx, didSequenceName)
}

// GetDIDsByOwner returns the IDs of every DID owned by the given principal.
// Order is not significant.
func (s *NexkeySmartContract) GetDIDsByOwner(ctx contractapi.TransactionContextInterface, principalRef string) ([]uint64, error) {
	am := NewAccessManager(ctx)
	ownerFullID, err := am.ResolveParticipant(principalRef)
	if err != nil {
		return nil, fmt.Errorf("GetDIDsByOwner: failed to resolve principal '%s': %w", principalRef, err)
	}

	iterator, err := ctx.GetStub().GetStateByPartialCompositeKey(didOwnerIndexType, []string{ownerFullID})
	if err != nil {
		return nil, fmt.Errorf("GetDIDsByOwner: failed to get owner index iterator: %w", err)
	}
	defer iterator.Close()

	didIDs := []uint64{}
	for iterator.HasNext() {
		entry, iterErr := iterator.Next()
		if iterErr != nil {
			regLogger.Warningf("GetDIDsByOwner: Error iterating owner index: %v. Skipping.", iterErr)
			continue
		}
		id, parseErr := parseID(string(entry.Value))
		if parseErr != nil {
			regLogger.Warningf("GetDIDsByOwner: Corrupt owner index entry '%s': %v. Skipping.", entry.Key, parseErr)
			continue
		}
		didIDs = append(didIDs, id)
	}
	return didIDs, nil
}

// GetAllDIDs returns a page of DID documents. Admin only.
func (s *NexkeySmartContract) GetAllDIDs(ctx contractapi.TransactionContextInterface, pageSizeStr string, bookmark string) (*model.PaginatedDIDResponse, error) {
	am := NewAccessManager(ctx)
	if err := s.requireAdmin(ctx, am); err != nil {
		return nil, fmt.Errorf("GetAllDIDs: %w", err)
	}

	pageSize := parsePageSize(pageSizeStr)
	iterator, metadata, err := ctx.GetStub().GetStateByPartialCompositeKeyWithPagination(didObjectType, []string{}, pageSize, bookmark)
	if err != nil {
		return nil, fmt.Errorf("GetAllDIDs: paginated scan failed: %w", err)
	}
	defer iterator.Close()

	dids := []*model.DIDDocument{}
	var fetchedCount int32
	for iterator.HasNext() {
		entry, iterErr := iterator.Next()
		if iterErr != nil {
			regLogger.Warningf("GetAllDIDs: Error iterating results: %v. Skipping.", iterErr)
			continue
		}
		var doc model.DIDDocument
		if err := json.Unmarshal(entry.Value, &doc); err != nil {
			regLogger.Warningf("GetAllDIDs: Error unmarshalling DID: %v. Skipping.", err)
			continue
		}
		dids = append(dids, &doc)
		fetchedCount++
	}

	return &model.PaginatedDIDResponse{
		DIDs:         dids,
		NextBookmark: metadata.GetBookmark(),
		FetchedCount: fetchedCount,
	}, nil
}
