package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"nexkey/model"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("nexkey.ticketcontract")

// Object types for composite keys, also used as 'docType' for CouchDB queries.
const (
	didObjectType    = "DIDDocument"
	eventObjectType  = "TicketEvent"
	ticketObjectType = "Ticket"

	// Index object types. Values are the indexed record's ID in decimal ASCII.
	didOwnerIndexType    = "DIDOwner"    // attributes: [ownerFullID, didID]
	ticketOwnerIndexType = "TicketOwner" // attributes: [ownerFullID, ticketID]
	ticketDIDIndexType   = "TicketDID"   // attributes: [didID, ticketID]
	ticketEventIndexType = "TicketEvent~Ticket"

	// Sequence counter names.
	didSequenceName    = "did"
	eventSequenceName  = "event"
	ticketSequenceName = "ticket"
)

// Constants for input validation and limits
const (
	maxStringInputLength = 256
	maxSeatLabelLength   = 32
	defaultPageSize      = 10
	maxPageSize          = 100
)

// NexkeySmartContract provides functions for DID registration and DID-gated
// ticket issuance and redemption.
// @contract:NexkeySmartContract
type NexkeySmartContract struct {
	contractapi.Contract
}

// actorInfo holds commonly needed details about the transaction invoker.
type actorInfo struct {
	fullID string
	alias  string
	mspID  string
}

// Instantiate is called during chaincode instantiation.
func (s *NexkeySmartContract) Instantiate(ctx contractapi.TransactionContextInterface) {
	logger.Info("NexkeySmartContract Instantiated/Upgraded")
}

// --- Participant & Role Management Wrappers (Delegating to AccessManager) ---
// Direct pass-throughs keeping the contract API surface clean.

func (s *NexkeySmartContract) RegisterParticipant(ctx contractapi.TransactionContextInterface, targetFullID, shortName, enrollmentID string) error {
	logger.Infof("Chaincode Call: RegisterParticipant for '%s' with alias '%s'", targetFullID, shortName)
	return NewAccessManager(ctx).RegisterParticipant(targetFullID, shortName, enrollmentID)
}

func (s *NexkeySmartContract) AssignRoleToParticipant(ctx contractapi.TransactionContextInterface, idOrAlias, role string) error {
	logger.Infof("Chaincode Call: AssignRole '%s' to '%s'", role, idOrAlias)
	return NewAccessManager(ctx).AssignRole(idOrAlias, role)
}

func (s *NexkeySmartContract) RemoveRoleFromParticipant(ctx contractapi.TransactionContextInterface, idOrAlias, role string) error {
	logger.Infof("Chaincode Call: RemoveRole '%s' from '%s'", role, idOrAlias)
	return NewAccessManager(ctx).RemoveRole(idOrAlias, role)
}

func (s *NexkeySmartContract) MakeParticipantAdmin(ctx contractapi.TransactionContextInterface, idOrAlias string) error {
	logger.Infof("Chaincode Call: MakeAdmin for '%s'", idOrAlias)
	return NewAccessManager(ctx).MakeAdmin(idOrAlias)
}

func (s *NexkeySmartContract) RemoveParticipantAdmin(ctx contractapi.TransactionContextInterface, idOrAlias string) error {
	logger.Infof("Chaincode Call: RemoveAdmin for '%s'", idOrAlias)
	return NewAccessManager(ctx).RemoveAdmin(idOrAlias)
}

// GetParticipantDetails returns a participant record. Admins may query anyone;
// everyone else may only query themselves.
func (s *NexkeySmartContract) GetParticipantDetails(ctx contractapi.TransactionContextInterface, idOrAlias string) (*model.ParticipantInfo, error) {
	logger.Debugf("Chaincode Call: GetParticipantDetails for '%s'", idOrAlias)
	am := NewAccessManager(ctx)
	isCallerAdmin, err := am.IsCurrentUserAdmin()
	if err != nil {
		return nil, fmt.Errorf("GetParticipantDetails: failed to check admin status: %w", err)
	}

	if !isCallerAdmin {
		callerFullID, err := am.GetCurrentIdentityFullID()
		if err != nil {
			return nil, fmt.Errorf("GetParticipantDetails: failed to get caller's FullID: %w", err)
		}
		targetFullID, err := am.ResolveParticipant(idOrAlias)
		if err != nil {
			return nil, fmt.Errorf("GetParticipantDetails: failed to resolve target participant '%s': %w", idOrAlias, err)
		}
		if callerFullID != targetFullID {
			return nil, fmt.Errorf("%w: only admins or the participant itself can get these details", ErrUnauthorized)
		}
	}
	return am.GetParticipantInfo(idOrAlias)
}

func (s *NexkeySmartContract) GetAllParticipants(ctx contractapi.TransactionContextInterface) ([]model.ParticipantInfo, error) {
	logger.Debug("Chaincode Call: GetAllParticipants")
	return NewAccessManager(ctx).GetAllRegisteredParticipants()
}

// GetAllAliases returns a list of all registered aliases (shortNames) in the
// system. Public access, no admin privileges required.
func (s *NexkeySmartContract) GetAllAliases(ctx contractapi.TransactionContextInterface) ([]string, error) {
	logger.Debug("Chaincode Call: GetAllAliases (public access)")

	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(participantObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("GetAllAliases: failed to get participants iterator: %w", err)
	}
	defer resultsIterator.Close()

	aliases := []string{}
	aliasSet := make(map[string]bool)

	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			logger.Warningf("GetAllAliases: Failed to get next participant from iterator: %v. Skipping.", iterErr)
			continue
		}

		var pInfo model.ParticipantInfo
		if err := json.Unmarshal(queryResponse.Value, &pInfo); err != nil {
			logger.Warningf("GetAllAliases: Failed to unmarshal participant data for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}

		if pInfo.ShortName != "" && !aliasSet[pInfo.ShortName] {
			aliases = append(aliases, pInfo.ShortName)
			aliasSet[pInfo.ShortName] = true
		}
	}

	logger.Infof("GetAllAliases: Returning %d unique aliases", len(aliases))
	return aliases, nil
}

// GetAliasesByRole returns aliases filtered by a specific role. Public access.
func (s *NexkeySmartContract) GetAliasesByRole(ctx contractapi.TransactionContextInterface, roleFilter string) ([]string, error) {
	logger.Debugf("Chaincode Call: GetAliasesByRole for role '%s' (public access)", roleFilter)

	roleFilterLower := strings.ToLower(strings.TrimSpace(roleFilter))
	if roleFilterLower == "" {
		return nil, errors.New("roleFilter cannot be empty")
	}
	if roleFilterLower != "admin" && !ValidRoles[roleFilterLower] {
		return nil, fmt.Errorf("invalid role filter '%s'. Valid roles: issuer, organizer, inspector, admin", roleFilter)
	}

	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(participantObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("GetAliasesByRole: failed to get participants iterator: %w", err)
	}
	defer resultsIterator.Close()

	aliases := []string{}
	aliasSet := make(map[string]bool)

	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			logger.Warningf("GetAliasesByRole: Failed to get next participant from iterator: %v. Skipping.", iterErr)
			continue
		}

		var pInfo model.ParticipantInfo
		if err := json.Unmarshal(queryResponse.Value, &pInfo); err != nil {
			logger.Warningf("GetAliasesByRole: Failed to unmarshal participant data for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}

		hasRequestedRole := false
		if roleFilterLower == "admin" {
			hasRequestedRole = pInfo.IsAdmin
		} else {
			for _, role := range pInfo.Roles {
				if strings.ToLower(role) == roleFilterLower {
					hasRequestedRole = true
					break
				}
			}
		}

		if hasRequestedRole && pInfo.ShortName != "" && !aliasSet[pInfo.ShortName] {
			aliases = append(aliases, pInfo.ShortName)
			aliasSet[pInfo.ShortName] = true
		}
	}

	logger.Infof("GetAliasesByRole: Returning %d unique aliases for role '%s'", len(aliases), roleFilter)
	return aliases, nil
}

// GetFullIDForAlias resolves an alias to its full X.509 ID. Public access.
func (s *NexkeySmartContract) GetFullIDForAlias(ctx contractapi.TransactionContextInterface, alias string) (string, error) {
	logger.Debugf("Chaincode Call: GetFullIDForAlias for '%s'", alias)
	return NewAccessManager(ctx).ResolveParticipant(alias)
}
