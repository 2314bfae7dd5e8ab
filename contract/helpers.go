package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// sequenceObjectType stores per-record-type counters behind sequential IDs.
const sequenceObjectType = "Sequence"

// --- Core Helper Methods (used across multiple operations) ---

// getCurrentTxTimestamp retrieves the current transaction timestamp from the stub.
func (s *NexkeySmartContract) getCurrentTxTimestamp(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

// getCurrentActorInfo resolves the transaction invoker's full ID, alias and MSP.
func (s *NexkeySmartContract) getCurrentActorInfo(ctx contractapi.TransactionContextInterface) (*actorInfo, error) {
	am := NewAccessManager(ctx)
	fullID, err := am.GetCurrentIdentityFullID()
	if err != nil {
		return nil, fmt.Errorf("failed to get current actor's FullID: %w", err)
	}

	var alias string
	pInfo, errGetInfo := am.GetParticipantInfo(fullID)
	if errGetInfo == nil && pInfo != nil {
		alias = pInfo.ShortName
	} else {
		logger.Debugf("Could not retrieve ParticipantInfo (or alias) for actor %s: %v. Attempting fallback.", fullID, errGetInfo)

		// Unregistered callers still need a usable alias for logging and event
		// payloads; fall back to the CN embedded in the X.509 full ID.
		if strings.Contains(fullID, "::CN=") {
			parts := strings.Split(fullID, "::CN=")
			if len(parts) > 1 {
				cnPart := parts[1]
				if idx := strings.Index(cnPart, "::"); idx != -1 {
					cnPart = cnPart[:idx]
				}
				alias = cnPart
			}
		}

		if alias == "" {
			enrollmentID, enrollErr := am.GetCurrentEnrollmentID()
			if enrollErr == nil && enrollmentID != "" {
				alias = enrollmentID
			} else {
				logger.Warningf("Failed to get EnrollmentID for %s (EnrollErr: %v, GetInfoErr: %v). Using placeholder alias.", fullID, enrollErr, errGetInfo)
				maxAliasLen := 16
				if len(fullID) > maxAliasLen {
					alias = "unknown_" + fullID[:maxAliasLen]
				} else {
					alias = "unknown_" + fullID
				}
			}
		}
	}

	mspID, err := ctx.GetClientIdentity().GetMSPID()
	if err != nil {
		return nil, fmt.Errorf("failed to get current actor's MSPID: %w", err)
	}
	return &actorInfo{fullID: fullID, alias: alias, mspID: mspID}, nil
}

// --- Composite Key Helpers ---

func (s *NexkeySmartContract) createDIDCompositeKey(ctx contractapi.TransactionContextInterface, didID uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(didObjectType, []string{formatID(didID)})
}

func (s *NexkeySmartContract) createEventCompositeKey(ctx contractapi.TransactionContextInterface, eventID uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(eventObjectType, []string{formatID(eventID)})
}

func (s *NexkeySmartContract) createTicketCompositeKey(ctx contractapi.TransactionContextInterface, ticketID uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(ticketObjectType, []string{formatID(ticketID)})
}

// formatID zero-pads IDs so partial-composite-key range scans return records
// in numeric order despite lexicographic key sorting.
func formatID(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

func parseID(attr string) (uint64, error) {
	id, err := strconv.ParseUint(attr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID attribute '%s': %w", attr, err)
	}
	return id, nil
}

// nextSequence increments and returns the counter for the given record type.
// Fabric's read-set validation serializes concurrent increments, so IDs are
// unique and never reused.
func (s *NexkeySmartContract) nextSequence(ctx contractapi.TransactionContextInterface, name string) (uint64, error) {
	seqKey, err := ctx.GetStub().CreateCompositeKey(sequenceObjectType, []string{name})
	if err != nil {
		return 0, fmt.Errorf("failed to create sequence key for '%s': %w", name, err)
	}
	var current uint64
	seqBytes, err := ctx.GetStub().GetState(seqKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence '%s': %w", name, err)
	}
	if seqBytes != nil {
		current, err = strconv.ParseUint(string(seqBytes), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt sequence value for '%s': %w", name, err)
		}
	}
	next := current + 1
	if err := ctx.GetStub().PutState(seqKey, []byte(strconv.FormatUint(next, 10))); err != nil {
		return 0, fmt.Errorf("failed to save sequence '%s': %w", name, err)
	}
	return next, nil
}

// readSequence returns the current counter value without incrementing it.
func (s *NexkeySmartContract) readSequence(ctx contractapi.TransactionContextInterface, name string) (uint64, error) {
	seqKey, err := ctx.GetStub().CreateCompositeKey(sequenceObjectType, []string{name})
	if err != nil {
		return 0, fmt.Errorf("failed to create sequence key for '%s': %w", name, err)
	}
	seqBytes, err := ctx.GetStub().GetState(seqKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence '%s': %w", name, err)
	}
	if seqBytes == nil {
		return 0, nil
	}
	current, err := strconv.ParseUint(string(seqBytes), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt sequence value for '%s': %w", name, err)
	}
	return current, nil
}

// --- Validation Helper Functions ---

func (s *NexkeySmartContract) validateRequiredString(input, field string, max int) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

func (s *NexkeySmartContract) validateOptionalString(input, field string, max int) error {
	if input != "" && len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

func parseDateString(str, field string, required bool) (time.Time, error) {
	sTrimmed := strings.TrimSpace(str)
	if sTrimmed == "" {
		if required {
			return time.Time{}, fmt.Errorf("%s is a required date field and cannot be empty", field)
		}
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, sTrimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid format for %s (expected RFC3339 'YYYY-MM-DDTHH:MM:SSZ'): %w", field, err)
	}
	return t, nil
}

func parsePageSize(pageSizeStr string) int32 {
	pageSize, err := strconv.ParseInt(pageSizeStr, 10, 32)
	if err != nil || pageSize <= 0 {
		return defaultPageSize
	}
	if pageSize > maxPageSize {
		return maxPageSize
	}
	return int32(pageSize)
}

// --- Redemption Secret Derivation ---

// deriveQRCodeHash computes the redemption secret digest at mint time. The tx
// ID and timestamp are unknowable before the purchase transaction executes, so
// the digest cannot be predicted without purchase-time knowledge. The stored
// value is what VerifyTicket compares against; it is never re-derived.
func deriveQRCodeHash(ticketID, didID uint64, txID string, purchasedAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatUint(ticketID, 10)))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.FormatUint(didID, 10)))
	h.Write([]byte("|"))
	h.Write([]byte(txID))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.FormatInt(purchasedAt.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// --- Event Emission ---

// emitLedgerEvent sends a chaincode event with a JSON payload.
func (s *NexkeySmartContract) emitLedgerEvent(ctx contractapi.TransactionContextInterface, eventName string, actor *actorInfo, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if actor != nil {
		payload["actorFullId"] = actor.fullID
		payload["actorAlias"] = actor.alias
	}
	for k, v := range payload {
		if t, ok := v.(time.Time); ok {
			payload[k] = t.Format(time.RFC3339)
		}
	}
	eventBytes, err := json.Marshal(payload)
	if err != nil {
		logger.Warningf("emitLedgerEvent: Failed to marshal event payload for event '%s': %v", eventName, err)
		return
	}
	if errSet := ctx.GetStub().SetEvent(eventName, eventBytes); errSet != nil {
		logger.Warningf("emitLedgerEvent: Failed to set event '%s': %v", eventName, errSet)
	}
}

// requireAdmin is a helper to check if the current caller is an admin.
func (s *NexkeySmartContract) requireAdmin(ctx contractapi.TransactionContextInterface, am *AccessManager) error {
	isCallerAdmin, err := am.IsCurrentUserAdmin()
	if err != nil {
		return fmt.Errorf("failed to check admin status: %w", err)
	}
	if !isCallerAdmin {
		callerID, _ := am.GetCurrentIdentityFullID() // Best effort to get ID for logging
		return fmt.Errorf("%w: caller '%s' is not an admin", ErrUnauthorized, callerID)
	}
	return nil
}
