package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"nexkey/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var amLogger = flogging.MustGetLogger("nexkey.accessmanager")

// Object types for composite keys, also usable as 'docType' or 'objectType' in CouchDB.
const (
	participantObjectType = "ParticipantInfo" // Stores ParticipantInfo objects. Attribute for composite key: FullID.
	aliasObjectType       = "Alias"           // Maps ShortName (alias) to FullID. Attribute for composite key: ShortName.
	adminFlagObjectType   = "AdminFlag"       // Stores a flag for admin status. Attribute for composite key: FullID.
)

// ValidRoles defines the set of permissible roles in the system.
var ValidRoles = map[string]bool{
	"issuer":    true, // May create DID documents and change their status
	"organizer": true, // May create events, deactivate them and cancel tickets
	"inspector": true, // May list tickets for an event at the gate
	// "admin" is a special status, managed by IsAdmin, not a role in this list.
}

// AccessManager handles participant registration, role management, and admin privileges.
type AccessManager struct {
	Ctx contractapi.TransactionContextInterface
}

// NewAccessManager creates a new instance of AccessManager.
func NewAccessManager(ctx contractapi.TransactionContextInterface) *AccessManager {
	return &AccessManager{Ctx: ctx}
}

// --- Internal Helper Functions ---

func (am *AccessManager) getCurrentTxTimestamp() (time.Time, error) {
	ts, err := am.Ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

func isValidX509ID(id string) bool {
	// Basic check, can be enhanced if specific X.509 formats are enforced.
	return strings.HasPrefix(id, "x509::") || strings.HasPrefix(id, "eDUwOTo6") // "eDUwOTo6" is "x509::" base64 encoded
}

func (am *AccessManager) getListOfValidRoles() []string {
	keys := make([]string, 0, len(ValidRoles))
	for k := range ValidRoles {
		keys = append(keys, k)
	}
	return keys
}

// --- Key Creation Helpers (using Composite Keys) ---

func (am *AccessManager) createParticipantCompositeKey(fullID string) (string, error) {
	return am.Ctx.GetStub().CreateCompositeKey(participantObjectType, []string{fullID})
}

func (am *AccessManager) createAliasCompositeKey(shortName string) (string, error) {
	return am.Ctx.GetStub().CreateCompositeKey(aliasObjectType, []string{shortName})
}

func (am *AccessManager) createAdminFlagCompositeKey(fullID string) (string, error) {
	return am.Ctx.GetStub().CreateCompositeKey(adminFlagObjectType, []string{fullID})
}

// --- Public Participant Management Functions ---

// RegisterParticipant records (or re-records) a participant and its alias.
// While no admin exists the call runs in bootstrap mode; once any admin exists
// only admins may register participants.
func (am *AccessManager) RegisterParticipant(targetFullID, shortName, enrollmentID string) error {
	anyAdminCurrentlyExists, err := am.AnyAdminExists()
	if err != nil {
		return fmt.Errorf("failed to check if any admin exists during RegisterParticipant: %w", err)
	}

	callerFullID, err := am.GetCurrentIdentityFullID()
	if err != nil {
		amLogger.Warningf("RegisterParticipant: Could not get current caller's FullID: %v", err)
		if anyAdminCurrentlyExists { // If admins exist, not knowing the caller is definitely a problem.
			return fmt.Errorf("failed to get current caller's FullID: %w", err)
		}
		callerFullID = "SYSTEM_BOOTSTRAP"
	}

	if anyAdminCurrentlyExists { // If admins DO exist, then the caller MUST be an admin
		isCallerAdmin, errAdminCheck := am.IsCurrentUserAdmin()
		if errAdminCheck != nil {
			return fmt.Errorf("failed to verify caller admin status for RegisterParticipant: %w", errAdminCheck)
		}
		if !isCallerAdmin {
			return fmt.Errorf("%w: caller '%s' may not register participants as admins already exist in the system", ErrUnauthorized, callerFullID)
		}
		amLogger.Infof("RegisterParticipant authorized: Caller '%s' is admin.", callerFullID)
	} else {
		amLogger.Infof("RegisterParticipant proceeding in bootstrap mode (no admins exist): Caller assumed '%s'.", callerFullID)
	}

	if !isValidX509ID(targetFullID) {
		return fmt.Errorf("targetFullID '%s' is not a valid X.509 ID format", targetFullID)
	}
	if strings.TrimSpace(shortName) == "" {
		return errors.New("shortName cannot be empty")
	}
	// EnrollmentID can be empty, it's optional or might be derived.

	now, err := am.getCurrentTxTimestamp()
	if err != nil {
		return err
	}

	// The MSPID is taken from the caller's context, assuming the registering
	// admin acts for an MSP it manages. Registering for a different MSP would
	// need an explicit parameter.
	targetMSPID := ""
	clientIdentity := am.Ctx.GetClientIdentity()
	if clientIdentity != nil {
		mspID, mspErr := clientIdentity.GetMSPID()
		if mspErr != nil {
			amLogger.Warningf("Could not determine MSPID for participant %s from caller's context: %v. Storing empty MSPID.", targetFullID, mspErr)
		} else {
			targetMSPID = mspID
		}
	} else {
		amLogger.Warningf("ClientIdentity not available from context for determining MSPID for %s. Storing empty MSPID.", targetFullID)
	}

	aliasKey, err := am.createAliasCompositeKey(shortName)
	if err != nil {
		return fmt.Errorf("failed to create alias composite key for '%s': %w", shortName, err)
	}
	existingFullIDForAliasBytes, err := am.Ctx.GetStub().GetState(aliasKey)
	if err != nil {
		return fmt.Errorf("failed to check alias availability for '%s': %w", shortName, err)
	}
	if existingFullIDForAliasBytes != nil && string(existingFullIDForAliasBytes) != targetFullID {
		return fmt.Errorf("shortName (alias) '%s' is already in use by participant '%s'", shortName, string(existingFullIDForAliasBytes))
	}

	participantKey, err := am.createParticipantCompositeKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create participant composite key for '%s': %w", targetFullID, err)
	}
	participantBytes, err := am.Ctx.GetStub().GetState(participantKey)
	if err != nil {
		return fmt.Errorf("failed to get participant state for '%s': %w", targetFullID, err)
	}

	var pInfo model.ParticipantInfo
	if participantBytes == nil {
		pInfo = model.ParticipantInfo{
			ObjectType:      participantObjectType,
			FullID:          targetFullID,
			ShortName:       shortName,
			EnrollmentID:    enrollmentID,
			OrganizationMSP: targetMSPID,
			Roles:           []string{},
			IsAdmin:         false,
			RegisteredBy:    callerFullID, // Could be "SYSTEM_BOOTSTRAP" if no admins yet
			RegisteredAt:    now,
			LastUpdatedAt:   now,
		}
		amLogger.Infof("Registering new participant: %s with alias %s, MSP %s, by %s", targetFullID, shortName, targetMSPID, pInfo.RegisteredBy)
	} else {
		if err := json.Unmarshal(participantBytes, &pInfo); err != nil {
			return fmt.Errorf("failed to unmarshal existing ParticipantInfo for '%s': %w", targetFullID, err)
		}
		if pInfo.ShortName != shortName && pInfo.ShortName != "" {
			oldAliasKey, keyErr := am.createAliasCompositeKey(pInfo.ShortName)
			if keyErr == nil {
				if errDel := am.Ctx.GetStub().DelState(oldAliasKey); errDel != nil {
					amLogger.Warningf("Failed to delete old alias key '%s' for participant '%s': %v", oldAliasKey, targetFullID, errDel)
				}
			} else {
				amLogger.Warningf("Failed to create key for old alias '%s' for deletion: %v", pInfo.ShortName, keyErr)
			}
		}
		pInfo.ShortName = shortName
		pInfo.EnrollmentID = enrollmentID
		pInfo.OrganizationMSP = targetMSPID
		pInfo.LastUpdatedAt = now
		// RegisteredBy and RegisteredAt remain from the original registration
		amLogger.Infof("Updating existing participant: %s with new alias %s, MSP %s. Updated by %s", targetFullID, shortName, targetMSPID, callerFullID)
	}

	updatedParticipantBytes, err := json.Marshal(pInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal ParticipantInfo for '%s': %w", targetFullID, err)
	}
	if err := am.Ctx.GetStub().PutState(participantKey, updatedParticipantBytes); err != nil {
		return fmt.Errorf("failed to save ParticipantInfo for '%s': %w", targetFullID, err)
	}

	if err := am.Ctx.GetStub().PutState(aliasKey, []byte(targetFullID)); err != nil {
		return fmt.Errorf("failed to save alias mapping for '%s' -> '%s' (ParticipantInfo saved, but alias mapping failed): %w", shortName, targetFullID, err)
	}

	return nil
}

// ResolveParticipant maps a full X.509 ID or a registered alias to a full ID.
func (am *AccessManager) ResolveParticipant(idOrAlias string) (string, error) {
	trimmedInput := strings.TrimSpace(idOrAlias)
	if trimmedInput == "" {
		return "", errors.New("idOrAlias cannot be empty")
	}

	// If it's already a full X.509 ID, return as-is
	if isValidX509ID(trimmedInput) {
		return trimmedInput, nil
	}

	aliasKey, err := am.createAliasCompositeKey(trimmedInput)
	if err != nil {
		return "", fmt.Errorf("failed to create alias composite key for resolving '%s': %w", trimmedInput, err)
	}
	fullIDBytes, err := am.Ctx.GetStub().GetState(aliasKey)
	if err != nil {
		return "", fmt.Errorf("ledger error when querying alias '%s': %w", trimmedInput, err)
	}
	if fullIDBytes != nil {
		return string(fullIDBytes), nil
	}
	return "", fmt.Errorf("alias '%s' %w", trimmedInput, ErrNotFound)
}

func (am *AccessManager) GetParticipantInfo(idOrAlias string) (*model.ParticipantInfo, error) {
	fullID, err := am.ResolveParticipant(idOrAlias)
	if err != nil {
		return nil, err
	}
	return am.getParticipantInfoByFullID(fullID)
}

func (am *AccessManager) getParticipantInfoByFullID(fullID string) (*model.ParticipantInfo, error) {
	if !isValidX509ID(fullID) { // Should already be validated if coming via ResolveParticipant
		return nil, fmt.Errorf("'%s' is not a valid X.509 ID format for getParticipantInfoByFullID", fullID)
	}
	participantKey, err := am.createParticipantCompositeKey(fullID)
	if err != nil {
		return nil, fmt.Errorf("failed to create participant composite key for '%s': %w", fullID, err)
	}
	participantBytes, err := am.Ctx.GetStub().GetState(participantKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error retrieving ParticipantInfo for FullID '%s': %w", fullID, err)
	}
	if participantBytes == nil {
		return nil, fmt.Errorf("participant record for FullID '%s' %w", fullID, ErrNotFound)
	}
	var pInfo model.ParticipantInfo
	if err := json.Unmarshal(participantBytes, &pInfo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ParticipantInfo for FullID '%s': %w", fullID, err)
	}
	return &pInfo, nil
}

// AssignRole grants one of ValidRoles to a registered participant. Admin only.
func (am *AccessManager) AssignRole(targetIDOrAlias, role string) error {
	callerFullID, err := am.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("failed to get caller's FullID for AssignRole: %w", err)
	}
	isCallerAdmin, err := am.IsAdmin(callerFullID)
	if err != nil {
		return fmt.Errorf("failed to verify caller admin status for AssignRole: %w", err)
	}
	if !isCallerAdmin {
		return fmt.Errorf("%w: caller '%s' may not assign roles", ErrUnauthorized, callerFullID)
	}

	roleLower := strings.ToLower(strings.TrimSpace(role))
	if !ValidRoles[roleLower] {
		return fmt.Errorf("invalid role: '%s'. Valid roles are: %v", role, am.getListOfValidRoles())
	}

	targetFullID, err := am.ResolveParticipant(targetIDOrAlias)
	if err != nil {
		return fmt.Errorf("failed to resolve target participant '%s' for AssignRole: %w", targetIDOrAlias, err)
	}

	pInfo, err := am.getParticipantInfoByFullID(targetFullID)
	if err != nil {
		return fmt.Errorf("cannot assign role: target participant '%s' (resolved to '%s') must be registered first: %w", targetIDOrAlias, targetFullID, err)
	}

	for _, existingRole := range pInfo.Roles {
		if existingRole == roleLower {
			amLogger.Infof("Role '%s' already assigned to participant '%s' (%s). No action needed.", roleLower, pInfo.ShortName, targetFullID)
			return nil
		}
	}

	now, err := am.getCurrentTxTimestamp()
	if err != nil {
		return err
	}
	pInfo.Roles = append(pInfo.Roles, roleLower)
	pInfo.LastUpdatedAt = now

	updatedBytes, err := json.Marshal(pInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal ParticipantInfo for role assignment: %w", err)
	}
	participantKey, err := am.createParticipantCompositeKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create participant key for role assignment: %w", err)
	}

	if err := am.Ctx.GetStub().PutState(participantKey, updatedBytes); err != nil {
		return fmt.Errorf("failed to save ParticipantInfo after role assignment for '%s': %w", targetFullID, err)
	}
	amLogger.Infof("Role '%s' successfully assigned to participant '%s' (%s) by admin '%s'.", roleLower, pInfo.ShortName, targetFullID, callerFullID)
	return nil
}

// RemoveRole revokes a role from a participant. Admin only.
func (am *AccessManager) RemoveRole(targetIDOrAlias, role string) error {
	callerFullID, err := am.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("failed to get caller's FullID for RemoveRole: %w", err)
	}
	isCallerAdmin, err := am.IsAdmin(callerFullID)
	if err != nil {
		return fmt.Errorf("failed to verify caller admin status for RemoveRole: %w", err)
	}
	if !isCallerAdmin {
		return fmt.Errorf("%w: caller '%s' may not remove roles", ErrUnauthorized, callerFullID)
	}

	roleLower := strings.ToLower(strings.TrimSpace(role))
	// No need to check roleLower against ValidRoles, as we are removing it.

	targetFullID, err := am.ResolveParticipant(targetIDOrAlias)
	if err != nil {
		return fmt.Errorf("failed to resolve target participant '%s' for RemoveRole: %w", targetIDOrAlias, err)
	}

	pInfo, err := am.getParticipantInfoByFullID(targetFullID)
	if err != nil {
		return fmt.Errorf("cannot remove role: target participant '%s' (resolved to '%s') not found: %w", targetIDOrAlias, targetFullID, err)
	}

	found := false
	newRoles := []string{}
	for _, r := range pInfo.Roles {
		if r == roleLower {
			found = true
		} else {
			newRoles = append(newRoles, r)
		}
	}

	if !found {
		amLogger.Infof("Role '%s' not found for participant '%s' (%s). No action taken for removal.", roleLower, pInfo.ShortName, targetFullID)
		return nil
	}

	now, err := am.getCurrentTxTimestamp()
	if err != nil {
		return err
	}
	pInfo.Roles = newRoles
	pInfo.LastUpdatedAt = now

	updatedBytes, err := json.Marshal(pInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal ParticipantInfo for role removal: %w", err)
	}
	participantKey, err := am.createParticipantCompositeKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create participant key for role removal: %w", err)
	}

	if err := am.Ctx.GetStub().PutState(participantKey, updatedBytes); err != nil {
		return fmt.Errorf("failed to save ParticipantInfo after role removal for '%s': %w", targetFullID, err)
	}
	amLogger.Infof("Role '%s' successfully removed from participant '%s' (%s) by admin '%s'.", roleLower, pInfo.ShortName, targetFullID, callerFullID)
	return nil
}

func (am *AccessManager) HasRole(idOrAlias, role string) (bool, error) {
	pInfo, err := am.GetParticipantInfo(idOrAlias)
	if err != nil {
		if errors.Is(err, ErrNotFound) { // If the participant itself is not found, it has no roles.
			return false, nil
		}
		return false, fmt.Errorf("error resolving participant '%s' to check role: %w", idOrAlias, err)
	}
	roleLower := strings.ToLower(strings.TrimSpace(role))
	for _, r := range pInfo.Roles {
		if r == roleLower {
			return true, nil
		}
	}
	return false, nil
}

// RequireRole rejects unless the current caller holds requiredRole or is admin.
func (am *AccessManager) RequireRole(requiredRole string) error {
	callerFullID, err := am.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("failed to get current user's FullID for RequireRole: %w", err)
	}

	isAdmin, err := am.IsAdmin(callerFullID)
	if err != nil {
		return fmt.Errorf("failed to check current user '%s' admin status for RequireRole: %w", callerFullID, err)
	}
	if isAdmin {
		amLogger.Debugf("Admin user '%s' authorized for role '%s' check (bypassed role requirement).", callerFullID, requiredRole)
		return nil
	}

	has, err := am.HasRole(callerFullID, requiredRole)
	if err != nil {
		return fmt.Errorf("error checking role '%s' for current user '%s': %w", requiredRole, callerFullID, err)
	}
	if !has {
		return fmt.Errorf("%w: participant '%s' does not have required role '%s'", ErrUnauthorized, callerFullID, requiredRole)
	}
	amLogger.Debugf("Role check passed for role '%s' for user '%s'.", requiredRole, callerFullID)
	return nil
}

// MakeAdmin grants admin status. Self-authorizing only while no admins exist.
func (am *AccessManager) MakeAdmin(targetIDOrAlias string) error {
	anyAdminExists, err := am.AnyAdminExists()
	if err != nil {
		return fmt.Errorf("failed to check if any admin exists for MakeAdmin: %w", err)
	}

	callerFullID := MustGetCallerFullID(am.Ctx)
	if anyAdminExists {
		isCallerAdmin, errAdm := am.IsAdmin(callerFullID)
		if errAdm != nil {
			return fmt.Errorf("failed to verify caller '%s' admin status for MakeAdmin: %w", callerFullID, errAdm)
		}
		if !isCallerAdmin {
			return fmt.Errorf("%w: caller '%s' may not make others admin", ErrUnauthorized, callerFullID)
		}
	} else {
		// Bootstrap scenario for making the first admin(s).
		amLogger.Infof("No admins exist. Bootstrap: Caller '%s' is making target '%s' an admin.", callerFullID, targetIDOrAlias)
	}

	targetFullID, err := am.ResolveParticipant(targetIDOrAlias)
	if err != nil {
		return fmt.Errorf("failed to resolve target participant '%s' to make admin: %w", targetIDOrAlias, err)
	}

	pInfo, err := am.getParticipantInfoByFullID(targetFullID)
	if err != nil {
		return fmt.Errorf("cannot make admin: target participant '%s' (resolved to '%s') must be registered first: %w", targetIDOrAlias, targetFullID, err)
	}

	adminFlagKey, err := am.createAdminFlagCompositeKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create admin flag key for MakeAdmin: %w", err)
	}

	if pInfo.IsAdmin { // Also check the flag to ensure consistency
		flagBytes, _ := am.Ctx.GetStub().GetState(adminFlagKey)
		if flagBytes != nil && string(flagBytes) == "true" {
			amLogger.Infof("Participant '%s' (%s) is already an admin (both in ParticipantInfo and AdminFlag). No action needed.", pInfo.ShortName, targetFullID)
			return nil
		}
		amLogger.Warningf("Participant '%s' (%s) IsAdmin flag in ParticipantInfo is true, but AdminFlag might be missing/false. Proceeding to set both.", pInfo.ShortName, targetFullID)
	}

	now, err := am.getCurrentTxTimestamp()
	if err != nil {
		return err
	}
	pInfo.IsAdmin = true
	pInfo.LastUpdatedAt = now

	updatedBytes, err := json.Marshal(pInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal ParticipantInfo for MakeAdmin: %w", err)
	}
	participantKey, err := am.createParticipantCompositeKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create participant key for MakeAdmin: %w", err)
	}

	// Update ParticipantInfo first, then AdminFlag. If AdminFlag fails, roll back ParticipantInfo.
	if err := am.Ctx.GetStub().PutState(participantKey, updatedBytes); err != nil {
		return fmt.Errorf("failed to save ParticipantInfo after setting IsAdmin for '%s': %w", targetFullID, err)
	}
	if err := am.Ctx.GetStub().PutState(adminFlagKey, []byte("true")); err != nil {
		amLogger.Errorf("CRITICAL: Failed to set admin flag for '%s' after updating ParticipantInfo. Attempting rollback of IsAdmin.", targetFullID)
		pInfo.IsAdmin = false
		pInfo.LastUpdatedAt, _ = am.getCurrentTxTimestamp()
		updatedBytesRollback, _ := json.Marshal(pInfo)
		if errRb := am.Ctx.GetStub().PutState(participantKey, updatedBytesRollback); errRb != nil {
			amLogger.Errorf("CRITICAL ROLLBACK FAILURE: Failed to set admin flag for '%s' AND FAILED TO ROLLBACK ParticipantInfo.IsAdmin. State is inconsistent. Original flag error: %v. Rollback error: %v", targetFullID, err, errRb)
		} else {
			amLogger.Infof("SUCCESSFUL ROLLBACK: Failed to set admin flag for '%s'. Rolled back IsAdmin in ParticipantInfo. Original flag error: %v", targetFullID, err)
		}
		return fmt.Errorf("failed to set admin flag for '%s' (ParticipantInfo.IsAdmin change was rolled back): %w", targetFullID, err)
	}
	amLogger.Infof("Participant '%s' (%s) has been made an admin by '%s'. Both ParticipantInfo and AdminFlag updated.", pInfo.ShortName, targetFullID, callerFullID)
	return nil
}

// RemoveAdmin revokes admin status. Admins cannot remove their own status.
func (am *AccessManager) RemoveAdmin(targetIDOrAlias string) error {
	callerFullID, err := am.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("failed to get caller's FullID for RemoveAdmin: %w", err)
	}
	isCallerAdmin, err := am.IsAdmin(callerFullID)
	if err != nil {
		return fmt.Errorf("failed to verify caller '%s' admin status for RemoveAdmin: %w", callerFullID, err)
	}
	if !isCallerAdmin {
		return fmt.Errorf("%w: caller '%s' may not remove admin privileges", ErrUnauthorized, callerFullID)
	}

	targetFullID, err := am.ResolveParticipant(targetIDOrAlias)
	if err != nil {
		return fmt.Errorf("failed to resolve target participant '%s' to remove admin: %w", targetIDOrAlias, err)
	}

	if targetFullID == callerFullID {
		return errors.New("admins cannot remove their own admin status")
	}

	adminFlagKey, err := am.createAdminFlagCompositeKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create admin flag key for RemoveAdmin: %w", err)
	}

	pInfo, err := am.getParticipantInfoByFullID(targetFullID)
	if err != nil { // ParticipantInfo record might not exist, but the flag might.
		amLogger.Warningf("ParticipantInfo record for '%s' (resolved to '%s') not found during RemoveAdmin. Checking admin flag directly.", targetIDOrAlias, targetFullID)
		flagBytes, getErr := am.Ctx.GetStub().GetState(adminFlagKey)
		if getErr != nil {
			return fmt.Errorf("error checking admin flag for '%s' (ParticipantInfo not found): %w", targetFullID, getErr)
		}
		if flagBytes != nil {
			if errDel := am.Ctx.GetStub().DelState(adminFlagKey); errDel != nil {
				return fmt.Errorf("failed to remove admin flag for '%s' (ParticipantInfo not found, flag deletion error): %w", targetFullID, errDel)
			}
			amLogger.Infof("Admin flag removed for '%s' (ParticipantInfo was not found). Action by '%s'.", targetFullID, callerFullID)
			return nil
		}
		return fmt.Errorf("cannot remove admin: target participant '%s' (resolved to '%s') not found and no admin flag present: %w", targetIDOrAlias, targetFullID, err)
	}

	if !pInfo.IsAdmin {
		amLogger.Infof("Participant '%s' (%s) IsAdmin is already false. Ensuring admin flag is also cleared.", pInfo.ShortName, targetFullID)
		_ = am.Ctx.GetStub().DelState(adminFlagKey) // Best effort to clear flag if it was somehow set
		return nil
	}

	now, err := am.getCurrentTxTimestamp()
	if err != nil {
		return err
	}
	pInfo.IsAdmin = false
	pInfo.LastUpdatedAt = now

	updatedBytes, err := json.Marshal(pInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal ParticipantInfo for RemoveAdmin: %w", err)
	}
	participantKey, err := am.createParticipantCompositeKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create participant key for RemoveAdmin: %w", err)
	}

	// Update ParticipantInfo first, then AdminFlag. If AdminFlag fails, roll back ParticipantInfo.
	if err := am.Ctx.GetStub().PutState(participantKey, updatedBytes); err != nil {
		return fmt.Errorf("failed to save ParticipantInfo after clearing IsAdmin for '%s': %w", targetFullID, err)
	}
	if err := am.Ctx.GetStub().DelState(adminFlagKey); err != nil {
		amLogger.Errorf("CRITICAL: Failed to delete admin flag for '%s' after updating ParticipantInfo. Attempting rollback of IsAdmin.", targetFullID)
		pInfo.IsAdmin = true
		pInfo.LastUpdatedAt, _ = am.getCurrentTxTimestamp()
		updatedBytesRollback, _ := json.Marshal(pInfo)
		if errRb := am.Ctx.GetStub().PutState(participantKey, updatedBytesRollback); errRb != nil {
			amLogger.Errorf("CRITICAL ROLLBACK FAILURE: Failed to delete admin flag for '%s' AND FAILED TO ROLLBACK ParticipantInfo.IsAdmin. State is inconsistent. Original flag error: %v. Rollback error: %v", targetFullID, err, errRb)
		} else {
			amLogger.Infof("SUCCESSFUL ROLLBACK: Failed to delete admin flag for '%s'. Rolled back IsAdmin in ParticipantInfo. Original flag error: %v", targetFullID, err)
		}
		return fmt.Errorf("failed to delete admin flag for '%s' (ParticipantInfo.IsAdmin change was rolled back): %w", targetFullID, err)
	}
	amLogger.Infof("Admin privileges removed from participant '%s' (%s) by '%s'. Both ParticipantInfo and AdminFlag updated/cleared.", pInfo.ShortName, targetFullID, callerFullID)
	return nil
}

// IsAdmin checks if a participant has admin privileges based on the AdminFlag,
// which is authoritative over ParticipantInfo.IsAdmin.
func (am *AccessManager) IsAdmin(idOrAlias string) (bool, error) {
	fullID, err := am.ResolveParticipant(idOrAlias)
	if err != nil {
		if errors.Is(err, ErrNotFound) { // Participant/Alias not found means not admin.
			return false, nil
		}
		return false, fmt.Errorf("error resolving participant '%s' for IsAdmin check: %w", idOrAlias, err)
	}
	adminFlagKey, err := am.createAdminFlagCompositeKey(fullID)
	if err != nil {
		return false, fmt.Errorf("failed to create admin flag key for IsAdmin check on '%s': %w", fullID, err)
	}

	flagBytes, err := am.Ctx.GetStub().GetState(adminFlagKey)
	if err != nil {
		return false, fmt.Errorf("ledger error checking admin flag for '%s': %w", fullID, err)
	}
	return flagBytes != nil && string(flagBytes) == "true", nil
}

func (am *AccessManager) IsCurrentUserAdmin() (bool, error) {
	callerFullID, err := am.GetCurrentIdentityFullID()
	if err != nil {
		return false, fmt.Errorf("failed to get current user's FullID for admin check: %w", err)
	}
	return am.IsAdmin(callerFullID)
}

// AnyAdminExists checks if any admin flag is set on the ledger.
func (am *AccessManager) AnyAdminExists() (bool, error) {
	iterator, err := am.Ctx.GetStub().GetStateByPartialCompositeKey(adminFlagObjectType, []string{})
	if err != nil {
		return false, fmt.Errorf("failed to query admin records for AnyAdminExists: %w", err)
	}
	defer iterator.Close()
	return iterator.HasNext(), nil
}

// GetCurrentIdentityFullID retrieves the full X.509 ID of the current transactor.
func (am *AccessManager) GetCurrentIdentityFullID() (string, error) {
	clientIdentity := am.Ctx.GetClientIdentity()
	if clientIdentity == nil {
		return "", errors.New("client identity is nil from context")
	}
	id, err := clientIdentity.GetID()
	if err != nil {
		return "", fmt.Errorf("failed to get client identity ID from context: %w", err)
	}
	if id == "" { // GetID can sometimes return empty string without error if not properly set up
		return "", errors.New("client identity ID from context is empty")
	}
	if !isValidX509ID(id) {
		amLogger.Warningf("Current client ID '%s' does not appear to be a standard X.509 format.", id)
	}
	return id, nil
}

// MustGetCallerFullID is a utility to get the caller's ID, returning a placeholder on error.
// Useful for logging when a full error return isn't desired.
func MustGetCallerFullID(ctx contractapi.TransactionContextInterface) string {
	clientIdentity := ctx.GetClientIdentity()
	if clientIdentity == nil {
		amLogger.Error("MustGetCallerFullID: Client identity is nil from context. Returning placeholder.")
		return "ERROR_NIL_CLIENT_IDENTITY"
	}
	id, err := clientIdentity.GetID()
	if err != nil {
		amLogger.Errorf("MustGetCallerFullID: Failed to get client identity ID: %v. Returning placeholder.", err)
		return "ERROR_GETTING_CALLER_ID"
	}
	if id == "" {
		amLogger.Error("MustGetCallerFullID: Client identity ID from context is empty. Returning placeholder.")
		return "ERROR_EMPTY_CALLER_ID"
	}
	return id
}

// GetCurrentEnrollmentID tries to get the enrollment ID from attributes or stored ParticipantInfo.
func (am *AccessManager) GetCurrentEnrollmentID() (string, error) {
	clientIdentity := am.Ctx.GetClientIdentity()
	if clientIdentity == nil {
		return "", errors.New("client identity is nil from context for GetCurrentEnrollmentID")
	}

	enrollmentID, found, errAttr := clientIdentity.GetAttributeValue("hf.EnrollmentID")
	if errAttr != nil {
		amLogger.Warningf("Error retrieving hf.EnrollmentID attribute: %v. Will try stored ParticipantInfo.", errAttr)
	}
	if found && enrollmentID != "" {
		return enrollmentID, nil
	}

	// Fallback to checking stored ParticipantInfo
	callerFullID, errFullID := am.GetCurrentIdentityFullID()
	if errFullID == nil && callerFullID != "" {
		pInfo, errInfo := am.getParticipantInfoByFullID(callerFullID)
		if errInfo == nil && pInfo != nil && pInfo.EnrollmentID != "" {
			amLogger.Debugf("Retrieved EnrollmentID '%s' from stored ParticipantInfo for %s.", pInfo.EnrollmentID, callerFullID)
			return pInfo.EnrollmentID, nil
		}
	} else if errFullID != nil {
		amLogger.Warningf("Could not get current FullID to check stored EnrollmentID: %v", errFullID)
	}

	// Further fallback to MSPID if other methods fail
	mspID, errMSPID := clientIdentity.GetMSPID()
	if errMSPID != nil {
		return "", fmt.Errorf("failed to get client MSPID as fallback for enrollment ID, and other methods failed (hf.EnrollmentID attr error: %v; FullID error: %v)", errAttr, errFullID)
	}
	if mspID == "" {
		return "", errors.New("failed to get client MSPID as fallback (MSPID is empty), and other methods for enrollment ID failed")
	}

	amLogger.Debugf("hf.EnrollmentID not found in attributes or stored ParticipantInfo, using MSPID '%s' as EnrollmentID for current user '%s'.", mspID, callerFullID)
	return mspID, nil
}

// GetAllRegisteredParticipants returns every participant record. Admin only.
func (am *AccessManager) GetAllRegisteredParticipants() ([]model.ParticipantInfo, error) {
	callerFullID, err := am.GetCurrentIdentityFullID()
	if err != nil {
		return nil, fmt.Errorf("failed to get caller's FullID for GetAllRegisteredParticipants: %w", err)
	}
	isCallerAdmin, err := am.IsAdmin(callerFullID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify caller '%s' admin status for GetAllRegisteredParticipants: %w", callerFullID, err)
	}
	if !isCallerAdmin {
		return nil, fmt.Errorf("%w: caller '%s' may not list all participants", ErrUnauthorized, callerFullID)
	}

	resultsIterator, err := am.Ctx.GetStub().GetStateByPartialCompositeKey(participantObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to get participants iterator using objectType '%s': %w", participantObjectType, err)
	}
	defer resultsIterator.Close()

	// Initialize as empty slice, not nil, so JSON renders [] instead of null.
	participants := []model.ParticipantInfo{}

	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			amLogger.Warningf("Failed to get next participant from iterator during GetAllRegisteredParticipants: %v. Skipping.", iterErr)
			continue
		}
		var pInfo model.ParticipantInfo
		if err := json.Unmarshal(queryResponse.Value, &pInfo); err != nil {
			amLogger.Warningf("Failed to unmarshal participant data for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		participants = append(participants, pInfo)
	}
	amLogger.Infof("Admin '%s' retrieved %d registered participants.", callerFullID, len(participants))
	return participants, nil
}
