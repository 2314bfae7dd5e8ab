package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"nexkey/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Admin Operations ---

// BootstrapLedger initializes the ledger with a bootstrap admin if no admin
// exists yet. It writes the participant record, alias mapping and admin flag
// directly because no admin exists yet to authorize the normal registration
// path.
func (s *NexkeySmartContract) BootstrapLedger(ctx contractapi.TransactionContextInterface) error {
	logger.Info("Attempting to bootstrap ledger with initial admin (direct write method)...")
	am := NewAccessManager(ctx)

	anyAdminAlreadyExists, err := am.AnyAdminExists()
	if err != nil {
		return fmt.Errorf("BootstrapLedger: failed to check if any admin exists: %w", err)
	}
	if anyAdminAlreadyExists {
		msg := "system already has admins or is bootstrapped. BootstrapLedger should not be re-run."
		logger.Info(msg)
		return errors.New(msg)
	}

	callerActorInfo, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("BootstrapLedger: failed to get caller identity for bootstrap: %w", err)
	}
	callerFullID := callerActorInfo.fullID
	bootstrapAdminAlias := callerActorInfo.alias
	bootstrapAdminEnrollmentID := callerActorInfo.alias

	logger.Infof("BootstrapLedger: Preparing to register bootstrap admin '%s' (alias: '%s', enrollmentID: '%s') using direct state writes.",
		callerFullID, bootstrapAdminAlias, bootstrapAdminEnrollmentID)

	now, tsErr := s.getCurrentTxTimestamp(ctx)
	if tsErr != nil {
		return fmt.Errorf("BootstrapLedger: failed to get timestamp for direct state writes: %w", tsErr)
	}

	bootstrapAdminInfo := model.ParticipantInfo{
		ObjectType:      participantObjectType,
		FullID:          callerFullID,
		ShortName:       bootstrapAdminAlias,
		EnrollmentID:    bootstrapAdminEnrollmentID,
		OrganizationMSP: callerActorInfo.mspID,
		Roles:           []string{},
		IsAdmin:         true,
		RegisteredBy:    callerFullID, // Self-registered during bootstrap
		RegisteredAt:    now,
		LastUpdatedAt:   now,
	}
	participantKey, keyErr := am.createParticipantCompositeKey(callerFullID)
	if keyErr != nil {
		return fmt.Errorf("BootstrapLedger: failed to create participant key for bootstrap admin '%s': %w", callerFullID, keyErr)
	}
	bootstrapAdminInfoBytes, marshalErr := json.Marshal(bootstrapAdminInfo)
	if marshalErr != nil {
		return fmt.Errorf("BootstrapLedger: failed to marshal bootstrap admin ParticipantInfo: %w", marshalErr)
	}
	if err := ctx.GetStub().PutState(participantKey, bootstrapAdminInfoBytes); err != nil {
		return fmt.Errorf("BootstrapLedger: failed to save bootstrap admin ParticipantInfo for '%s': %w", callerFullID, err)
	}
	logger.Infof("BootstrapLedger: Bootstrap admin ParticipantInfo for '%s' saved directly.", callerFullID)

	aliasKey, aliasKeyErr := am.createAliasCompositeKey(bootstrapAdminAlias)
	if aliasKeyErr != nil {
		return fmt.Errorf("BootstrapLedger: failed to create alias key for bootstrap admin '%s': %w", bootstrapAdminAlias, aliasKeyErr)
	}
	if err := ctx.GetStub().PutState(aliasKey, []byte(callerFullID)); err != nil {
		return fmt.Errorf("BootstrapLedger: failed to save bootstrap admin alias mapping '%s' -> '%s': %w", bootstrapAdminAlias, callerFullID, err)
	}
	logger.Infof("BootstrapLedger: Bootstrap admin alias mapping for '%s' -> '%s' saved directly.", bootstrapAdminAlias, callerFullID)

	adminFlagKey, flagKeyErr := am.createAdminFlagCompositeKey(callerFullID)
	if flagKeyErr != nil {
		return fmt.Errorf("BootstrapLedger: failed to create admin flag key for '%s': %w", callerFullID, flagKeyErr)
	}
	if err := ctx.GetStub().PutState(adminFlagKey, []byte("true")); err != nil {
		return fmt.Errorf("BootstrapLedger: failed to set admin flag for bootstrap admin '%s': %w", callerFullID, err)
	}
	logger.Infof("BootstrapLedger: Ledger bootstrapped successfully. Identity '%s' (alias: '%s') is now an admin.", callerFullID, bootstrapAdminAlias)
	return nil
}

// GetCallerIdentityDetails reports the caller's own identity as the contract
// sees it. Useful when wiring up client applications against a fresh channel.
func (s *NexkeySmartContract) GetCallerIdentityDetails(ctx contractapi.TransactionContextInterface) (map[string]string, error) {
	am := NewAccessManager(ctx)
	fullID, err := am.GetCurrentIdentityFullID()
	if err != nil {
		return nil, fmt.Errorf("GetCallerIdentityDetails: failed to get caller's FullID: %w", err)
	}
	mspID, err := ctx.GetClientIdentity().GetMSPID()
	if err != nil {
		return nil, fmt.Errorf("GetCallerIdentityDetails: failed to get caller's MSPID: %w", err)
	}

	alias := ""
	enrollID := ""
	registered := "false"
	pInfo, errInfo := am.GetParticipantInfo(fullID)
	if errInfo == nil && pInfo != nil {
		alias = pInfo.ShortName
		enrollID = pInfo.EnrollmentID
		registered = "true"
	} else if enrollFromCert, enrollErr := am.GetCurrentEnrollmentID(); enrollErr == nil {
		enrollID = enrollFromCert
	}

	return map[string]string{
		"fullId":       fullID,
		"alias":        alias,
		"enrollmentId": enrollID,
		"mspId":        mspID,
		"registered":   registered,
	}, nil
}
