package contract

import (
	"testing"

	"nexkey/model"
)

// seedRegistry bootstraps an admin, an issuer and a holder named alice.
func seedRegistry(t *testing.T) (*testEnv, *mockClientIdentity, *mockClientIdentity, *mockClientIdentity) {
	t.Helper()
	env := newTestEnv(t)
	admin := env.bootstrapAdmin("admin")
	issuer := env.registerParticipant(admin, "issuer1", "issuer")
	alice := env.registerParticipant(admin, "alice")
	return env, admin, issuer, alice
}

func (e *testEnv) createDID(t *testing.T, issuer *mockClientIdentity, ownerRef, name string) uint64 {
	t.Helper()
	didID, err := e.sc.CreateDID(e.as(issuer), ownerRef, name, "1990-01-01", "Wonderland", "ID-"+name)
	if err != nil {
		t.Fatalf("CreateDID for %q: %v", ownerRef, err)
	}
	return didID
}

func TestCreateDIDAssignsSequentialIDs(t *testing.T) {
	env, admin, issuer, alice := seedRegistry(t)
	bob := env.registerParticipant(admin, "bob")

	first := env.createDID(t, issuer, "alice", "Alice Liddell")
	second := env.createDID(t, issuer, bob.id, "Bob Builder")

	if first != 1 || second != 2 {
		t.Fatalf("DID IDs = %d, %d; want 1, 2", first, second)
	}

	doc, err := env.sc.GetDID(env.as(issuer), first)
	if err != nil {
		t.Fatalf("GetDID: %v", err)
	}
	if doc.OwnerID != alice.id {
		t.Fatalf("DID owner = %q, want %q", doc.OwnerID, alice.id)
	}
	if doc.Status != model.DIDStatusActive {
		t.Fatalf("new DID status = %q, want %q", doc.Status, model.DIDStatusActive)
	}
	if doc.Name != "Alice Liddell" || doc.Nationality != "Wonderland" {
		t.Fatalf("DID fields not persisted: %+v", doc)
	}

	total, err := env.sc.GetTotalDIDs(env.as(issuer))
	if err != nil {
		t.Fatalf("GetTotalDIDs: %v", err)
	}
	if total != 2 {
		t.Fatalf("GetTotalDIDs = %d, want 2", total)
	}
}

func TestCreateDIDRequiresIssuerRole(t *testing.T) {
	env, _, _, alice := seedRegistry(t)

	_, err := env.sc.CreateDID(env.as(alice), "alice", "Alice", "1990-01-01", "Wonderland", "ID-1")
	wantErrIs(t, err, ErrUnauthorized)
}

func TestCreateDIDRejectsUnregisteredOwner(t *testing.T) {
	env, _, issuer, _ := seedRegistry(t)

	if _, err := env.sc.CreateDID(env.as(issuer), "ghost", "Ghost", "1990-01-01", "Nowhere", "ID-0"); err == nil {
		t.Fatal("CreateDID for unregistered owner should fail")
	}
}

func TestGetDIDNotFound(t *testing.T) {
	env, _, issuer, _ := seedRegistry(t)

	_, err := env.sc.GetDID(env.as(issuer), 42)
	wantErrIs(t, err, ErrNotFound)
}

func TestUpdateDIDStatusTransitions(t *testing.T) {
	env, _, issuer, _ := seedRegistry(t)
	didID := env.createDID(t, issuer, "alice", "Alice")

	if err := env.sc.UpdateDIDStatus(env.as(issuer), didID, "SUSPENDED"); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	doc, _ := env.sc.GetDID(env.as(issuer), didID)
	if doc.Status != model.DIDStatusSuspended {
		t.Fatalf("status = %q, want SUSPENDED", doc.Status)
	}

	// Suspension is reversible.
	if err := env.sc.UpdateDIDStatus(env.as(issuer), didID, "ACTIVE"); err != nil {
		t.Fatalf("reactivate: %v", err)
	}

	// Same-status transitions are a no-op, not an error.
	if err := env.sc.UpdateDIDStatus(env.as(issuer), didID, "ACTIVE"); err != nil {
		t.Fatalf("redundant transition should succeed: %v", err)
	}
}

func TestUpdateDIDStatusRevokedIsTerminal(t *testing.T) {
	env, _, issuer, _ := seedRegistry(t)
	didID := env.createDID(t, issuer, "alice", "Alice")

	if err := env.sc.UpdateDIDStatus(env.as(issuer), didID, "REVOKED"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := env.sc.UpdateDIDStatus(env.as(issuer), didID, "ACTIVE"); err == nil {
		t.Fatal("reactivating a revoked DID should fail")
	}
}

func TestUpdateDIDStatusValidation(t *testing.T) {
	env, _, issuer, alice := seedRegistry(t)
	didID := env.createDID(t, issuer, "alice", "Alice")

	if err := env.sc.UpdateDIDStatus(env.as(issuer), didID, "FROZEN"); err == nil {
		t.Fatal("unknown status should be rejected")
	}

	err := env.sc.UpdateDIDStatus(env.as(alice), didID, "SUSPENDED")
	wantErrIs(t, err, ErrUnauthorized)

	err = env.sc.UpdateDIDStatus(env.as(issuer), 99, "SUSPENDED")
	wantErrIs(t, err, ErrNotFound)
}

func TestIsActiveAndOwnedBy(t *testing.T) {
	env, admin, issuer, alice := seedRegistry(t)
	bob := env.registerParticipant(admin, "bob")
	didID := env.createDID(t, issuer, "alice", "Alice")

	ok, err := env.sc.IsActiveAndOwnedBy(env.as(issuer), didID, alice.id)
	if err != nil || !ok {
		t.Fatalf("IsActiveAndOwnedBy(alice) = %v, %v; want true", ok, err)
	}

	ok, err = env.sc.IsActiveAndOwnedBy(env.as(issuer), didID, bob.id)
	if err != nil || ok {
		t.Fatalf("IsActiveAndOwnedBy(bob) = %v, %v; want false", ok, err)
	}

	// A missing DID reads false, not an error.
	ok, err = env.sc.IsActiveAndOwnedBy(env.as(issuer), 99, "alice")
	if err != nil || ok {
		t.Fatalf("IsActiveAndOwnedBy(missing) = %v, %v; want false, nil", ok, err)
	}

	if err := env.sc.UpdateDIDStatus(env.as(issuer), didID, "SUSPENDED"); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	ok, err = env.sc.IsActiveAndOwnedBy(env.as(issuer), didID, "alice")
	if err != nil || ok {
		t.Fatalf("IsActiveAndOwnedBy(suspended) = %v, %v; want false", ok, err)
	}
}

func TestValidateCallerOwnsDIDBindsToSigner(t *testing.T) {
	env, admin, issuer, _ := seedRegistry(t)
	bob := env.registerParticipant(admin, "bob")
	didID := env.createDID(t, issuer, "alice", "Alice")

	alice := identity("alice")
	ok, err := env.sc.ValidateCallerOwnsDID(env.as(alice), didID)
	if err != nil || !ok {
		t.Fatalf("owner's own check = %v, %v; want true", ok, err)
	}

	// Bob cannot claim alice's DID no matter what he passes; the check binds
	// to the transaction signer.
	ok, err = env.sc.ValidateCallerOwnsDID(env.as(bob), didID)
	if err != nil || ok {
		t.Fatalf("non-owner check = %v, %v; want false", ok, err)
	}
}

func TestGetDIDsByOwner(t *testing.T) {
	env, admin, issuer, alice := seedRegistry(t)
	env.registerParticipant(admin, "bob")

	first := env.createDID(t, issuer, "alice", "Alice One")
	env.createDID(t, issuer, "bob", "Bob One")
	second := env.createDID(t, issuer, "alice", "Alice Two")

	ids, err := env.sc.GetDIDsByOwner(env.as(issuer), alice.id)
	if err != nil {
		t.Fatalf("GetDIDsByOwner: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("alice owns %d DIDs, want 2 (%v)", len(ids), ids)
	}
	found := map[uint64]bool{}
	for _, id := range ids {
		found[id] = true
	}
	if !found[first] || !found[second] {
		t.Fatalf("GetDIDsByOwner(alice) = %v, want %d and %d", ids, first, second)
	}
}

func TestGetAllDIDsAdminOnlyAndPaginated(t *testing.T) {
	env, admin, issuer, _ := seedRegistry(t)
	for i := 0; i < 3; i++ {
		env.createDID(t, issuer, "alice", "Alice")
	}

	_, err := env.sc.GetAllDIDs(env.as(issuer), "10", "")
	wantErrIs(t, err, ErrUnauthorized)

	page, err := env.sc.GetAllDIDs(env.as(admin), "2", "")
	if err != nil {
		t.Fatalf("GetAllDIDs page 1: %v", err)
	}
	if page.FetchedCount != 2 || len(page.DIDs) != 2 {
		t.Fatalf("page 1 fetched %d DIDs, want 2", page.FetchedCount)
	}
	if page.NextBookmark == "" {
		t.Fatal("page 1 should carry a bookmark for the next page")
	}

	page2, err := env.sc.GetAllDIDs(env.as(admin), "2", page.NextBookmark)
	if err != nil {
		t.Fatalf("GetAllDIDs page 2: %v", err)
	}
	if page2.FetchedCount != 1 {
		t.Fatalf("page 2 fetched %d DIDs, want 1", page2.FetchedCount)
	}
}
