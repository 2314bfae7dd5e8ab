package contract

import (
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"github.com/hyperledger/fabric-protos-go/peer"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// compositeKeyNamespace is the U+0000 separator Fabric uses in composite keys.
const compositeKeyNamespace = "\x00"

// mockClientIdentity implements cid.ClientIdentity for a fixed test principal.
type mockClientIdentity struct {
	id    string
	mspID string
	attrs map[string]string
}

func (m *mockClientIdentity) GetID() (string, error)    { return m.id, nil }
func (m *mockClientIdentity) GetMSPID() (string, error) { return m.mspID, nil }

func (m *mockClientIdentity) GetAttributeValue(attrName string) (string, bool, error) {
	v, ok := m.attrs[attrName]
	return v, ok, nil
}

func (m *mockClientIdentity) AssertAttributeValue(attrName, attrValue string) error {
	v, ok := m.attrs[attrName]
	if !ok || v != attrValue {
		return fmt.Errorf("attribute '%s' does not have value '%s'", attrName, attrValue)
	}
	return nil
}

func (m *mockClientIdentity) GetX509Certificate() (*x509.Certificate, error) { return nil, nil }

// identity builds a client identity whose full ID follows the Fabric X.509
// format the contract parses aliases out of.
func identity(name string) *mockClientIdentity {
	return &mockClientIdentity{
		id:    fmt.Sprintf("x509::CN=%s::CN=ca.org1.example.com,O=Org1", name),
		mspID: "Org1MSP",
		attrs: map[string]string{"hf.EnrollmentID": name},
	}
}

// mockStub is an in-memory implementation of shim.ChaincodeStubInterface. It
// keeps a sorted-key world state, per-key modification history and the events
// set during the current transaction. Writes are applied immediately; there is
// no endorsement round-trip in unit tests.
type mockStub struct {
	state   map[string][]byte
	history map[string][]*queryresult.KeyModification
	events  map[string][]byte
	txSeq   int
	txID    string
	txTime  time.Time
}

func newMockStub() *mockStub {
	return &mockStub{
		state:   map[string][]byte{},
		history: map[string][]*queryresult.KeyModification{},
		events:  map[string][]byte{},
		txTime:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

// beginTx starts a new simulated transaction with a fresh ID and a timestamp
// one minute after the previous transaction.
func (s *mockStub) beginTx() {
	s.txSeq++
	s.txID = fmt.Sprintf("TX%04d", s.txSeq)
	s.txTime = s.txTime.Add(time.Minute)
	s.events = map[string][]byte{}
}

func (s *mockStub) GetTxID() string      { return s.txID }
func (s *mockStub) GetChannelID() string { return "testchannel" }

func (s *mockStub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(s.txTime), nil
}

func (s *mockStub) GetState(key string) ([]byte, error) {
	value, ok := s.state[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *mockStub) PutState(key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	s.state[key] = stored
	s.history[key] = append(s.history[key], &queryresult.KeyModification{
		TxId:      s.txID,
		Value:     stored,
		Timestamp: timestamppb.New(s.txTime),
	})
	return nil
}

func (s *mockStub) DelState(key string) error {
	delete(s.state, key)
	s.history[key] = append(s.history[key], &queryresult.KeyModification{
		TxId:      s.txID,
		Timestamp: timestamppb.New(s.txTime),
		IsDelete:  true,
	})
	return nil
}

func (s *mockStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	key := compositeKeyNamespace + objectType + compositeKeyNamespace
	for _, attr := range attributes {
		key += attr + compositeKeyNamespace
	}
	return key, nil
}

func (s *mockStub) SplitCompositeKey(compositeKey string) (string, []string, error) {
	if !strings.HasPrefix(compositeKey, compositeKeyNamespace) {
		return "", nil, fmt.Errorf("not a composite key: %q", compositeKey)
	}
	components := strings.Split(strings.TrimSuffix(compositeKey[1:], compositeKeyNamespace), compositeKeyNamespace)
	return components[0], components[1:], nil
}

// sortedKeysWithPrefix returns the state keys matching a composite-key prefix,
// in lexical order like a LevelDB range scan.
func (s *mockStub) sortedKeysWithPrefix(prefix string) []string {
	keys := []string{}
	for key := range s.state {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *mockStub) partialCompositePrefix(objectType string, keys []string) string {
	prefix := compositeKeyNamespace + objectType + compositeKeyNamespace
	for _, attr := range keys {
		prefix += attr + compositeKeyNamespace
	}
	return prefix
}

func (s *mockStub) GetStateByPartialCompositeKey(objectType string, keys []string) (shim.StateQueryIteratorInterface, error) {
	prefix := s.partialCompositePrefix(objectType, keys)
	kvs := []*queryresult.KV{}
	for _, key := range s.sortedKeysWithPrefix(prefix) {
		kvs = append(kvs, &queryresult.KV{Key: key, Value: s.state[key]})
	}
	return &mockStateIterator{kvs: kvs}, nil
}

func (s *mockStub) GetStateByPartialCompositeKeyWithPagination(objectType string, keys []string, pageSize int32, bookmark string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	prefix := s.partialCompositePrefix(objectType, keys)
	matching := s.sortedKeysWithPrefix(prefix)

	start := 0
	if bookmark != "" {
		for i, key := range matching {
			if key >= bookmark {
				start = i
				break
			}
			start = i + 1
		}
	}

	kvs := []*queryresult.KV{}
	nextBookmark := ""
	for i := start; i < len(matching); i++ {
		if int32(len(kvs)) == pageSize {
			nextBookmark = matching[i]
			break
		}
		kvs = append(kvs, &queryresult.KV{Key: matching[i], Value: s.state[matching[i]]})
	}
	metadata := &peer.QueryResponseMetadata{
		FetchedRecordsCount: int32(len(kvs)),
		Bookmark:            nextBookmark,
	}
	return &mockStateIterator{kvs: kvs}, metadata, nil
}

func (s *mockStub) GetHistoryForKey(key string) (shim.HistoryQueryIteratorInterface, error) {
	mods := s.history[key]
	// Newest first, matching the peer's history index scan.
	reversed := make([]*queryresult.KeyModification, 0, len(mods))
	for i := len(mods) - 1; i >= 0; i-- {
		reversed = append(reversed, mods[i])
	}
	return &mockHistoryIterator{mods: reversed}, nil
}

func (s *mockStub) SetEvent(name string, payload []byte) error {
	s.events[name] = payload
	return nil
}

// Remaining shim.ChaincodeStubInterface methods are not exercised by the
// contract; they fail loudly if something starts depending on them.

func (s *mockStub) GetArgs() [][]byte                            { return nil }
func (s *mockStub) GetStringArgs() []string                      { return nil }
func (s *mockStub) GetFunctionAndParameters() (string, []string) { return "", nil }
func (s *mockStub) GetArgsSlice() ([]byte, error)                { return nil, nil }

func (s *mockStub) InvokeChaincode(string, [][]byte, string) peer.Response {
	return peer.Response{Status: 500, Message: "InvokeChaincode not supported in test stub"}
}

func (s *mockStub) SetStateValidationParameter(string, []byte) error {
	return errors.New("not supported in test stub")
}

func (s *mockStub) GetStateValidationParameter(string) ([]byte, error) {
	return nil, errors.New("not supported in test stub")
}

func (s *mockStub) GetStateByRange(string, string) (shim.StateQueryIteratorInterface, error) {
	return nil, errors.New("not supported in test stub")
}

func (s *mockStub) GetStateByRangeWithPagination(string, string, int32, string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	return nil, nil, errors.New("not supported in test stub")
}

func (s *mockStub) GetQueryResult(string) (shim.StateQueryIteratorInterface, error) {
	return nil, errors.New("rich queries not supported in test stub")
}

func (s *mockStub) GetQueryResultWithPagination(string, int32, string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	return nil, nil, errors.New("rich queries not supported in test stub")
}

func (s *mockStub) GetPrivateData(string, string) ([]byte, error) {
	return nil, errors.New("private data not supported in test stub")
}

func (s *mockStub) GetPrivateDataHash(string, string) ([]byte, error) {
	return nil, errors.New("private data not supported in test stub")
}

func (s *mockStub) PutPrivateData(string, string, []byte) error {
	return errors.New("private data not supported in test stub")
}

func (s *mockStub) DelPrivateData(string, string) error {
	return errors.New("private data not supported in test stub")
}

func (s *mockStub) PurgePrivateData(string, string) error {
	return errors.New("private data not supported in test stub")
}

func (s *mockStub) SetPrivateDataValidationParameter(string, string, []byte) error {
	return errors.New("private data not supported in test stub")
}

func (s *mockStub) GetPrivateDataValidationParameter(string, string) ([]byte, error) {
	return nil, errors.New("private data not supported in test stub")
}

func (s *mockStub) GetPrivateDataByRange(string, string, string) (shim.StateQueryIteratorInterface, error) {
	return nil, errors.New("private data not supported in test stub")
}

func (s *mockStub) GetPrivateDataByPartialCompositeKey(string, string, []string) (shim.StateQueryIteratorInterface, error) {
	return nil, errors.New("private data not supported in test stub")
}

func (s *mockStub) GetPrivateDataQueryResult(string, string) (shim.StateQueryIteratorInterface, error) {
	return nil, errors.New("private data not supported in test stub")
}

func (s *mockStub) GetCreator() ([]byte, error)                      { return nil, nil }
func (s *mockStub) GetTransient() (map[string][]byte, error)         { return nil, nil }
func (s *mockStub) GetBinding() ([]byte, error)                      { return nil, nil }
func (s *mockStub) GetDecorations() map[string][]byte                { return nil }
func (s *mockStub) GetSignedProposal() (*peer.SignedProposal, error) { return nil, nil }

type mockStateIterator struct {
	kvs []*queryresult.KV
	pos int
}

func (it *mockStateIterator) HasNext() bool { return it.pos < len(it.kvs) }

func (it *mockStateIterator) Next() (*queryresult.KV, error) {
	if !it.HasNext() {
		return nil, errors.New("no more items in iterator")
	}
	kv := it.kvs[it.pos]
	it.pos++
	return kv, nil
}

func (it *mockStateIterator) Close() error { return nil }

type mockHistoryIterator struct {
	mods []*queryresult.KeyModification
	pos  int
}

func (it *mockHistoryIterator) HasNext() bool { return it.pos < len(it.mods) }

func (it *mockHistoryIterator) Next() (*queryresult.KeyModification, error) {
	if !it.HasNext() {
		return nil, errors.New("no more items in iterator")
	}
	mod := it.mods[it.pos]
	it.pos++
	return mod, nil
}

func (it *mockHistoryIterator) Close() error { return nil }

// testEnv bundles a shared ledger, the contract under test and transaction
// simulation across multiple principals.
type testEnv struct {
	t    *testing.T
	stub *mockStub
	sc   *NexkeySmartContract
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{t: t, stub: newMockStub(), sc: new(NexkeySmartContract)}
}

// as begins a new simulated transaction signed by the given principal and
// returns its context.
func (e *testEnv) as(id *mockClientIdentity) *contractapi.TransactionContext {
	e.stub.beginTx()
	ctx := new(contractapi.TransactionContext)
	ctx.SetStub(e.stub)
	ctx.SetClientIdentity(id)
	return ctx
}

// bootstrapAdmin bootstraps the ledger with the named principal as the first
// admin and returns that principal.
func (e *testEnv) bootstrapAdmin(name string) *mockClientIdentity {
	e.t.Helper()
	admin := identity(name)
	if err := e.sc.BootstrapLedger(e.as(admin)); err != nil {
		e.t.Fatalf("BootstrapLedger as %q: %v", name, err)
	}
	return admin
}

// registerParticipant registers a principal under its name as alias and
// assigns the given roles, all authorized by admin.
func (e *testEnv) registerParticipant(admin *mockClientIdentity, name string, roles ...string) *mockClientIdentity {
	e.t.Helper()
	p := identity(name)
	if err := e.sc.RegisterParticipant(e.as(admin), p.id, name, name); err != nil {
		e.t.Fatalf("RegisterParticipant %q: %v", name, err)
	}
	for _, role := range roles {
		if err := e.sc.AssignRoleToParticipant(e.as(admin), name, role); err != nil {
			e.t.Fatalf("AssignRoleToParticipant %q role %q: %v", name, role, err)
		}
	}
	return p
}

// wantErrIs fails the test unless err wraps target.
func wantErrIs(t *testing.T, err, target error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error wrapping %v, got nil", target)
	}
	if !errors.Is(err, target) {
		t.Fatalf("expected error wrapping %v, got: %v", target, err)
	}
}
