package vmtest

import (
	"fmt"
	"slices"
	"sync"

	contractvm "github.com/wippyai/contract-vm"
	"github.com/wippyai/contract-vm/crypto"
	"github.com/wippyai/contract-vm/storage"
)

// Address length bounds accepted by MockAPI.
const (
	MinAddressLength = 3
	MaxAddressLength = 54
)

// MockAPI is a deterministic address codec: the canonical form of a
// lowercase ASCII address is its bytes reversed.
type MockAPI struct{}

var _ contractvm.AddressAPI = MockAPI{}

func (MockAPI) Canonicalize(human string) ([]byte, error) {
	if len(human) < MinAddressLength {
		return nil, contractvm.NewUserError(fmt.Sprintf("address %q is too short", human))
	}
	if len(human) > MaxAddressLength {
		return nil, contractvm.NewUserError(fmt.Sprintf("address of %d bytes is too long", len(human)))
	}
	for _, r := range human {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return nil, contractvm.NewUserError(fmt.Sprintf("address %q must be lowercase alphanumeric", human))
		}
	}
	out := []byte(human)
	slices.Reverse(out)
	return out, nil
}

func (MockAPI) Humanize(canonical []byte) (string, error) {
	if len(canonical) < MinAddressLength || len(canonical) > MaxAddressLength {
		return "", contractvm.NewUserError(fmt.Sprintf("invalid canonical address length %d", len(canonical)))
	}
	out := slices.Clone(canonical)
	slices.Reverse(out)
	return string(out), nil
}

func (a MockAPI) Validate(human string) error {
	canonical, err := a.Canonicalize(human)
	if err != nil {
		return err
	}
	back, err := a.Humanize(canonical)
	if err != nil {
		return err
	}
	if back != human {
		return contractvm.NewUserError("address is not normalized")
	}
	return nil
}

// MockQuerier answers queries from a fixed table and charges GasPerQuery.
type MockQuerier struct {
	mu          sync.Mutex
	responses   map[string][]byte
	GasPerQuery uint64
	// Err, when set, is returned by every query.
	Err   error
	calls int
}

var _ contractvm.Querier = (*MockQuerier)(nil)

// NewMockQuerier creates a querier with no responses.
func NewMockQuerier() *MockQuerier {
	return &MockQuerier{responses: map[string][]byte{}, GasPerQuery: 1_000}
}

// Respond registers the response to request.
func (q *MockQuerier) Respond(request string, response []byte) *MockQuerier {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.responses[request] = response
	return q
}

// Calls returns the number of queries made.
func (q *MockQuerier) Calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func (q *MockQuerier) Query(request []byte, gasLimit uint64) ([]byte, uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.Err != nil {
		return nil, 0, q.Err
	}
	if q.GasPerQuery > gasLimit {
		return nil, gasLimit, fmt.Errorf("query needs %d gas, limit %d", q.GasPerQuery, gasLimit)
	}
	resp, ok := q.responses[string(request)]
	if !ok {
		return nil, q.GasPerQuery, contractvm.NewUserError(fmt.Sprintf("no route for query %q", request))
	}
	return slices.Clone(resp), q.GasPerQuery, nil
}

// Backend returns a backend over a fresh in-memory store together with
// that store, for inspection.
func Backend() (contractvm.Backend, *storage.Memory) {
	store := storage.NewMemory()
	return contractvm.Backend{
		Storage: store,
		Querier: NewMockQuerier(),
		API:     MockAPI{},
		Crypto:  crypto.Default{},
	}, store
}

// FailingStorage fails every operation with Err.
type FailingStorage struct {
	Err error
}

func (f FailingStorage) Get([]byte) ([]byte, error) { return nil, f.Err }
func (f FailingStorage) Set([]byte, []byte) error   { return f.Err }
func (f FailingStorage) Delete([]byte) error        { return f.Err }
func (f FailingStorage) Iterator([]byte, []byte, contractvm.Order) (contractvm.Iterator, error) {
	return nil, f.Err
}
