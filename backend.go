package contractvm

// Order selects the iteration direction of a storage range scan.
type Order int32

const (
	Ascending  Order = 1
	Descending Order = 2
)

// Storage is the contract key/value store a call reads and writes through.
// Rolling back writes of a failed call is the implementation's concern.
type Storage interface {
	// Get returns nil without error when key is absent.
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// Iterator scans [start, end). Nil bounds are open.
	Iterator(start, end []byte, order Order) (Iterator, error)
}

// Iterator walks a storage range.
type Iterator interface {
	// Next returns ok == false once the range is exhausted.
	Next() (key, value []byte, ok bool, err error)
	Close() error
}

// Querier answers chain queries. It reports the gas the query consumed so the
// caller can charge it.
type Querier interface {
	Query(request []byte, gasLimit uint64) (response []byte, gasUsed uint64, err error)
}

// AddressAPI converts between human readable and canonical addresses.
type AddressAPI interface {
	Canonicalize(human string) ([]byte, error)
	Humanize(canonical []byte) (string, error)
	Validate(human string) error
}

// Crypto verifies signatures on behalf of contracts.
type Crypto interface {
	Secp256k1Verify(hash, signature, pubkey []byte) (bool, error)
	Secp256k1RecoverPubkey(hash, signature []byte, recoveryParam byte) ([]byte, error)
	Ed25519Verify(message, signature, pubkey []byte) (bool, error)
}

// Backend bundles the collaborators a call is bound to. Nested dynamic link
// calls share the caller's Backend.
type Backend struct {
	Storage Storage
	Querier Querier
	API     AddressAPI
	Crypto  Crypto
}

// UserError is a collaborator failure caused by contract input, such as an
// invalid address. It is reported back to the contract instead of aborting
// the call.
type UserError struct {
	Msg string
}

func (e *UserError) Error() string {
	return e.Msg
}

// NewUserError creates a UserError.
func NewUserError(msg string) *UserError {
	return &UserError{Msg: msg}
}
