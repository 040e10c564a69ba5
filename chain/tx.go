package chain

import "math/big"

// IntentStatus is the closed set of transaction intents assigned by the
// parser (spec §3).
type IntentStatus uint8

const (
	IntentSuccess IntentStatus = iota
	IntentNotSuccess
	IntentNodeTest
	IntentForgingF1
	IntentForgingF2
	IntentForgingF3
	IntentForgingF4
)

// IsForging reports whether the intent is one of the F1..F4 forging kinds.
func (s IntentStatus) IsForging() bool {
	return s >= IntentForgingF1 && s <= IntentForgingF4
}

// TokenOpKind is the tagged-variant discriminator for a token sub-record
// (spec §3, §9 "use a tagged sum type directly").
type TokenOpKind uint8

const (
	TokenOpNone TokenOpKind = iota
	TokenOpCreate
	TokenOpChangeOwner
	TokenOpChangeEmission
	TokenOpAddTokens
	TokenOpMoveTokens
	TokenOpBurnTokens
)

// TokenOp is a transaction's token sub-record. Only the fields relevant to
// Kind are populated by the parser.
type TokenOp struct {
	Kind  TokenOpKind
	Token Address // the token's identity address

	// Create
	Name              string
	Symbol            string
	Decimals          uint8
	EmissionPolicyFixed bool
	BeginValue        *big.Int
	BeginDistribution []TokenDistributionEntry

	// ChangeOwner
	NewOwner Address

	// ChangeEmission
	NewEmissionPolicyFixed bool

	// AddTokens / MoveTokens / BurnTokens
	Target Address
	Value  *big.Int
}

// TokenDistributionEntry is one (address, value) pair of a Create op's
// initial distribution (spec §8 S6).
type TokenDistributionEntry struct {
	Address Address
	Value   *big.Int
}

// DelegateOp is a transaction's delegate sub-record.
type DelegateOp struct {
	IsDelegate bool // true = delegate (push), false = undelegate (pop)
	Value      *big.Int
}

// TransactionInfo is one transaction within a BlockInfo (spec §3).
type TransactionInfo struct {
	Hash        Hash
	From        Address
	To          Address
	Value       *big.Int
	Nonce       uint64
	Data        []byte
	RawBytes    []byte
	FileOffset  uint64
	BlockHeight uint64

	Status IntentStatus

	Delegate *DelegateOp
	Token    *TokenOp
}

// IsDelegateTx reports whether the transaction carries a delegate sub-record.
func (t *TransactionInfo) IsDelegateTx() bool { return t.Delegate != nil }

// IsTokenTx reports whether the transaction carries a token sub-record.
func (t *TransactionInfo) IsTokenTx() bool { return t.Token != nil }

// BlockInfo is a header plus its ordered transactions (spec §3). BlockInfo
// values are transient, scoped to one pull cycle (spec §3 Lifecycles).
type BlockInfo struct {
	Header BlockHeader
	Txs    []TransactionInfo

	// Trust/day-rollover fields present on State blocks (SPEC_FULL §3).
	TrustRecords []TrustRecord
	IsDayRollover bool
}

// TrustRecord is a State-block per-address trust update (SPEC_FULL §3).
type TrustRecord struct {
	Address     Address
	Trust       float64
	BlockHeight uint64
}

// TxStatusKind is the tagged-union discriminator for TransactionStatus
// (spec §9 "Variant transaction status"). It is a direct Go sum type
// instead of a bare status string.
type TxStatusKind uint8

const (
	TxStatusNone TxStatusKind = iota
	TxStatusDelegate
	TxStatusUnDelegate
)

// TransactionStatus is the per-address-pair delegation outcome recorded for
// a transaction (spec §3 "Delegate state", §4.5).
type TransactionStatus struct {
	Kind TxStatusKind

	// Populated when Kind == TxStatusUnDelegate: the value popped off the
	// LIFO stack, and the hash of the transaction that originally pushed it.
	Value    *big.Int
	PushHash Hash
}
