package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	PublicKeyLength = 32
	SignatureLength = 64
	HashLength      = 32
)

// NativeMint identifies the chain's base asset when it appears as a swap leg.
const NativeMint = "So11111111111111111111111111111111111111112"

// LamportsPerSOL is the number of smallest units in one native asset unit.
const LamportsPerSOL = 1_000_000_000

// PublicKey is an ed25519 account address.
type PublicKey [PublicKeyLength]byte

func (k PublicKey) String() string { return base58.Encode(k[:]) }

func (k PublicKey) IsZero() bool { return k == PublicKey{} }

func (k PublicKey) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

func (k *PublicKey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParsePublicKey(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func ParsePublicKey(v string) (PublicKey, error) {
	var out PublicKey
	raw, err := base58.Decode(strings.TrimSpace(v))
	if err != nil {
		return out, fmt.Errorf("decode public key %q: %w", v, err)
	}
	if len(raw) != PublicKeyLength {
		return out, fmt.Errorf("public key %q has %d bytes, want %d", v, len(raw), PublicKeyLength)
	}
	copy(out[:], raw)
	return out, nil
}

func MustPublicKey(v string) PublicKey {
	k, err := ParsePublicKey(v)
	if err != nil {
		panic(err)
	}
	return k
}

// Signature is the first signature of a transaction and doubles as its id.
type Signature [SignatureLength]byte

func (s Signature) String() string { return base58.Encode(s[:]) }

func (s Signature) IsZero() bool { return s == Signature{} }

func (s Signature) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func ParseSignature(v string) (Signature, error) {
	var out Signature
	raw, err := base58.Decode(strings.TrimSpace(v))
	if err != nil {
		return out, fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != SignatureLength {
		return out, fmt.Errorf("signature has %d bytes, want %d", len(raw), SignatureLength)
	}
	copy(out[:], raw)
	return out, nil
}

// Hash is a recent blockhash.
type Hash [HashLength]byte

func (h Hash) String() string { return base58.Encode(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

func ParseHash(v string) (Hash, error) {
	var out Hash
	raw, err := base58.Decode(strings.TrimSpace(v))
	if err != nil {
		return out, fmt.Errorf("decode blockhash: %w", err)
	}
	if len(raw) != HashLength {
		return out, fmt.Errorf("blockhash has %d bytes, want %d", len(raw), HashLength)
	}
	copy(out[:], raw)
	return out, nil
}

// TimeBound is the recent blockhash a transaction commits to plus the last
// block height at which that blockhash is still accepted.
type TimeBound struct {
	Blockhash            Hash   `json:"-"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

func (t TimeBound) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"last_valid_block_height"`
	}{t.Blockhash.String(), t.LastValidBlockHeight})
}

func (t TimeBound) IsZero() bool { return t.Blockhash.IsZero() }

type AccountMeta struct {
	PublicKey  PublicKey `json:"pubkey"`
	IsSigner   bool      `json:"is_signer"`
	IsWritable bool      `json:"is_writable"`
}

// Instruction is opaque to the pipeline: program, accounts and data are
// produced by protocol adapters.
type Instruction struct {
	ProgramID PublicKey     `json:"program_id"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      []byte        `json:"data"`
}

// Commitment is the confirmation level requested from the node.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// Satisfies reports whether c is at least as strong as required.
func (c Commitment) Satisfies(required Commitment) bool {
	return c.rank() >= required.rank() && c.rank() > 0
}

func ParseCommitment(v string) (Commitment, error) {
	c := Commitment(strings.ToLower(strings.TrimSpace(v)))
	if c == "" {
		return CommitmentConfirmed, nil
	}
	if c.rank() == 0 {
		return "", fmt.Errorf("unsupported commitment %q (expected processed|confirmed|finalized)", v)
	}
	return c, nil
}
