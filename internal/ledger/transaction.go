package ledger

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
)

// MessageSigner produces an ed25519 signature over a serialized message.
type MessageSigner interface {
	PublicKey() PublicKey
	SignMessage(message []byte) (Signature, error)
}

// UnsignedTx is a transaction whose content may still change. Refreshing the
// time-bound yields a new UnsignedTx; only Sign produces something sendable.
type UnsignedTx struct {
	FeePayer     PublicKey
	Instructions []Instruction
	TimeBound    TimeBound
}

func NewUnsignedTx(feePayer PublicKey, instructions []Instruction, tb TimeBound) UnsignedTx {
	return UnsignedTx{
		FeePayer:     feePayer,
		Instructions: append([]Instruction(nil), instructions...),
		TimeBound:    tb,
	}
}

// WithTimeBound returns a copy committed to tb. Instructions are shared
// read-only and left untouched.
func (tx UnsignedTx) WithTimeBound(tb TimeBound) UnsignedTx {
	out := tx
	out.Instructions = append([]Instruction(nil), tx.Instructions...)
	out.TimeBound = tb
	return out
}

func (tx UnsignedTx) Message() (Message, error) {
	if tx.TimeBound.IsZero() {
		return Message{}, errors.New("transaction has no time-bound")
	}
	return CompileMessage(tx.FeePayer, tx.Instructions, tx.TimeBound.Blockhash)
}

// Sign compiles the message and collects one signature per required signer.
// Every required signer must be supplied.
func (tx UnsignedTx) Sign(signers ...MessageSigner) (SignedTx, error) {
	msg, err := tx.Message()
	if err != nil {
		return SignedTx{}, err
	}
	payload := msg.Serialize()
	byKey := make(map[PublicKey]MessageSigner, len(signers))
	for _, s := range signers {
		if s != nil {
			byKey[s.PublicKey()] = s
		}
	}
	required := msg.Signers()
	sigs := make([]Signature, len(required))
	for i, key := range required {
		s, ok := byKey[key]
		if !ok {
			return SignedTx{}, fmt.Errorf("missing signer for %s", key)
		}
		sig, err := s.SignMessage(payload)
		if err != nil {
			return SignedTx{}, fmt.Errorf("sign for %s: %w", key, err)
		}
		sigs[i] = sig
	}
	return SignedTx{unsigned: tx, message: payload, signatures: sigs}, nil
}

// SignedTx is immutable; it can only be obtained from UnsignedTx.Sign, so its
// signatures always cover its content.
type SignedTx struct {
	unsigned   UnsignedTx
	message    []byte
	signatures []Signature
}

func (tx SignedTx) IsZero() bool { return len(tx.signatures) == 0 }

// Signature is the fee payer's signature, which identifies the transaction.
func (tx SignedTx) Signature() Signature {
	if len(tx.signatures) == 0 {
		return Signature{}
	}
	return tx.signatures[0]
}

func (tx SignedTx) TimeBound() TimeBound { return tx.unsigned.TimeBound }

// Unsigned returns the content this transaction was signed over, for
// refreshing and re-signing on retry.
func (tx SignedTx) Unsigned() UnsignedTx { return tx.unsigned }

func (tx SignedTx) Serialize() []byte {
	var buf bytes.Buffer
	writeCompactU16(&buf, len(tx.signatures))
	for _, sig := range tx.signatures {
		buf.Write(sig[:])
	}
	buf.Write(tx.message)
	return buf.Bytes()
}

func (tx SignedTx) Base64() string {
	return base64.StdEncoding.EncodeToString(tx.Serialize())
}
