package ledger

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"testing"
)

type testSigner struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

func newTestSigner(seed byte) testSigner {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	var pub PublicKey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return testSigner{priv: priv, pub: pub}
}

func (s testSigner) PublicKey() PublicKey { return s.pub }

func (s testSigner) SignMessage(msg []byte) (Signature, error) {
	var sig Signature
	copy(sig[:], ed25519.Sign(s.priv, msg))
	return sig, nil
}

func testTimeBound(b byte, height uint64) TimeBound {
	var h Hash
	h[0] = b
	return TimeBound{Blockhash: h, LastValidBlockHeight: height}
}

func TestCompileMessageOrdersAccounts(t *testing.T) {
	payer := newTestSigner(1)
	dest := newTestSigner(2).PublicKey()
	ixs := []Instruction{SetComputeUnitLimit(200_000), SystemTransfer(payer.PublicKey(), dest, 5)}

	msg, err := CompileMessage(payer.PublicKey(), ixs, testTimeBound(9, 10).Blockhash)
	if err != nil {
		t.Fatalf("CompileMessage failed: %v", err)
	}
	if msg.Header.NumRequiredSignatures != 1 {
		t.Fatalf("expected one signer, got %d", msg.Header.NumRequiredSignatures)
	}
	if msg.AccountKeys[0] != payer.PublicKey() {
		t.Fatal("expected fee payer first")
	}
	if msg.AccountKeys[1] != dest {
		t.Fatalf("expected writable destination second, got %s", msg.AccountKeys[1])
	}
	// compute budget + system program are readonly unsigned
	if msg.Header.NumReadonlyUnsignedAccounts != 2 {
		t.Fatalf("expected two readonly programs, got %d", msg.Header.NumReadonlyUnsignedAccounts)
	}
	transfer := msg.Instructions[1]
	if got := binary.LittleEndian.Uint64(transfer.Data[4:]); got != 5 {
		t.Fatalf("unexpected lamports %d", got)
	}
}

func TestSignVerifiesAndRefreshRequiresResign(t *testing.T) {
	payer := newTestSigner(1)
	tx := NewUnsignedTx(payer.PublicKey(), []Instruction{SystemTransfer(payer.PublicKey(), newTestSigner(2).PublicKey(), 1)}, testTimeBound(1, 100))

	signed, err := tx.Sign(payer)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	msg, _ := tx.Message()
	sig := signed.Signature()
	if !ed25519.Verify(ed25519.PublicKey(payer.pub[:]), msg.Serialize(), sig[:]) {
		t.Fatal("signature does not verify over message")
	}

	refreshed := signed.Unsigned().WithTimeBound(testTimeBound(2, 200))
	resigned, err := refreshed.Sign(payer)
	if err != nil {
		t.Fatalf("re-sign failed: %v", err)
	}
	if resigned.Signature() == signed.Signature() {
		t.Fatal("expected a new signature after time-bound refresh")
	}
	if resigned.TimeBound().LastValidBlockHeight != 200 {
		t.Fatalf("expected refreshed height, got %d", resigned.TimeBound().LastValidBlockHeight)
	}
	if signed.TimeBound().LastValidBlockHeight != 100 {
		t.Fatal("refresh must not mutate the original signed transaction")
	}
	if len(refreshed.Instructions) != 1 || !bytes.Equal(refreshed.Instructions[0].Data, tx.Instructions[0].Data) {
		t.Fatal("refresh altered instructions")
	}
}

func TestSignMissingSigner(t *testing.T) {
	payer := newTestSigner(1)
	other := newTestSigner(3)
	tx := NewUnsignedTx(payer.PublicKey(), []Instruction{SystemTransfer(other.PublicKey(), payer.PublicKey(), 1)}, testTimeBound(1, 1))
	if _, err := tx.Sign(payer); err == nil {
		t.Fatal("expected missing signer error")
	}
	if _, err := tx.Sign(payer, other); err != nil {
		t.Fatalf("expected both signers to succeed: %v", err)
	}
}

func TestSignWithoutTimeBound(t *testing.T) {
	payer := newTestSigner(1)
	tx := NewUnsignedTx(payer.PublicKey(), []Instruction{SetComputeUnitPrice(1)}, TimeBound{})
	if _, err := tx.Sign(payer); err == nil {
		t.Fatal("expected error for missing time-bound")
	}
}

func TestCompactU16(t *testing.T) {
	cases := map[int][]byte{
		0:      {0x00},
		0x7f:   {0x7f},
		0x80:   {0x80, 0x01},
		0x3fff: {0xff, 0x7f},
	}
	for n, want := range cases {
		var buf bytes.Buffer
		writeCompactU16(&buf, n)
		if !bytes.Equal(buf.Bytes(), want) {
			t.Fatalf("compact(%d) = %x, want %x", n, buf.Bytes(), want)
		}
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	k := newTestSigner(7).PublicKey()
	parsed, err := ParsePublicKey(k.String())
	if err != nil || parsed != k {
		t.Fatalf("round trip failed: %v", err)
	}
	if SystemProgramID.String() != "11111111111111111111111111111111" {
		t.Fatalf("unexpected system program id %s", SystemProgramID)
	}
	if _, err := ParsePublicKey("abc"); err == nil {
		t.Fatal("expected short key error")
	}
}

func TestCommitmentSatisfies(t *testing.T) {
	if !CommitmentFinalized.Satisfies(CommitmentConfirmed) {
		t.Fatal("finalized should satisfy confirmed")
	}
	if CommitmentProcessed.Satisfies(CommitmentConfirmed) {
		t.Fatal("processed should not satisfy confirmed")
	}
	if Commitment("").Satisfies(CommitmentProcessed) {
		t.Fatal("empty commitment satisfies nothing")
	}
}
