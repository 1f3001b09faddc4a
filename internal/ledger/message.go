package ledger

import (
	"bytes"
	"errors"
	"fmt"
)

type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// Message is the signed payload of a legacy transaction.
type Message struct {
	Header          MessageHeader
	AccountKeys     []PublicKey
	RecentBlockhash Hash
	Instructions    []CompiledInstruction
}

type keyFlags struct {
	signer   bool
	writable bool
}

// CompileMessage orders accounts as signer-writable, signer-readonly,
// writable, readonly with the fee payer first, and indexes instructions
// against that table.
func CompileMessage(payer PublicKey, instructions []Instruction, blockhash Hash) (Message, error) {
	if payer.IsZero() {
		return Message{}, errors.New("compile message: missing fee payer")
	}
	if len(instructions) == 0 {
		return Message{}, errors.New("compile message: no instructions")
	}

	order := []PublicKey{payer}
	flags := map[PublicKey]*keyFlags{payer: {signer: true, writable: true}}
	add := func(k PublicKey, signer, writable bool) {
		f, ok := flags[k]
		if !ok {
			f = &keyFlags{}
			flags[k] = f
			order = append(order, k)
		}
		f.signer = f.signer || signer
		f.writable = f.writable || writable
	}
	for _, ix := range instructions {
		for _, meta := range ix.Accounts {
			add(meta.PublicKey, meta.IsSigner, meta.IsWritable)
		}
		add(ix.ProgramID, false, false)
	}

	var groups [4][]PublicKey
	for _, k := range order {
		f := flags[k]
		switch {
		case f.signer && f.writable:
			groups[0] = append(groups[0], k)
		case f.signer:
			groups[1] = append(groups[1], k)
		case f.writable:
			groups[2] = append(groups[2], k)
		default:
			groups[3] = append(groups[3], k)
		}
	}
	keys := make([]PublicKey, 0, len(order))
	for _, g := range groups {
		keys = append(keys, g...)
	}
	if len(keys) > 256 {
		return Message{}, fmt.Errorf("compile message: %d accounts exceeds limit", len(keys))
	}
	index := make(map[PublicKey]uint8, len(keys))
	for i, k := range keys {
		index[k] = uint8(i)
	}

	msg := Message{
		Header: MessageHeader{
			NumRequiredSignatures:       uint8(len(groups[0]) + len(groups[1])),
			NumReadonlySignedAccounts:   uint8(len(groups[1])),
			NumReadonlyUnsignedAccounts: uint8(len(groups[3])),
		},
		AccountKeys:     keys,
		RecentBlockhash: blockhash,
		Instructions:    make([]CompiledInstruction, 0, len(instructions)),
	}
	for _, ix := range instructions {
		compiled := CompiledInstruction{
			ProgramIDIndex: index[ix.ProgramID],
			Accounts:       make([]uint8, 0, len(ix.Accounts)),
			Data:           append([]byte(nil), ix.Data...),
		}
		for _, meta := range ix.Accounts {
			compiled.Accounts = append(compiled.Accounts, index[meta.PublicKey])
		}
		msg.Instructions = append(msg.Instructions, compiled)
	}
	return msg, nil
}

// Signers returns the account keys that must sign the message, in order.
func (m Message) Signers() []PublicKey {
	return m.AccountKeys[:m.Header.NumRequiredSignatures]
}

func (m Message) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.Header.NumRequiredSignatures)
	buf.WriteByte(m.Header.NumReadonlySignedAccounts)
	buf.WriteByte(m.Header.NumReadonlyUnsignedAccounts)
	writeCompactU16(&buf, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		buf.Write(k[:])
	}
	buf.Write(m.RecentBlockhash[:])
	writeCompactU16(&buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf.WriteByte(ix.ProgramIDIndex)
		writeCompactU16(&buf, len(ix.Accounts))
		buf.Write(ix.Accounts)
		writeCompactU16(&buf, len(ix.Data))
		buf.Write(ix.Data)
	}
	return buf.Bytes()
}

func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}
