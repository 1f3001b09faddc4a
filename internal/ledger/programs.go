package ledger

import "encoding/binary"

var (
	SystemProgramID        = PublicKey{}
	ComputeBudgetProgramID = MustPublicKey("ComputeBudget111111111111111111111111111111")
)

const (
	computeBudgetSetUnitLimit = 2
	computeBudgetSetUnitPrice = 3
	systemTransfer            = 2
)

func SetComputeUnitLimit(units uint32) Instruction {
	data := make([]byte, 5)
	data[0] = computeBudgetSetUnitLimit
	binary.LittleEndian.PutUint32(data[1:], units)
	return Instruction{ProgramID: ComputeBudgetProgramID, Accounts: []AccountMeta{}, Data: data}
}

// SetComputeUnitPrice sets the priority fee in micro-lamports per compute unit.
func SetComputeUnitPrice(microLamports uint64) Instruction {
	data := make([]byte, 9)
	data[0] = computeBudgetSetUnitPrice
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return Instruction{ProgramID: ComputeBudgetProgramID, Accounts: []AccountMeta{}, Data: data}
}

func IsComputeBudget(ix Instruction) bool {
	return ix.ProgramID == ComputeBudgetProgramID
}

func SystemTransfer(from, to PublicKey, lamports uint64) Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[:4], systemTransfer)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{PublicKey: from, IsSigner: true, IsWritable: true},
			{PublicKey: to, IsWritable: true},
		},
		Data: data,
	}
}
