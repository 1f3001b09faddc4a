package signer

import "github.com/ggonzalez94/solagent/internal/ledger"

// Signer is the signing authority handed to the execution engine. The engine
// treats it opaquely.
type Signer interface {
	PublicKey() ledger.PublicKey
	SignMessage(message []byte) (ledger.Signature, error)
}

var _ ledger.MessageSigner = Signer(nil)
