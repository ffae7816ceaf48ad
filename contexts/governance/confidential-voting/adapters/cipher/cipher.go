// Package cipher provides the homomorphic backends behind ballot tallies.
//
// Two backends exist. "mock" encodes plaintexts in the clear behind an opaque
// envelope and is used for deterministic tests and local runs. "elgamal" is
// exponential ElGamal on Ed25519: additively homomorphic, with input proofs
// that a ballot encrypts 0 or 1 and was produced for a specific resolution
// and member.
package cipher

import (
	"context"
	"fmt"
	"strings"

	"concord/contexts/governance/confidential-voting/domain/entities"
	"concord/contexts/governance/confidential-voting/ports"
)

const (
	BackendMock    = "mock"
	BackendElGamal = "elgamal"
)

// Backend is everything one cryptosystem offers: the server-side evaluator
// and verifier, the client-side ballot encoder, and decryption for the oracle.
type Backend interface {
	ports.HomomorphicEvaluator
	ports.InputVerifier
	Name() string
	// PublicKey is what a client needs to encrypt ballots. The mock
	// backend has none.
	PublicKey() ([]byte, error)
	EncryptChoice(ctx context.Context, binding ports.InputBinding, yes bool) (entities.Ciphertext, []byte, error)
	Decrypt(ctx context.Context, ciphertext entities.Ciphertext) (uint64, error)
}

// New builds a backend by name. An ElGamal backend loads secretKey, or gets a
// fresh key pair when secretKey is empty.
func New(name string, secretKey []byte) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendMock:
		return NewMock(), nil
	case BackendElGamal:
		if len(secretKey) == 0 {
			return GenerateElGamal()
		}
		return ElGamalFromSecret(secretKey)
	default:
		return nil, fmt.Errorf("unknown cipher backend %q", name)
	}
}
