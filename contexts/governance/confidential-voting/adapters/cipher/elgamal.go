package cipher

import (
	"context"
	"errors"
	"fmt"

	"concord/contexts/governance/confidential-voting/domain/entities"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
	"concord/contexts/governance/confidential-voting/ports"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/sign/schnorr"
)

// DefaultMaxPlaintext bounds the discrete-log search on decryption. Tallies
// are sums of member weights, so this covers a thousand members at full
// weight.
const DefaultMaxPlaintext = 1 << 20

var (
	errNoSecret          = errors.New("elgamal backend has no secret key")
	errPlaintextTooLarge = errors.New("decrypted value exceeds the plaintext search bound")
)

// ElGamal is exponential ElGamal: Enc(m) = (rG, mG + rX). Adding
// ciphertexts adds plaintexts. Decryption recovers mG and searches for m.
type ElGamal struct {
	suite        *edwards25519.SuiteEd25519
	public       kyber.Point
	secret       kyber.Scalar
	MaxPlaintext uint64
}

// GenerateElGamal creates a backend with a fresh key pair.
func GenerateElGamal() (*ElGamal, error) {
	suite := edwards25519.NewBlakeSHA256Ed25519()
	secret := suite.Scalar().Pick(suite.RandomStream())
	return &ElGamal{
		suite:        suite,
		public:       suite.Point().Mul(secret, nil),
		secret:       secret,
		MaxPlaintext: DefaultMaxPlaintext,
	}, nil
}

// ElGamalFromSecret restores a backend from a marshaled secret scalar.
func ElGamalFromSecret(raw []byte) (*ElGamal, error) {
	suite := edwards25519.NewBlakeSHA256Ed25519()
	secret := suite.Scalar()
	if err := secret.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decode elgamal secret key: %w", err)
	}
	return &ElGamal{
		suite:        suite,
		public:       suite.Point().Mul(secret, nil),
		secret:       secret,
		MaxPlaintext: DefaultMaxPlaintext,
	}, nil
}

// SecretKey marshals the secret scalar for ElGamalFromSecret.
func (e *ElGamal) SecretKey() ([]byte, error) {
	if e.secret == nil {
		return nil, errNoSecret
	}
	return e.secret.MarshalBinary()
}

// PublicOnly returns a copy that can evaluate and verify but not decrypt.
func (e *ElGamal) PublicOnly() *ElGamal {
	return &ElGamal{suite: e.suite, public: e.public, MaxPlaintext: e.MaxPlaintext}
}

func (e *ElGamal) PublicKey() ([]byte, error) {
	return e.public.MarshalBinary()
}

func (e *ElGamal) Name() string {
	return BackendElGamal
}

func (e *ElGamal) Constant(_ context.Context, value uint64) (entities.Ciphertext, error) {
	k := e.suite.Point().Null()
	c := e.suite.Point().Mul(e.scalar(value), nil)
	return e.encode(k, c)
}

func (e *ElGamal) Add(_ context.Context, a entities.Ciphertext, b entities.Ciphertext) (entities.Ciphertext, error) {
	ka, ca, err := e.decode(a)
	if err != nil {
		return nil, err
	}
	kb, cb, err := e.decode(b)
	if err != nil {
		return nil, err
	}
	return e.encode(e.suite.Point().Add(ka, kb), e.suite.Point().Add(ca, cb))
}

func (e *ElGamal) Neg(_ context.Context, a entities.Ciphertext) (entities.Ciphertext, error) {
	k, c, err := e.decode(a)
	if err != nil {
		return nil, err
	}
	return e.encode(e.suite.Point().Neg(k), e.suite.Point().Neg(c))
}

func (e *ElGamal) ScalarMul(_ context.Context, a entities.Ciphertext, factor uint64) (entities.Ciphertext, error) {
	k, c, err := e.decode(a)
	if err != nil {
		return nil, err
	}
	s := e.scalar(factor)
	return e.encode(e.suite.Point().Mul(s, k), e.suite.Point().Mul(s, c))
}

// EncryptChoice encrypts 0 or 1 and proves it. The proof is a Schnorr
// signature under the encryption randomness, followed by a disjunctive
// Chaum-Pedersen proof that the plaintext is 0 or 1. Both are bound to the
// resolution and member.
func (e *ElGamal) EncryptChoice(_ context.Context, binding ports.InputBinding, yes bool) (entities.Ciphertext, []byte, error) {
	var bit uint64
	if yes {
		bit = 1
	}
	r := e.suite.Scalar().Pick(e.suite.RandomStream())
	k := e.suite.Point().Mul(r, nil)
	c := e.suite.Point().Add(
		e.suite.Point().Mul(e.scalar(bit), nil),
		e.suite.Point().Mul(r, e.public),
	)
	ciphertext, err := e.encode(k, c)
	if err != nil {
		return nil, nil, err
	}

	message := e.transcriptPrefix(binding, ciphertext)
	signature, err := schnorr.Sign(e.suite, r, message)
	if err != nil {
		return nil, nil, err
	}
	disjunction, err := e.proveBit(message, k, c, r, bit)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, append(signature, disjunction...), nil
}

func (e *ElGamal) VerifyInput(_ context.Context, binding ports.InputBinding, choice entities.Ciphertext, proof []byte) error {
	k, c, err := e.decode(choice)
	if err != nil {
		return err
	}
	signatureLen := e.suite.PointLen() + e.suite.ScalarLen()
	if len(proof) != signatureLen+4*e.suite.ScalarLen() {
		return domainerrors.ErrInvalidProof
	}
	message := e.transcriptPrefix(binding, choice)
	if err := schnorr.Verify(e.suite, k, message, proof[:signatureLen]); err != nil {
		return domainerrors.ErrInvalidProof
	}
	if !e.verifyBit(message, k, c, proof[signatureLen:]) {
		return domainerrors.ErrInvalidProof
	}
	return nil
}

func (e *ElGamal) Decrypt(ctx context.Context, ciphertext entities.Ciphertext) (uint64, error) {
	if e.secret == nil {
		return 0, errNoSecret
	}
	k, c, err := e.decode(ciphertext)
	if err != nil {
		return 0, err
	}
	target := e.suite.Point().Sub(c, e.suite.Point().Mul(e.secret, k))

	limit := e.MaxPlaintext
	if limit == 0 {
		limit = DefaultMaxPlaintext
	}
	base := e.suite.Point().Base()
	acc := e.suite.Point().Null()
	for m := uint64(0); m <= limit; m++ {
		if acc.Equal(target) {
			return m, nil
		}
		if m%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		acc = e.suite.Point().Add(acc, base)
	}
	return 0, errPlaintextTooLarge
}

// proveBit builds a two-branch OR proof for the statements
// "K = rG and C - jG = rX" with j in {0, 1}. The branch that does not hold is
// simulated.
func (e *ElGamal) proveBit(prefix []byte, k kyber.Point, c kyber.Point, r kyber.Scalar, bit uint64) ([]byte, error) {
	g := e.suite
	var (
		commitA [2]kyber.Point
		commitB [2]kyber.Point
		chal    [2]kyber.Scalar
		resp    [2]kyber.Scalar
	)
	held := int(bit)
	simulated := 1 - held

	chal[simulated] = g.Scalar().Pick(g.RandomStream())
	resp[simulated] = g.Scalar().Pick(g.RandomStream())
	commitA[simulated], commitB[simulated] = e.simulatedCommit(k, c, simulated, chal[simulated], resp[simulated])

	w := g.Scalar().Pick(g.RandomStream())
	commitA[held] = g.Point().Mul(w, nil)
	commitB[held] = g.Point().Mul(w, e.public)

	total, err := e.challenge(prefix, commitA, commitB)
	if err != nil {
		return nil, err
	}
	chal[held] = g.Scalar().Sub(total, chal[simulated])
	resp[held] = g.Scalar().Add(w, g.Scalar().Mul(chal[held], r))

	out := make([]byte, 0, 4*g.ScalarLen())
	for _, s := range []kyber.Scalar{chal[0], chal[1], resp[0], resp[1]} {
		raw, err := s.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, raw...)
	}
	return out, nil
}

func (e *ElGamal) verifyBit(prefix []byte, k kyber.Point, c kyber.Point, proof []byte) bool {
	g := e.suite
	size := g.ScalarLen()
	scalars := make([]kyber.Scalar, 4)
	for i := range scalars {
		scalars[i] = g.Scalar()
		if err := scalars[i].UnmarshalBinary(proof[i*size : (i+1)*size]); err != nil {
			return false
		}
	}
	chal := [2]kyber.Scalar{scalars[0], scalars[1]}
	resp := [2]kyber.Scalar{scalars[2], scalars[3]}

	var commitA, commitB [2]kyber.Point
	for j := 0; j < 2; j++ {
		commitA[j], commitB[j] = e.simulatedCommit(k, c, j, chal[j], resp[j])
	}
	total, err := e.challenge(prefix, commitA, commitB)
	if err != nil {
		return false
	}
	return g.Scalar().Add(chal[0], chal[1]).Equal(total)
}

// simulatedCommit recomputes A = zG - cK and B = zX - c(C - jG).
func (e *ElGamal) simulatedCommit(
	k kyber.Point,
	c kyber.Point,
	j int,
	chal kyber.Scalar,
	resp kyber.Scalar,
) (kyber.Point, kyber.Point) {
	g := e.suite
	shifted := g.Point().Sub(c, g.Point().Mul(g.Scalar().SetInt64(int64(j)), nil))
	a := g.Point().Sub(g.Point().Mul(resp, nil), g.Point().Mul(chal, k))
	b := g.Point().Sub(g.Point().Mul(resp, e.public), g.Point().Mul(chal, shifted))
	return a, b
}

func (e *ElGamal) challenge(prefix []byte, commitA [2]kyber.Point, commitB [2]kyber.Point) (kyber.Scalar, error) {
	transcript := append([]byte(nil), prefix...)
	for _, p := range []kyber.Point{commitA[0], commitB[0], commitA[1], commitB[1]} {
		raw, err := p.MarshalBinary()
		if err != nil {
			return nil, err
		}
		transcript = append(transcript, raw...)
	}
	return e.suite.Scalar().Pick(e.suite.XOF(transcript)), nil
}

func (e *ElGamal) transcriptPrefix(binding ports.InputBinding, ciphertext entities.Ciphertext) []byte {
	out := []byte("concord/elgamal-input/v1")
	public, _ := e.public.MarshalBinary()
	out = append(out, public...)
	out = append(out, bindingBytes(binding)...)
	return append(out, ciphertext...)
}

func (e *ElGamal) scalar(value uint64) kyber.Scalar {
	return e.suite.Scalar().SetInt64(int64(value))
}

func (e *ElGamal) encode(k kyber.Point, c kyber.Point) (entities.Ciphertext, error) {
	rawK, err := k.MarshalBinary()
	if err != nil {
		return nil, err
	}
	rawC, err := c.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(rawK, rawC...), nil
}

func (e *ElGamal) decode(ciphertext entities.Ciphertext) (kyber.Point, kyber.Point, error) {
	size := e.suite.PointLen()
	if len(ciphertext) != 2*size {
		return nil, nil, domainerrors.ErrInvalidCiphertext
	}
	k := e.suite.Point()
	if err := k.UnmarshalBinary(ciphertext[:size]); err != nil {
		return nil, nil, domainerrors.ErrInvalidCiphertext
	}
	c := e.suite.Point()
	if err := c.UnmarshalBinary(ciphertext[size:]); err != nil {
		return nil, nil, domainerrors.ErrInvalidCiphertext
	}
	return k, c, nil
}

var _ Backend = (*ElGamal)(nil)
