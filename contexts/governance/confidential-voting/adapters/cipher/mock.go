package cipher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"concord/contexts/governance/confidential-voting/domain/entities"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
	"concord/contexts/governance/confidential-voting/ports"
)

var mockMagic = []byte("CMK1")

const mockCiphertextLen = 12

var errNegativePlaintext = errors.New("ciphertext decrypts to a negative value")

// Mock carries a signed 64-bit plaintext inside a tagged envelope. Its proof
// is a hash binding the ciphertext to resolution and member.
type Mock struct{}

func NewMock() Mock {
	return Mock{}
}

func (Mock) Name() string {
	return BackendMock
}

func (Mock) PublicKey() ([]byte, error) {
	return nil, nil
}

func (Mock) Constant(_ context.Context, value uint64) (entities.Ciphertext, error) {
	return encodeMock(int64(value)), nil
}

func (Mock) Add(_ context.Context, a entities.Ciphertext, b entities.Ciphertext) (entities.Ciphertext, error) {
	x, err := decodeMock(a)
	if err != nil {
		return nil, err
	}
	y, err := decodeMock(b)
	if err != nil {
		return nil, err
	}
	return encodeMock(x + y), nil
}

func (Mock) Neg(_ context.Context, a entities.Ciphertext) (entities.Ciphertext, error) {
	x, err := decodeMock(a)
	if err != nil {
		return nil, err
	}
	return encodeMock(-x), nil
}

func (Mock) ScalarMul(_ context.Context, a entities.Ciphertext, k uint64) (entities.Ciphertext, error) {
	x, err := decodeMock(a)
	if err != nil {
		return nil, err
	}
	return encodeMock(x * int64(k)), nil
}

func (m Mock) VerifyInput(_ context.Context, binding ports.InputBinding, choice entities.Ciphertext, proof []byte) error {
	value, err := decodeMock(choice)
	if err != nil {
		return err
	}
	if value != 0 && value != 1 {
		return domainerrors.ErrInvalidProof
	}
	if !bytes.Equal(proof, mockProof(binding, choice)) {
		return domainerrors.ErrInvalidProof
	}
	return nil
}

func (m Mock) EncryptChoice(_ context.Context, binding ports.InputBinding, yes bool) (entities.Ciphertext, []byte, error) {
	var value int64
	if yes {
		value = 1
	}
	ciphertext := encodeMock(value)
	return ciphertext, mockProof(binding, ciphertext), nil
}

func (Mock) Decrypt(_ context.Context, ciphertext entities.Ciphertext) (uint64, error) {
	value, err := decodeMock(ciphertext)
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, errNegativePlaintext
	}
	return uint64(value), nil
}

func encodeMock(value int64) entities.Ciphertext {
	out := make([]byte, mockCiphertextLen)
	copy(out, mockMagic)
	binary.BigEndian.PutUint64(out[len(mockMagic):], uint64(value))
	return out
}

func decodeMock(ciphertext entities.Ciphertext) (int64, error) {
	if len(ciphertext) != mockCiphertextLen || !bytes.Equal(ciphertext[:len(mockMagic)], mockMagic) {
		return 0, domainerrors.ErrInvalidCiphertext
	}
	return int64(binary.BigEndian.Uint64(ciphertext[len(mockMagic):])), nil
}

func mockProof(binding ports.InputBinding, ciphertext entities.Ciphertext) []byte {
	h := sha256.New()
	h.Write([]byte("concord/mock-input/v1"))
	h.Write(bindingBytes(binding))
	h.Write(ciphertext)
	return h.Sum(nil)
}

func bindingBytes(binding ports.InputBinding) []byte {
	out := make([]byte, 8, 8+len(binding.MemberID))
	binary.BigEndian.PutUint64(out, uint64(binding.ResolutionID))
	return append(out, binding.MemberID...)
}

var _ Backend = Mock{}
