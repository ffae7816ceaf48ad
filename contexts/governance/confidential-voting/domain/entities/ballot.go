package entities

import "time"

// Ciphertext is an opaque encrypted quantity produced and consumed only by the
// homomorphic capability. The domain never interprets its bytes.
type Ciphertext []byte

func (c Ciphertext) Clone() Ciphertext {
	if c == nil {
		return nil
	}
	out := make(Ciphertext, len(c))
	copy(out, c)
	return out
}

// Ballot is the latest confidential choice of one member on one resolution.
// YesShare and NoShare are the weighted contributions currently folded into
// the resolution tallies; a replacement vote subtracts them first.
type Ballot struct {
	ResolutionID int64
	MemberID     string
	Choice       Ciphertext
	Weight       uint32
	YesShare     Ciphertext
	NoShare      Ciphertext
	CastCount    int
	CastAt       time.Time
	UpdatedAt    time.Time
}
