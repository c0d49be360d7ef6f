package lorawan

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrJoinNonceExhausted is returned when a counter nonce would wrap.
var ErrJoinNonceExhausted = errors.New("join nonce exhausted")

// NonceSource issues server nonces. last is the nonce issued by the previous
// join of the device, or nil if there was none.
type NonceSource interface {
	Next(last *JoinNonce) (JoinNonce, error)
}

// RandomNonceSource draws three random bytes per join.
type RandomNonceSource struct {
	Reader io.Reader
}

// Next implements NonceSource.
func (s RandomNonceSource) Next(_ *JoinNonce) (JoinNonce, error) {
	var n JoinNonce
	r := s.Reader
	if r == nil {
		r = rand.Reader
	}
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return n, fmt.Errorf("read random nonce: %w", err)
	}
	return n, nil
}

// CounterNonceSource issues the previous nonce plus one, starting at 1.
type CounterNonceSource struct{}

// Next implements NonceSource.
func (CounterNonceSource) Next(last *JoinNonce) (JoinNonce, error) {
	if last == nil {
		return JoinNonceFromUint32(1), nil
	}
	v := last.Uint32()
	if v >= 0xffffff {
		return JoinNonce{}, ErrJoinNonceExhausted
	}
	return JoinNonceFromUint32(v + 1), nil
}
