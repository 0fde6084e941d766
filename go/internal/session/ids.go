package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	idLength   = 6
	idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewSessionID returns a random 6 character base-36 id
func NewSessionID() (string, error) {
	max := big.NewInt(int64(len(idAlphabet)))

	var b strings.Builder
	b.Grow(idLength)
	for i := 0; i < idLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate session id: %w", err)
		}
		b.WriteByte(idAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeSessionID uppercases id and checks it against the id format
func NormalizeSessionID(id string) (string, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if len(id) != idLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	for i := 0; i < len(id); i++ {
		if strings.IndexByte(idAlphabet, id[i]) < 0 {
			return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
		}
	}
	return id, nil
}
