package record

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	idAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	idSuffixLength = 7
)

// GenerateID returns a fresh id for a local record: the type prefix followed
// by seven characters from [A-Z0-9]. Uniqueness is enforced by the store.
func GenerateID(t Type) (string, error) {
	buf := make([]byte, idSuffixLength)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate id: %w", err)
		}
		buf[i] = idAlphabet[n.Int64()]
	}
	return t.IDPrefix() + string(buf), nil
}
