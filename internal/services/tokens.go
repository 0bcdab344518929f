package services

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math/big"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	rememberPartLength = 128
	rememberSeparator  = "."
	alnumAlphabet      = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// passwordCost is lowered by tests.
var passwordCost = bcrypt.DefaultCost

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func verifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// burnPasswordCheck spends the same work as a real verification so unknown
// identifiers are not distinguishable by timing.
func burnPasswordCheck(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("savage-placeholder"), passwordCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

func genAlnumString(n int) (string, error) {
	limit := big.NewInt(int64(len(alnumAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(alnumAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func tokenMatches(token, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(hashToken(token)), []byte(digest)) == 1
}

// splitRememberValue parses "identifier.token".
func splitRememberValue(value string) (identifier, token string, ok bool) {
	identifier, token, found := strings.Cut(value, rememberSeparator)
	if !found || identifier == "" || token == "" {
		return "", "", false
	}
	return identifier, token, true
}
