package game

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const (
	SessionIDLength = 6
	sessionIDChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewSessionID returns a random 6-character uppercase alphanumeric code.
func NewSessionID() (string, error) {
	code := make([]byte, SessionIDLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(sessionIDChars))))
		if err != nil {
			return "", err
		}
		code[i] = sessionIDChars[num.Int64()]
	}
	return string(code), nil
}

func NewPlayerID() string { return uuid.NewString() }

func NewMessageID() string { return uuid.NewString() }

var (
	playerColors  = []string{"bg-blue-500", "bg-red-500", "bg-green-500", "bg-yellow-500", "bg-purple-500", "bg-pink-500"}
	playerAvatars = []string{"🧙‍♂️", "🦸‍♀️", "🤖", "🐉", "🦄", "🎭"}
)

func PlayerColors() []string  { return append([]string(nil), playerColors...) }
func PlayerAvatars() []string { return append([]string(nil), playerAvatars...) }
