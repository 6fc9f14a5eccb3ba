package util

import (
	"crypto/rand"
	"math/big"
)

// roomCodeAlphabet omits characters that are easy to misread over voice or
// chat (0/O, 1/I/L).
const roomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// RoomCode returns a random shareable room code of the given length.
func RoomCode(length int) string {
	code := make([]byte, length)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(roomCodeAlphabet))))
		code[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(code)
}
