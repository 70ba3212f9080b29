package platform

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

const secretBytes = 32

// NewID returns a random UUID string used as primary key for every record.
func NewID() string {
	return uuid.New().String()
}

// NewSecret returns a 64-character hex secret suitable for an origin API key.
func NewSecret() string {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// NewSuffix returns a short random hex string for temporary file names.
func NewSuffix() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return hex.EncodeToString(b)
}
