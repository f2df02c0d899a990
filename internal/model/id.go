package model

import (
	"github.com/btcsuite/btcutil/base58"
	"github.com/google/uuid"
)

// CreateID returns a random v4 uuid in base58, e.g. 4fJ9kQzB3nYtV8uXc2LmRa.
func CreateID() string {
	id := uuid.New()
	return base58.Encode(id[:])
}
