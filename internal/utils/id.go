package utils

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// GenerateID returns 16 random hex characters.
func GenerateID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// RunID names a pipeline run: its UTC start time followed by a random
// suffix, so that IDs sort by start time.
func RunID(start time.Time) string {
	return start.UTC().Format("20060102T150405Z") + "-" + GenerateID()[:8]
}
