package storcert

import (
	"math/rand"
	"strings"

	uuid "github.com/satori/go.uuid"
)

// maxRunID bounds the seed handed to the block test tool.
const maxRunID = 100000

// NewLabel returns a name label for an object the harness creates, such as
// "storcert-test-vdi-1b4e28ba". The suffix keeps labels from parallel or
// leaked runs apart.
func NewLabel(prefix string) string {
	id := uuid.NewV4().String()
	return prefix + "-" + id[:8]
}

// IsLabel - was label produced by NewLabel(prefix).
func IsLabel(prefix, label string) bool {
	if !strings.HasPrefix(label, prefix+"-") {
		return false
	}

	return len(label) == len(prefix)+9 //nolint:gomnd
}

// NewSessionID returns a random id for a whole certification run.
func NewSessionID() string {
	return uuid.NewV4().String()
}

// NewRunID returns the random seed for one block test tool run, so
// repeated runs on the same device do not write identical data.
func NewRunID() int {
	return rand.Intn(maxRunID + 1) //nolint:gosec
}
