package storcert_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"machinerun.io/storcert"
)

func TestNewLabel(t *testing.T) {
	matcher := regexp.MustCompile("^storcert-vdi-[0-9a-f]{8}$")
	label := storcert.NewLabel("storcert-vdi")

	if !matcher.MatchString(label) {
		t.Errorf("label %s did not match %s", label, matcher)
	}

	assert.True(t, storcert.IsLabel("storcert-vdi", label))
	assert.False(t, storcert.IsLabel("other", label))
	assert.False(t, storcert.IsLabel("storcert-vdi", "storcert-vdi-1"))
	assert.NotEqual(t, label, storcert.NewLabel("storcert-vdi"))
}

func TestNewRunID(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id := storcert.NewRunID()
		if id < 0 || id > 100000 {
			t.Fatalf("run id %d out of range", id)
		}
	}
}

func TestNewSessionID(t *testing.T) {
	guidfmt := "^[0-9a-f]{8}-([0-9a-f]{4}-){3}[0-9a-f]{12}$"
	assert.Regexp(t, guidfmt, storcert.NewSessionID())
}
