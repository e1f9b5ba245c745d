package namefmt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyAcceptsOrdinaryName(t *testing.T) {
	assert.True(t, Verify("alice-home-backup"))
}

func TestVerifyRejectsForbiddenCharacters(t *testing.T) {
	assert.False(t, Verify("alice/home"))
	assert.False(t, Verify("alice:home"))
	assert.False(t, Verify("alice home"))
}

func TestVerifyRejectsEmpty(t *testing.T) {
	assert.False(t, Verify(""))
}

func TestVerifyRejectsOverlength(t *testing.T) {
	assert.False(t, Verify(strings.Repeat("a", MaxLen)))
}

func TestCookUncookRoundTrip(t *testing.T) {
	assert.Equal(t, "foo", Uncook(Cook("foo")))
}
