package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetIncludeExcludeGlob(t *testing.T) {
	s, err := CompileSet([]string{"20260101-*"}, []string{"*-bob"}, Glob)
	require.NoError(t, err)
	assert.True(t, s.Matches("20260101-120000-alice"))
	assert.False(t, s.Matches("20260101-120000-bob"))
	assert.False(t, s.Matches("20260202-120000-alice"))
}

func TestSetNoIncludeMeansAllPass(t *testing.T) {
	s, err := CompileSet(nil, []string{"*-bob"}, Glob)
	require.NoError(t, err)
	assert.True(t, s.Matches("anything"))
	assert.False(t, s.Matches("x-bob"))
}

func TestSetRegexSyntax(t *testing.T) {
	s, err := CompileSet([]string{"^2026.*alice$"}, nil, Regex)
	require.NoError(t, err)
	assert.True(t, s.Matches("20260101-120000-alice"))
	assert.False(t, s.Matches("20260101-120000-bob"))
}

func TestIsCtfileName(t *testing.T) {
	assert.True(t, IsCtfileName("20260101-120000-alice"))
	assert.False(t, IsCtfileName("not-a-ctfile"))
}

func TestFilterCtfileNames(t *testing.T) {
	in := []string{"20260101-120000-alice", "README", "20260202-080000-bob"}
	assert.Equal(t, []string{"20260101-120000-alice", "20260202-080000-bob"}, FilterCtfileNames(in))
}
