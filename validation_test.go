package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidSlug(t *testing.T) {
	for _, s := range []string{"ab", "akari", "arc-launch-2026"} {
		assert.True(t, isValidSlug(s), s)
	}
	for _, s := range []string{"", "a", "Akari", "-lead", "trail-", "two--dash", "sp ace"} {
		assert.False(t, isValidSlug(s), s)
	}
}

func TestNormalizeHandle(t *testing.T) {
	assert.Equal(t, "ada_l", normalizeHandle(" @Ada_L "))
	assert.Equal(t, "", normalizeHandle("@"))
	assert.Equal(t, "", normalizeHandle("this_handle_is_too_long"))
	assert.Equal(t, "", normalizeHandle("bad-char"))
}

func TestIsValidTxHash(t *testing.T) {
	assert.True(t, isValidTxHash("0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"))
	assert.False(t, isValidTxHash("short"))
	assert.False(t, isValidTxHash("0xabc def0123456789"))
}

func TestIsValidUUID(t *testing.T) {
	assert.True(t, isValidUUID("3f1e9a52-59a4-4c1e-9d55-2fd0d3c8a111"))
	assert.False(t, isValidUUID("not-a-uuid"))
}

func TestTrimTo(t *testing.T) {
	assert.Equal(t, "abc", trimTo("  abcdef ", 3))
	assert.Equal(t, "ab", trimTo("ab", 3))
}
