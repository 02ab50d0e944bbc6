package main

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	slugPattern   = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)
	txHashPattern = regexp.MustCompile(`^[A-Za-z0-9_:\-]{16,128}$`)
)

func isValidSlug(slug string) bool {
	return len(slug) >= 2 && len(slug) <= 64 && slugPattern.MatchString(slug)
}

// normalizeHandle strips a leading @ and lowercases an X handle. It returns "" when invalid.
func normalizeHandle(handle string) string {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if !handlePattern.MatchString(handle) {
		return ""
	}
	return strings.ToLower(handle)
}

func isValidUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func isValidTxHash(hash string) bool {
	return txHashPattern.MatchString(hash)
}

func trimTo(value string, max int) string {
	value = strings.TrimSpace(value)
	if len(value) > max {
		return value[:max]
	}
	return value
}
