// Package commit computes the commitment hashes recorded with each credential.
// Every commitment for one issuance is derived from the same
// (issuer, subject, role, attribute, issuedAt, seq) tuple, each over a different
// subset of fields, so a verifier can confirm one claim without learning the rest.
package commit

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

func digest(fields ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

// Full commits to every field of the issuance.
func Full(issuer, subject, role string, attribute int64, issuedAt string, seq int64) string {
	return digest("full", issuer, subject, role, strconv.FormatInt(attribute, 10), issuedAt, strconv.FormatInt(seq, 10))
}

// Role omits the attribute, letting a verifier confirm the role claim alone.
func Role(issuer, subject, role, issuedAt string, seq int64) string {
	return digest("role", issuer, subject, role, issuedAt, strconv.FormatInt(seq, 10))
}

// Attribute omits the role.
func Attribute(issuer, subject string, attribute int64, issuedAt string, seq int64) string {
	return digest("attribute", issuer, subject, strconv.FormatInt(attribute, 10), issuedAt, strconv.FormatInt(seq, 10))
}

// AboveThreshold commits only to whether the attribute cleared the threshold,
// never to its value.
func AboveThreshold(issuer, subject string, above bool, issuedAt string, seq int64) string {
	return digest("threshold", issuer, subject, strconv.FormatBool(above), issuedAt, strconv.FormatInt(seq, 10))
}

// Metadata is the self-declared profile commitment. It is unrelated to the
// credential scheme above: a caller hashes (name, email) locally and the service
// recomputes the same hash from the stored profile.
func Metadata(name, email string) string {
	return digest("metadata", name, email)
}
