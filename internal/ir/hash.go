package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
)

// Domain prefixes for content-addressed digests.
// The version suffix allows a future algorithm migration.
const (
	DomainCandidateSet   = "famlink/candidate-set/v1"
	DomainSectionContent = "famlink/section-content/v1"
	DomainLineage        = "famlink/lineage/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CandidateSetHash digests the sorted identity keys of a candidate set.
// The result does not depend on the order keys are passed in; duplicate keys
// are collapsed.
func CandidateSetHash(keys []TargetKey) (string, error) {
	sorted := slices.Clone(keys)
	slices.SortFunc(sorted, func(a, b TargetKey) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	sorted = slices.Compact(sorted)

	canonical, err := MarshalCanonical(sorted)
	if err != nil {
		return "", fmt.Errorf("CandidateSetHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCandidateSet, canonical), nil
}

// ContentHash digests section text so unchanged sections can be skipped.
func ContentHash(text string) string {
	canonical, err := MarshalCanonical(text)
	if err != nil {
		// Strings always marshal.
		panic(err)
	}
	return hashWithDomain(DomainSectionContent, canonical)
}

// LineageDigest digests an arbitrary canonical value for synthetic lineage
// values. Returns the first n hex characters.
func LineageDigest(v any, n int) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("LineageDigest: failed to marshal: %w", err)
	}
	sum := hashWithDomain(DomainLineage, canonical)
	if n > 0 && n < len(sum) {
		sum = sum[:n]
	}
	return sum, nil
}

// MustCandidateSetHash is like CandidateSetHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCandidateSetHash(keys []TargetKey) string {
	h, err := CandidateSetHash(keys)
	if err != nil {
		panic(err)
	}
	return h
}
