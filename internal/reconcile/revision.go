package reconcile

import "strings"

// IgnoreVersion is appended to synthesized revision ids. Backend-issued ids
// never end with it.
const IgnoreVersion = "0000000000000000000000000000000000000"

// Latest is the client alias for "no specific revision".
const Latest = "latest"

// SynthesizeRevision builds a revision id from a modification timestamp.
func SynthesizeRevision(modified string) string {
	return modified + IgnoreVersion
}

// IsMagicRevision reports a revision marker that means "latest".
func IsMagicRevision(revision string) bool {
	return strings.HasSuffix(revision, IgnoreVersion) || strings.EqualFold(revision, Latest)
}

// ParseSynthesized returns the timestamp a synthesized id was built from.
func ParseSynthesized(revision string) (modified string, ok bool) {
	if !strings.HasSuffix(revision, IgnoreVersion) {
		return "", false
	}
	return strings.TrimSuffix(revision, IgnoreVersion), true
}

// NormalizeRevision maps magic markers to "" so callers never send them to a backend.
func NormalizeRevision(revision string) string {
	revision = strings.TrimSpace(revision)
	if revision == "" || IsMagicRevision(revision) {
		return ""
	}
	return revision
}
