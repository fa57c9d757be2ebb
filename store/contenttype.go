package store

import "strings"

// DefaultContentType is used when a stream is created without an explicit
// Content-Type header.
const DefaultContentType = "application/octet-stream"

// NormalizeContentType strips any parameters (";charset=..." etc.) from a
// Content-Type value, trims surrounding whitespace, and lowercases the
// result. Two content types are considered equal for stream-identity and
// append-type-checking purposes iff their normalized forms match.
func NormalizeContentType(ct string) string {
	if ct == "" {
		return DefaultContentType
	}
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// ContentTypeMatches compares two content types for stream-identity purposes,
// normalizing both sides first.
func ContentTypeMatches(a, b string) bool {
	return NormalizeContentType(a) == NormalizeContentType(b)
}

// IsJSONContentType returns true if ct normalizes to "application/json".
func IsJSONContentType(ct string) bool {
	return NormalizeContentType(ct) == "application/json"
}

// ExtractMediaType returns the content type with any ";param=..." suffix
// removed, preserving case, for callers that need the original-case media
// type rather than the fully normalized form.
func ExtractMediaType(ct string) string {
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		return ct[:idx]
	}
	return ct
}
