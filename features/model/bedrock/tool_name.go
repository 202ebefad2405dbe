package bedrock

import (
	"crypto/sha256"
	"encoding/hex"
)

const (
	maxNameLen = 64
	hashLen    = 8
)

// SanitizeToolName maps a function name to a Bedrock compatible tool name.
//
// The mapping is deterministic. The result contains only [a-zA-Z0-9_-] (any
// other rune, including '.', becomes '_') and is at most 64 bytes long: longer
// names are truncated and suffixed with a stable hash so distinct inputs stay
// distinct. The adapter translates tool_use names back through the reverse map
// of the request.
func SanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	out := make([]byte, 0, len(in))
	for _, r := range in {
		if isSafeRune(r) {
			out = append(out, byte(r))
			continue
		}
		out = append(out, '_')
	}
	if len(out) <= maxNameLen {
		return string(out)
	}
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:hashLen]
	return string(out[:maxNameLen-1-hashLen]) + "_" + suffix
}

// safeToolUseID returns id when it already satisfies the Bedrock toolUseId
// constraints and a stable replacement otherwise.
func safeToolUseID(id string) string {
	if id == "" {
		return ""
	}
	safe := len(id) <= maxNameLen
	for _, r := range id {
		if !isSafeRune(r) {
			safe = false
			break
		}
	}
	if safe {
		return id
	}
	sum := sha256.Sum256([]byte(id))
	return "t_" + hex.EncodeToString(sum[:])[:16]
}

func isSafeRune(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '_' || r == '-'
}
