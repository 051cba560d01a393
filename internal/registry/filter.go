package registry

import "strings"

// FilterType tags a Filter's matching semantics. The wire values
// (1, 2, 3) are part of the protocol and must not be renumbered.
type FilterType int

const (
	FilterMatch  FilterType = 1
	FilterAction FilterType = 2
	FilterPrefix FilterType = 3
)

// Filter is a single per-client predicate on a notification payload
// ("ACTION ARG"). A client with zero filters matches nothing.
type Filter struct {
	Type FilterType
	Body string
}

// Matches implements the three filter semantics against a full
// notification payload.
func (f Filter) Matches(payload string) bool {
	switch f.Type {
	case FilterMatch:
		return payload == f.Body
	case FilterAction:
		// body is a literal prefix of the payload of length len(body).
		return strings.HasPrefix(payload, f.Body)
	case FilterPrefix:
		// body must equal the action token exactly: the payload must
		// start with body followed by a space (or be exactly body with
		// nothing after it is NOT a match — the match must end at a
		// space boundary).
		if !strings.HasPrefix(payload, f.Body) {
			return false
		}
		rest := payload[len(f.Body):]
		return len(rest) > 0 && rest[0] == ' '
	default:
		return false
	}
}
