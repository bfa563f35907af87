package vision

import "strings"

// ModeKind selects which providers a request fans out to.
type ModeKind int

const (
	ModeBest ModeKind = iota
	ModeCheapest
	ModeCompare
	ModeSingle
)

const singlePrefix = "single:"

// Mode is a parsed request mode. Provider is set only for ModeSingle.
type Mode struct {
	Kind     ModeKind
	Provider string
}

// ParseMode reads "best", "cheapest", "compare" or "single:<provider>".
// Anything else, including an empty string, means best.
func ParseMode(s string) Mode {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	switch {
	case lower == "cheapest":
		return Mode{Kind: ModeCheapest}
	case lower == "compare":
		return Mode{Kind: ModeCompare}
	case strings.HasPrefix(lower, singlePrefix):
		return Mode{Kind: ModeSingle, Provider: strings.TrimSpace(s[len(singlePrefix):])}
	default:
		return Mode{Kind: ModeBest}
	}
}

func (m Mode) String() string {
	switch m.Kind {
	case ModeCheapest:
		return "cheapest"
	case ModeCompare:
		return "compare"
	case ModeSingle:
		return singlePrefix + m.Provider
	default:
		return "best"
	}
}
