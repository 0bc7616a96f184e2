package core

import "strings"

// FindingKind partitions significance findings.
type FindingKind int

const (
	// FindingPersonal is attributed to named agents' private memory.
	FindingPersonal FindingKind = iota + 1
	// FindingRumor is recorded location-wide.
	FindingRumor
)

func (k FindingKind) String() string {
	switch k {
	case FindingPersonal:
		return "PERSONAL"
	case FindingRumor:
		return "RUMOR"
	default:
		return "UNKNOWN"
	}
}

// Importance is the coarse tier selecting a textual prefix.
type Importance int

const (
	ImportanceLow Importance = iota
	ImportanceMedium
	ImportanceHigh
)

// ParseImportance maps LOW/MEDIUM/HIGH case-insensitively; anything else is Low.
func ParseImportance(s string) Importance {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return ImportanceHigh
	case "MEDIUM":
		return ImportanceMedium
	default:
		return ImportanceLow
	}
}

func (i Importance) String() string {
	switch i {
	case ImportanceHigh:
		return "HIGH"
	case ImportanceMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// PersonalPrefix is prepended to knowledge stored in an agent's context.
func (i Importance) PersonalPrefix() string {
	switch i {
	case ImportanceHigh:
		return "Important knowledge: "
	case ImportanceMedium:
		return "Notable memory: "
	default:
		return "Memory: "
	}
}

// RumorPrefix is prepended to rumors stored on a location.
func (i Importance) RumorPrefix() string {
	switch i {
	case ImportanceHigh:
		return "Major news: "
	case ImportanceMedium:
		return "Local rumor: "
	default:
		return "Minor gossip: "
	}
}

// Finding is one distilled piece of information from a finished session.
type Finding struct {
	Kind        FindingKind
	Target      string
	Importance  Importance
	Information string
}
