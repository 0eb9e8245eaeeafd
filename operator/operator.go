// Package operator defines the carrier an account is billed through.
package operator

import (
	"fmt"
	"strconv"
	"strings"
)

// Type selects the account suffix appended to the portal account identifier.
type Type int

const (
	Campus  Type = 0 // campus network, no suffix
	Telecom Type = 1
	Unicom  Type = 2
	CMCC    Type = 3
)

// Suffix returns the already percent-encoded account suffix. Panics on invalid value.
func (t Type) Suffix() string {
	switch t {
	case Campus:
		return ""
	case Telecom:
		return "%40telecom"
	case Unicom:
		return "%40unicom"
	case CMCC:
		return "%40cmcc"
	default:
		panic(fmt.Sprintf("invalid operator.Type: %d (must be Campus/Telecom/Unicom/CMCC)", t))
	}
}

// String returns the config name of the operator.
func (t Type) String() string {
	switch t {
	case Campus:
		return "campus"
	case Telecom:
		return "telecom"
	case Unicom:
		return "unicom"
	case CMCC:
		return "cmcc"
	default:
		return fmt.Sprintf("invalid(%d)", int(t))
	}
}

// Valid reports whether t is one of the known operators.
func (t Type) Valid() bool {
	return t >= Campus && t <= CMCC
}

// Parse accepts a config name ("campus", "telecom", "unicom", "cmcc")
// or the numeric index used by older configuration files.
func Parse(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "campus":
		return Campus, nil
	case "telecom":
		return Telecom, nil
	case "unicom":
		return Unicom, nil
	case "cmcc", "mobile":
		return CMCC, nil
	}

	if n, err := strconv.Atoi(s); err == nil && Type(n).Valid() {
		return Type(n), nil
	}
	return Campus, fmt.Errorf("unknown operator %q", s)
}
