// Package policy decides whether an action may run for an identity, and
// records every dispatch in the audit log.
package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is a cumulative authorization level. Higher includes lower.
type Level int

const (
	ReadOnly Level = iota
	Communicate
	Modify
	Execute
	Admin
)

var levelNames = [...]string{"readonly", "communicate", "modify", "execute", "admin"}

func (l Level) String() string {
	if l < ReadOnly || l > Admin {
		return "level(" + strconv.Itoa(int(l)) + ")"
	}
	return levelNames[l]
}

// Valid reports whether l is one of the five defined levels.
func (l Level) Valid() bool {
	return l >= ReadOnly && l <= Admin
}

// ParseLevel accepts a level name (case-insensitive) or its number.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if l := Level(n); l.Valid() {
			return l, nil
		}
		return 0, fmt.Errorf("permission level %d out of range 0-4", n)
	}
	for i, name := range levelNames {
		if s == name || (s == "read_only" && i == 0) {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("unknown permission level %q", s)
}

// DefaultRequiredLevels is the level each built-in domain needs.
var DefaultRequiredLevels = map[string]Level{
	"browser":   ReadOnly,
	"email":     Communicate,
	"files":     Modify,
	"notes":     Modify,
	"scheduler": Modify,
	"shell":     Execute,
}
