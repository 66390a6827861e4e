package dispatch

import (
	"strings"

	"github.com/laurentenhoor/devclaw/internal/config"
)

var simpleKeywords = []string{
	"typo", "rename", "minor", "small", "css", "style", "copy", "wording", "change color",
}

var complexKeywords = []string{
	"architect", "refactor", "redesign", "system-wide", "migration",
	"database schema", "security", "performance", "infrastructure", "multi-service",
}

// LevelFromLabels parses an explicit level off the issue labels. Accepted
// forms are "<role>.<level>" and a bare level name; aliases canonicalize.
// Returns "" when no label names a level the role actually has.
func LevelFromLabels(labels []string, role string, rc *config.RoleConfig) string {
	if rc == nil {
		return ""
	}
	for _, label := range labels {
		candidate := label
		if prefix := role + "."; strings.HasPrefix(label, prefix) {
			candidate = strings.TrimPrefix(label, prefix)
		}
		level := config.CanonicalLevel(strings.ToLower(candidate))
		if rc.HasLevel(level) {
			return level
		}
	}
	return ""
}

// SelectLevel estimates task difficulty from the issue text. Single-level
// roles always get that level; two-level roles only decide complex or not.
func SelectLevel(title, description string, rc *config.RoleConfig) string {
	if rc == nil {
		return ""
	}
	switch len(rc.Levels) {
	case 0:
		return rc.DefaultLevel
	case 1:
		return rc.Levels[0]
	}

	text := strings.ToLower(title + " " + description)
	words := len(strings.Fields(text))

	complex := words > 500
	if !complex {
		for _, kw := range complexKeywords {
			if strings.Contains(text, kw) {
				complex = true
				break
			}
		}
	}
	if complex {
		return rc.HighestLevel()
	}

	if len(rc.Levels) == 2 {
		return rc.LowestLevel()
	}

	if words < 100 {
		for _, kw := range simpleKeywords {
			if strings.Contains(text, kw) {
				return rc.LowestLevel()
			}
		}
	}
	return rc.DefaultLevel
}
