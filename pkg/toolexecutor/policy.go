package toolexecutor

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// ToolPolicy restricts which tools a caller may run. Deny rules win over
// allow rules; an empty allow list means every tool not denied is
// allowed. Category rules sit between the two: a category explicitly set
// to false blocks every tool in it.
type ToolPolicy struct {
	DenyTools  []string          `json:"deny_tools,omitempty"`
	AllowTools []string          `json:"allow_tools,omitempty"`
	ByCategory map[Category]bool `json:"by_category,omitempty"`
}

// Allows reports whether the policy permits running the named tool.
// A nil policy allows everything.
func (tp *ToolPolicy) Allows(toolName string, category Category) bool {
	if tp == nil {
		return true
	}

	for _, denied := range tp.DenyTools {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	if allowed, ok := tp.ByCategory[category.orDefault()]; ok && !allowed {
		return false
	}

	if len(tp.AllowTools) == 0 {
		return true
	}

	for _, allowed := range tp.AllowTools {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	return false
}

// Validate checks the policy for rules that can never take effect.
func (tp *ToolPolicy) Validate() error {
	if tp == nil {
		return nil
	}

	for _, denied := range tp.DenyTools {
		if denied == "*" && len(tp.AllowTools) > 0 {
			log.Warn().Msg("Policy denies all tools; allow list will never match")
		}
	}

	for category := range tp.ByCategory {
		if !category.Valid() {
			return fmt.Errorf("unknown tool category in policy: %s", category)
		}
	}

	return nil
}
