package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// injectionPattern pairs a detection name with the regex that flags it.
// Patterns target common prompt-injection phrasing: instruction overrides,
// role reassignment, and attempts to exfiltrate the system prompt.
type injectionPattern struct {
	name string
	re   *regexp.Regexp
}

var injectionPatterns = []injectionPattern{
	{"ignore_instructions", regexp.MustCompile(`(?i)ignore (all |any )?(previous|prior|above) instructions`)},
	{"disregard_instructions", regexp.MustCompile(`(?i)disregard (all |any )?(previous|prior|above|system) (instructions|prompt)`)},
	{"role_override", regexp.MustCompile(`(?i)you are now (a|an|no longer)`)},
	{"system_prompt_leak", regexp.MustCompile(`(?i)(reveal|print|show|repeat) (your |the )?system prompt`)},
	{"developer_mode", regexp.MustCompile(`(?i)(dan mode|developer mode|jailbreak)`)},
	{"forget_everything", regexp.MustCompile(`(?i)forget (everything|all) (you (were|have been) told|above)`)},
}

// InputGuard scans inbound user messages for prompt-injection attempts
// before they reach the model.
type InputGuard struct {
	patterns []injectionPattern
}

// NewInputGuard builds a guard using the default pattern set.
func NewInputGuard() *InputGuard {
	return &InputGuard{patterns: injectionPatterns}
}

// Scan returns the names of every pattern that matched message.
func (g *InputGuard) Scan(message string) []string {
	if message == "" {
		return nil
	}
	var matches []string
	for _, p := range g.patterns {
		if p.re.MatchString(message) {
			matches = append(matches, p.name)
		}
	}
	return matches
}

// hashToolCall fingerprints a tool call by name and a stable rendering of
// its arguments, used by toolLoopState to detect repeated no-progress calls.
func hashToolCall(name string, args map[string]interface{}) string {
	var sb strings.Builder
	sb.WriteString(name)
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	// deterministic order without pulling in sort for a one-off loop
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	for _, k := range keys {
		sb.WriteString("|")
		sb.WriteString(k)
		sb.WriteString("=")
		if s, ok := args[k].(string); ok {
			sb.WriteString(strings.TrimSpace(s))
		} else {
			fmt.Fprintf(&sb, "%v", args[k])
		}
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:8])
}
