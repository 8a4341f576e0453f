// Package trust implements the TrustKernel: a small, deterministic rule
// engine loaded from a single operator-authored VALUES.md file. Unlike the
// tool policy pipeline (allow/deny lists keyed by tool name, see
// internal/tools.PolicyEngine), the TrustKernel expresses the operator's
// intent in prose-adjacent rule lines and is consulted on every tool call
// in addition to — never instead of — the tool policy.
package trust

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Effect is the outcome a rule produces when it matches.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
	EffectAsk   Effect = "ask"
)

// Rule is one parsed line from VALUES.md.
type Rule struct {
	Effect    Effect
	ToolGlob  string // "*" or exact tool name
	ArgKey    string // optional argument to inspect
	ArgOp     string // "contains" | "equals" | ""
	ArgValue  string
	Raw       string
	Hard      bool // from "## Hard Rules" section; cannot be relaxed by soft rules
}

// Decision is the result of a TrustKernel check.
type Decision struct {
	Effect Effect
	Reason string
	Rule   string
}

// Kernel holds the parsed rule set. It is immutable after Load(); a new
// Kernel must be constructed to pick up edits (reload happens only as part
// of a full bootstrap restart, per the runtime's degradation contract).
type Kernel struct {
	hardRules       []Rule
	softRules       []Rule
	forbiddenContacts map[string]string // "channel:peerId" -> reason
}

// Load parses path (a VALUES.md file) into a Kernel. A missing file yields
// an empty, permissive Kernel — the operator has simply not opted into
// trust constraints yet.
func Load(path string) (*Kernel, error) {
	k := &Kernel{forbiddenContacts: map[string]string{}}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return k, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trust: open %s: %w", path, err)
	}
	defer f.Close()

	var section string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "## ") {
			section = strings.ToLower(strings.TrimPrefix(line, "## "))
			continue
		}
		if !strings.HasPrefix(line, "-") {
			continue
		}
		body := strings.TrimSpace(strings.TrimPrefix(line, "-"))
		if body == "" {
			continue
		}

		switch {
		case strings.Contains(section, "forbidden contact"):
			parseForbiddenContact(k, body)
		case strings.Contains(section, "hard"):
			if r, ok := parseRule(body, true); ok {
				k.hardRules = append(k.hardRules, r)
			}
		case strings.Contains(section, "soft"):
			if r, ok := parseRule(body, false); ok {
				k.softRules = append(k.softRules, r)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("trust: scan %s: %w", path, err)
	}
	return k, nil
}

// parseRule parses "<effect> <toolGlob> [when arg:<key> <op> <value>] -- <reason>".
func parseRule(body string, hard bool) (Rule, bool) {
	reason := body
	if i := strings.Index(body, "--"); i >= 0 {
		body, reason = strings.TrimSpace(body[:i]), strings.TrimSpace(body[i+2:])
	}

	fields := strings.Fields(body)
	if len(fields) < 2 {
		return Rule{}, false
	}
	effect := Effect(strings.ToLower(fields[0]))
	if effect != EffectAllow && effect != EffectDeny && effect != EffectAsk {
		return Rule{}, false
	}
	r := Rule{Effect: effect, ToolGlob: fields[1], Raw: reason, Hard: hard}

	if len(fields) >= 5 && fields[2] == "when" && strings.HasPrefix(fields[3], "arg:") {
		parts := strings.SplitN(fields[3], ":", 2)
		r.ArgKey = parts[1]
		r.ArgOp = fields[4]
		if len(fields) > 5 {
			r.ArgValue = strings.Trim(strings.Join(fields[5:], " "), `"`)
		}
	}
	return r, true
}

func parseForbiddenContact(k *Kernel, body string) {
	reason := ""
	if i := strings.Index(body, "--"); i >= 0 {
		reason = strings.TrimSpace(body[i+2:])
		body = strings.TrimSpace(body[:i])
	}
	k.forbiddenContacts[body] = reason
}

// Check evaluates a proposed tool call against the loaded rule set. Hard
// rules are evaluated first and, if matched, their effect is final. Soft
// rules then apply only if no hard rule matched, defaulting to allow.
func (k *Kernel) Check(toolName string, args map[string]any) Decision {
	if d, ok := matchRules(k.hardRules, toolName, args); ok {
		return d
	}
	if d, ok := matchRules(k.softRules, toolName, args); ok {
		return d
	}
	return Decision{Effect: EffectAllow}
}

// CheckContact checks whether sending to channel:peerID is forbidden.
func (k *Kernel) CheckContact(channel, peerID string) Decision {
	key := channel + ":" + peerID
	if reason, ok := k.forbiddenContacts[key]; ok {
		return Decision{Effect: EffectDeny, Reason: reason, Rule: "forbidden-contact:" + key}
	}
	if reason, ok := k.forbiddenContacts[channel+":*"]; ok {
		return Decision{Effect: EffectDeny, Reason: reason, Rule: "forbidden-contact:" + channel + ":*"}
	}
	return Decision{Effect: EffectAllow}
}

func matchRules(rules []Rule, toolName string, args map[string]any) (Decision, bool) {
	for _, r := range rules {
		if r.ToolGlob != "*" && r.ToolGlob != toolName {
			continue
		}
		if r.ArgKey != "" {
			v, ok := args[r.ArgKey]
			if !ok {
				continue
			}
			s := fmt.Sprintf("%v", v)
			switch r.ArgOp {
			case "contains":
				if !strings.Contains(s, r.ArgValue) {
					continue
				}
			case "equals":
				if s != r.ArgValue {
					continue
				}
			}
		}
		return Decision{Effect: r.Effect, Reason: r.Raw, Rule: r.ToolGlob}, true
	}
	return Decision{}, false
}

// HardRuleCount and SoftRuleCount support dashboard/status reporting.
func (k *Kernel) HardRuleCount() int { return len(k.hardRules) }
func (k *Kernel) SoftRuleCount() int { return len(k.softRules) }
