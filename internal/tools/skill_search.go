package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantumclaw/quantumclaw/internal/skills"
)

// SkillSearchTool lets an agent look up a skill's full definition by name
// when only a summary was inlined into the system prompt.
type SkillSearchTool struct {
	loader *skills.Loader
}

func NewSkillSearchTool(loader *skills.Loader) *SkillSearchTool {
	return &SkillSearchTool{loader: loader}
}

func (t *SkillSearchTool) Name() string { return "skill_search" }
func (t *SkillSearchTool) Description() string {
	return "Look up the full definition (auth, endpoints, permissions, implementation) of a named skill"
}
func (t *SkillSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Exact skill name to look up",
			},
		},
		"required": []string{"name"},
	}
}

func (t *SkillSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	name, _ := args["name"].(string)
	if name == "" {
		return ErrorResult("name is required")
	}

	all, err := t.loader.LoadAll()
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to load skills: %v", err))
	}
	for _, s := range all {
		if s.Name != name {
			continue
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "# %s\n", s.Name)
		if s.Description != "" {
			fmt.Fprintf(&sb, "%s\n\n", s.Description)
		}
		if s.Auth != "" {
			fmt.Fprintf(&sb, "Auth: %s\n", s.Auth)
		}
		if len(s.Endpoints) > 0 {
			fmt.Fprintf(&sb, "Endpoints:\n- %s\n", strings.Join(s.Endpoints, "\n- "))
		}
		if len(s.Permissions) > 0 {
			fmt.Fprintf(&sb, "Permissions:\n- %s\n", strings.Join(s.Permissions, "\n- "))
		}
		if s.Implementation != "" {
			fmt.Fprintf(&sb, "\nImplementation:\n%s\n", s.Implementation)
		}
		return SilentResult(sb.String())
	}
	return ErrorResult(fmt.Sprintf("no skill named %q found", name))
}
