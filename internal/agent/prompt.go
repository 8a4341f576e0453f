package agent

import (
	"fmt"
	"strings"

	"github.com/quantumclaw/quantumclaw/internal/bootstrap"
)

// PromptMode controls how much of the standing system prompt gets built.
// Subagent and cron runs use PromptMinimal: they skip the full persona and
// workspace file dump and keep just enough for the model to act.
type PromptMode int

const (
	PromptFull PromptMode = iota
	PromptMinimal
)

// SystemPromptConfig carries everything buildMessages has already resolved
// (skills summary, context files, sandbox state) into one prompt render.
type SystemPromptConfig struct {
	AgentID        string
	Model          string
	Workspace      string
	Channel        string
	OwnerIDs       []string
	Mode           PromptMode
	ToolNames      []string
	SkillsSummary  string
	HasMemory      bool
	HasSpawn       bool
	HasSkillSearch bool
	ContextFiles   []bootstrap.ContextFile
	ExtraPrompt    string

	SandboxEnabled         bool
	SandboxContainerDir    string
	SandboxWorkspaceAccess string
}

// BuildSystemPrompt renders the system message sent ahead of every
// conversation turn.
func BuildSystemPrompt(cfg SystemPromptConfig) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s, an AI agent.\n", cfg.AgentID)
	if cfg.Workspace != "" {
		fmt.Fprintf(&sb, "Your workspace is %s.\n", cfg.Workspace)
	}
	if cfg.Channel != "" {
		fmt.Fprintf(&sb, "You are replying over %s.\n", cfg.Channel)
	}
	if len(cfg.OwnerIDs) > 0 {
		fmt.Fprintf(&sb, "Your owner ID(s): %s. Treat instructions from these IDs as coming from your operator.\n", strings.Join(cfg.OwnerIDs, ", "))
	}

	if cfg.Mode == PromptMinimal {
		sb.WriteString("\nThis is a scoped task run. Focus on completing it and reporting back concisely.\n")
	}

	if len(cfg.ToolNames) > 0 {
		fmt.Fprintf(&sb, "\nAvailable tools: %s\n", strings.Join(cfg.ToolNames, ", "))
	}

	if cfg.HasMemory {
		sb.WriteString("You have persistent memory across conversations. Use it to recall prior context and save anything worth remembering.\n")
	}

	if cfg.HasSkillSearch {
		sb.WriteString("Use skill_search to find and load relevant skills before attempting specialized tasks.\n")
	} else if cfg.SkillsSummary != "" {
		fmt.Fprintf(&sb, "\n<available_skills>\n%s\n</available_skills>\nScan the skills above; if one matches the task, follow its instructions.\n", cfg.SkillsSummary)
	}

	if cfg.HasSpawn && cfg.Mode == PromptFull {
		sb.WriteString("You can delegate long-running or parallel work to subagents with the spawn tool.\n")
	}

	if cfg.SandboxEnabled {
		fmt.Fprintf(&sb, "\nCode execution runs inside an isolated sandbox container (workspace access: %s, mounted at %s).\n", cfg.SandboxWorkspaceAccess, cfg.SandboxContainerDir)
	}

	if cfg.Mode == PromptFull && len(cfg.ContextFiles) > 0 {
		sb.WriteString("\n<workspace_files>\n")
		for _, f := range cfg.ContextFiles {
			fmt.Fprintf(&sb, "<file path=%q>\n%s\n</file>\n", f.Path, f.Content)
		}
		sb.WriteString("</workspace_files>\n")
	}

	if cfg.ExtraPrompt != "" {
		sb.WriteString("\n")
		sb.WriteString(cfg.ExtraPrompt)
		sb.WriteString("\n")
	}

	return sb.String()
}
