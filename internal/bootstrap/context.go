package bootstrap

import (
	"os"
	"path/filepath"

	"github.com/quantumclaw/quantumclaw/internal/sessions"
)

// ContextFile is one workspace file injected verbatim into the system
// prompt (AGENTS.md, SOUL.md, a per-user file, ...).
type ContextFile struct {
	Path    string
	Content string
}

// DefaultMaxCharsPerFile and DefaultTotalMaxChars bound how much workspace
// context gets inlined into the prompt before truncation kicks in.
const (
	DefaultMaxCharsPerFile = 8000
	DefaultTotalMaxChars   = 24000
)

// TruncateConfig bounds LoadWorkspaceFiles' output before it reaches the
// model: per-file and total character budgets.
type TruncateConfig struct {
	MaxCharsPerFile int
	TotalMaxChars   int
}

// LoadWorkspaceFiles reads every well-known workspace file that exists,
// skipping ones that weren't seeded yet. Order matches templateFiles plus
// BootstrapFile last, so BuildContextFiles truncates the least important
// content first.
func LoadWorkspaceFiles(workspaceDir string) []ContextFile {
	names := append(append([]string{}, templateFiles...), BootstrapFile)
	var files []ContextFile
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(workspaceDir, name))
		if err != nil {
			continue
		}
		files = append(files, ContextFile{Path: name, Content: string(data)})
	}
	return files
}

// BuildContextFiles truncates raw to fit cfg's per-file and total budgets.
// Files are kept in their original order; once the running total would
// exceed TotalMaxChars, remaining files are dropped entirely rather than
// included empty.
func BuildContextFiles(raw []ContextFile, cfg TruncateConfig) []ContextFile {
	maxPerFile := cfg.MaxCharsPerFile
	if maxPerFile <= 0 {
		maxPerFile = DefaultMaxCharsPerFile
	}
	totalMax := cfg.TotalMaxChars
	if totalMax <= 0 {
		totalMax = DefaultTotalMaxChars
	}

	out := make([]ContextFile, 0, len(raw))
	total := 0
	for _, f := range raw {
		content := f.Content
		if len(content) > maxPerFile {
			content = content[:maxPerFile] + "\n...(truncated)"
		}
		if total+len(content) > totalMax {
			break
		}
		total += len(content)
		out = append(out, ContextFile{Path: f.Path, Content: content})
	}
	return out
}

// IsSubagentSession and IsCronSession classify a session key for prompt
// mode selection. Thin wrappers over internal/sessions so agent code can
// reach them via the bootstrap package it already imports.
func IsSubagentSession(key string) bool { return sessions.IsSubagentSession(key) }
func IsCronSession(key string) bool     { return sessions.IsCronSession(key) }
