// Package skills implements the SkillLoader: parsing and installation of
// the markdown skill format (# Name / ## Auth / ## Endpoints /
// ## Permissions / optional ## Implementation).
package skills

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	json5 "github.com/titanous/json5"
)

// Skill is a parsed skill definition.
type Skill struct {
	Name           string
	Description    string
	Auth           string
	Endpoints      []string
	Permissions    []string
	Implementation string
	SourcePath     string
	Agents         []string // which agents this skill is scoped to; empty = all
}

// Loader discovers and parses skills from a workspace directory.
type Loader struct {
	dir    string
	client *http.Client
}

// New builds a Loader rooted at dir (typically workspace/skills).
func New(dir string) *Loader {
	return &Loader{dir: dir, client: &http.Client{Timeout: 15 * time.Second}}
}

// LoadAll parses every *.md file directly under the skills directory.
func (l *Loader) LoadAll() ([]Skill, error) {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("skills: read dir %s: %w", l.dir, err)
	}

	var out []Skill
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(l.dir, e.Name())
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("skills: open %s: %w", path, err)
		}
		s, err := Parse(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("skills: parse %s: %w", path, err)
		}
		s.SourcePath = path
		out = append(out, s)
	}
	return out, nil
}

// Parse reads the markdown skill format from r.
func Parse(r io.Reader) (Skill, error) {
	var s Skill
	var section string
	var implBuf, descBuf strings.Builder
	inImpl := false
	inDesc := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "# "):
			s.Name = strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			inImpl = false
			inDesc = false
			continue
		case strings.HasPrefix(trimmed, "## "):
			section = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "##")))
			inImpl = section == "implementation"
			inDesc = section == "description"
			continue
		}

		if inImpl {
			implBuf.WriteString(line)
			implBuf.WriteByte('\n')
			continue
		}
		if inDesc {
			if trimmed != "" {
				if descBuf.Len() > 0 {
					descBuf.WriteByte(' ')
				}
				descBuf.WriteString(trimmed)
			}
			continue
		}
		if trimmed == "" || !strings.HasPrefix(trimmed, "-") {
			continue
		}
		item := strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))

		switch section {
		case "auth":
			s.Auth = item
		case "endpoints":
			s.Endpoints = append(s.Endpoints, item)
		case "permissions":
			parsePermissionLine(&s, item)
		case "agents":
			s.Agents = append(s.Agents, item)
		}
	}
	if err := scanner.Err(); err != nil {
		return Skill{}, err
	}
	s.Implementation = strings.TrimSpace(implBuf.String())
	s.Description = descBuf.String()
	if s.Name == "" {
		return Skill{}, fmt.Errorf("skills: missing '# Name' heading")
	}
	return s, nil
}

// parsePermissionLine tolerantly parses a permissions bullet, which may be a
// bare string ("memory_search") or a JSON5-ish object with a trailing
// comma ("{tool: \"exec\", allow: true,}").
func parsePermissionLine(s *Skill, item string) {
	if !strings.HasPrefix(item, "{") {
		s.Permissions = append(s.Permissions, item)
		return
	}
	var obj map[string]any
	if err := json5.Unmarshal([]byte(item), &obj); err != nil {
		s.Permissions = append(s.Permissions, item)
		return
	}
	if tool, ok := obj["tool"].(string); ok {
		s.Permissions = append(s.Permissions, tool)
	}
}

// ForAgent filters skills scoped to agentName (skills with no Agents list
// apply to every agent).
func ForAgent(all []Skill, agentName string) []Skill {
	var out []Skill
	for _, s := range all {
		if len(s.Agents) == 0 {
			out = append(out, s)
			continue
		}
		for _, a := range s.Agents {
			if a == agentName {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// FilterSkills reloads every skill from disk and returns the ones allowed
// for this agent. allowList follows the LoopConfig convention: nil means
// every loaded skill, a non-nil empty slice means none, and a populated
// slice restricts to skills whose name appears in it.
func (l *Loader) FilterSkills(allowList []string) []Skill {
	all, err := l.LoadAll()
	if err != nil {
		return nil
	}
	if allowList == nil {
		return all
	}
	if len(allowList) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(allowList))
	for _, name := range allowList {
		allowed[name] = struct{}{}
	}
	var out []Skill
	for _, s := range all {
		if _, ok := allowed[s.Name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// BuildSummary renders the allowed skills as an XML block suitable for
// inlining directly into the system prompt.
func (l *Loader) BuildSummary(allowList []string) string {
	filtered := l.FilterSkills(allowList)
	if len(filtered) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, s := range filtered {
		fmt.Fprintf(&sb, "<skill name=%q>\n%s\n</skill>\n", s.Name, s.Description)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// Install fetches a skill definition from urlOrSlug and writes it into dir.
// A bare slug is resolved against the default skill registry base URL.
func (l *Loader) Install(urlOrSlug string) (Skill, error) {
	url := urlOrSlug
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://skills.quantumclaw.dev/" + strings.TrimPrefix(url, "/") + ".md"
	}

	resp, err := l.client.Get(url)
	if err != nil {
		return Skill{}, fmt.Errorf("skills: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Skill{}, fmt.Errorf("skills: fetch %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Skill{}, fmt.Errorf("skills: read body: %w", err)
	}
	s, err := Parse(strings.NewReader(string(data)))
	if err != nil {
		return Skill{}, err
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return Skill{}, fmt.Errorf("skills: mkdir: %w", err)
	}
	dest := filepath.Join(l.dir, sanitizeFilename(s.Name)+".md")
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return Skill{}, fmt.Errorf("skills: write %s: %w", dest, err)
	}
	s.SourcePath = dest
	return s, nil
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	return b.String()
}
