package persona

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const FileName = "PERSONA.md"

var errInvalidYAML = errors.New("invalid persona YAML frontmatter")

// Template is written by onboard.
const Template = `---
name: grok
description: Friendly IRC assistant
keywords: [grok]
---
You are a helpful assistant in an IRC channel.
Answer in a few short lines of plain text; IRC has no markdown.
`

type Persona struct {
	Name        string
	Description string
	Keywords    []string
	Context     string
	Path        string
}

type frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
}

// Load reads PERSONA.md from workspace. A missing file, an empty body or
// unparseable frontmatter leave fallback as the context.
func Load(workspace, fallback string, logger *zap.Logger) (Persona, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := Persona{Context: strings.TrimSpace(fallback)}
	if strings.TrimSpace(workspace) == "" {
		return p, nil
	}

	path := filepath.Join(workspace, FileName)
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		return p, fmt.Errorf("read persona %q: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		if errors.Is(err, errInvalidYAML) {
			logger.Warn("ignoring persona with invalid frontmatter", zap.String("path", path), zap.Error(err))
			return p, nil
		}
		// No frontmatter: the whole file is the context.
		body = string(content)
	}

	p.Path = path
	p.Name = strings.TrimSpace(meta.Name)
	p.Description = strings.TrimSpace(meta.Description)
	p.Keywords = sanitizeKeywords(meta.Keywords)
	if body = strings.TrimSpace(body); body != "" {
		p.Context = body
	}
	return p, nil
}

// WriteTemplate creates PERSONA.md unless one exists. It reports whether a
// file was written.
func WriteTemplate(workspace string) (bool, error) {
	path := filepath.Join(workspace, FileName)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return false, fmt.Errorf("create workspace: %w", err)
	}
	if err := os.WriteFile(path, []byte(Template), 0o644); err != nil {
		return false, fmt.Errorf("write persona: %w", err)
	}
	return true, nil
}

func parseFrontmatter(content []byte) (frontmatter, string, error) {
	text := strings.TrimPrefix(string(content), "\uFEFF")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return frontmatter{}, "", errors.New("missing YAML frontmatter")
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return frontmatter{}, "", errors.New("missing closing frontmatter separator")
	}

	var meta frontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &meta); err != nil {
		return frontmatter{}, "", fmt.Errorf("%w: %v", errInvalidYAML, err)
	}
	return meta, strings.Join(lines[end+1:], "\n"), nil
}

func sanitizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
