// Package skills loads markdown instruction files that are appended to the
// agent's system prompt.
package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const textHeader = "\n\nSKILLS (follow these instructions when relevant):\n"

// Skill is one loaded markdown file.
type Skill struct {
	File        string `yaml:"-"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Body        string `yaml:"-"`
}

// Loader holds the skills of one directory and the prompt text built from them.
type Loader struct {
	dir string

	mu     sync.RWMutex
	skills []Skill
	text   string
	stamp  string
}

// NewLoader creates a loader for dir. Nothing is read until Load.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Dir returns the skills directory.
func (l *Loader) Dir() string { return l.dir }

// Load reads every *.md file in the directory, sorted by name. A missing
// directory is created and yields no skills. Unreadable files are skipped.
func (l *Loader) Load() error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create skills dir: %w", err)
	}
	files, stamp, err := l.scan()
	if err != nil {
		return err
	}
	loaded := make([]Skill, 0, len(files))
	for _, name := range files {
		raw, err := os.ReadFile(filepath.Join(l.dir, name))
		if err != nil {
			slog.Warn("Skill unreadable", "file", name, "error", err)
			continue
		}
		s, err := Parse(name, string(raw))
		if err != nil {
			slog.Warn("Skill front matter invalid", "file", name, "error", err)
		}
		if strings.TrimSpace(s.Body) == "" {
			continue
		}
		loaded = append(loaded, s)
	}

	l.mu.Lock()
	l.skills = loaded
	l.text = buildText(loaded)
	l.stamp = stamp
	l.mu.Unlock()
	slog.Debug("Skills loaded", "dir", l.dir, "count", len(loaded))
	return nil
}

// scan lists markdown files and a fingerprint of their names, sizes and mtimes.
func (l *Loader) scan() ([]string, string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, "", fmt.Errorf("read skills dir: %w", err)
	}
	var files []string
	var stamp strings.Builder
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		info, err := os.Stat(filepath.Join(l.dir, name))
		if err != nil {
			continue
		}
		fmt.Fprintf(&stamp, "%s:%d:%d;", name, info.Size(), info.ModTime().UnixNano())
	}
	return files, stamp.String(), nil
}

// Parse splits optional YAML front matter from a skill file. On a front
// matter error the whole content is kept as the body.
func Parse(file, content string) (Skill, error) {
	s := Skill{File: file, Name: strings.TrimSuffix(file, ".md"), Body: strings.TrimSpace(content)}
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return s, nil
	}
	end := strings.Index(normalized[4:], "\n---")
	if end < 0 {
		return s, fmt.Errorf("unclosed front matter")
	}
	block := normalized[4 : 4+end]
	rest := normalized[4+end+4:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[i+1:]
	} else {
		rest = ""
	}

	var meta Skill
	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		return s, err
	}
	if meta.Name != "" {
		s.Name = meta.Name
	}
	s.Description = meta.Description
	s.Body = strings.TrimSpace(rest)
	return s, nil
}

func buildText(skills []Skill) string {
	if len(skills) == 0 {
		return ""
	}
	bodies := make([]string, len(skills))
	for i, s := range skills {
		bodies[i] = s.Body
	}
	return textHeader + strings.Join(bodies, "\n\n---\n\n")
}

// Text returns the prompt suffix, or "" when there are no skills.
func (l *Loader) Text() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.text
}

// Skills returns a copy of the loaded skills.
func (l *Loader) Skills() []Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Skill(nil), l.skills...)
}

// Watch polls the directory every interval and reloads when the set of
// files or their mtimes change. A failed reload keeps the previous text.
// It returns when ctx is done.
func (l *Loader) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, stamp, err := l.scan()
			if err != nil {
				slog.Debug("Skills scan failed", "error", err)
				continue
			}
			l.mu.RLock()
			changed := stamp != l.stamp
			l.mu.RUnlock()
			if !changed {
				continue
			}
			if err := l.Load(); err != nil {
				slog.Warn("Skills reload failed", "error", err)
				continue
			}
			slog.Info("Skills reloaded", "count", len(l.Skills()))
		}
	}
}
