package skills

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const maxSkillBytes = 256 << 10

// ErrNotInstalled is returned by Remove when no file matches the name.
var ErrNotInstalled = errors.New("skill not installed")

// Install validates a local markdown file and copies it into dir as
// <name>.md, where name comes from the front matter or the source filename.
// The running gateway picks it up on its next poll.
func Install(dir, src string) (Skill, error) {
	raw, err := os.ReadFile(src)
	if err != nil {
		return Skill{}, err
	}
	if len(raw) > maxSkillBytes {
		return Skill{}, fmt.Errorf("%s is %d bytes, limit is %d", src, len(raw), maxSkillBytes)
	}
	if bytes.IndexByte(raw, 0) >= 0 || !utf8.Valid(raw) {
		return Skill{}, fmt.Errorf("%s is not UTF-8 text", src)
	}
	s, err := Parse(filepath.Base(src), string(raw))
	if err != nil {
		return Skill{}, fmt.Errorf("front matter: %w", err)
	}
	if s.Body == "" {
		return Skill{}, fmt.Errorf("%s has no instructions", src)
	}
	name := sanitizeName(s.Name)
	if name == "" {
		return Skill{}, fmt.Errorf("cannot derive a skill name from %s", src)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Skill{}, err
	}
	s.File = name + ".md"
	if err := os.WriteFile(filepath.Join(dir, s.File), raw, 0o644); err != nil {
		return Skill{}, err
	}
	return s, nil
}

// Remove deletes <name>.md from dir.
func Remove(dir, name string) error {
	file := sanitizeName(strings.TrimSuffix(name, ".md"))
	if file == "" {
		return ErrNotInstalled
	}
	err := os.Remove(filepath.Join(dir, file+".md"))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotInstalled
	}
	return err
}

func sanitizeName(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, " ", "-")
	var out strings.Builder
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out.WriteRune(r)
		}
	}
	return strings.Trim(out.String(), "-_")
}
