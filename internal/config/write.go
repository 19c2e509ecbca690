package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeycumines/toolbt/internal/persist"
)

// SetKeyInFile sets a global option in the file at path, keeping comments
// and sections. An existing global line for key is replaced in place, a new
// one goes before the first section header.
func SetKeyInFile(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config file: %w", err)
	}
	entry := strings.TrimSpace(key + " " + value)

	var lines []string
	if len(data) != 0 {
		lines = strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	}
	insert := len(lines)
	replaced := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			insert = i
			break
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if name, _, _ := strings.Cut(trimmed, " "); name == key {
			lines[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines[:insert], append([]string{entry}, lines[insert:]...)...)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return persist.WriteFileAtomic(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}
