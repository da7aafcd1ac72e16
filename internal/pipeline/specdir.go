package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// MaxSpecNameLength is the maximum length of a generated spec name.
const MaxSpecNameLength = 50

// nonWordChars matches characters stripped from spec names.
var nonWordChars = regexp.MustCompile(`[^\w\s-]`)

// spacerChars matches whitespace and underscore runs collapsed to hyphens.
var spacerChars = regexp.MustCompile(`[\s_]+`)

// specDirNumber matches the numeric prefix of a spec directory name.
var specDirNumber = regexp.MustCompile(`^(\d+)-`)

// GenerateSpecName converts a task description into a filesystem-safe spec
// name: lowercase, hyphen-separated, at most MaxSpecNameLength characters.
// Descriptions that reduce to nothing yield "unnamed-spec".
func GenerateSpecName(task string) string {
	name := strings.ToLower(task)
	name = nonWordChars.ReplaceAllString(name, "")
	name = spacerChars.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if len(name) > MaxSpecNameLength {
		name = strings.Trim(name[:MaxSpecNameLength], "-")
	}
	if name == "" {
		return "unnamed-spec"
	}
	return name
}

// SpecsDir returns the directory holding numbered spec directories.
func SpecsDir(stateDir string) string {
	return filepath.Join(stateDir, "specs")
}

// CreateSpecDir creates the next numbered spec directory, named
// NNN-<name> with a zero-padded sequence number one past the highest
// existing number. Creation uses os.Mkdir so two concurrent callers can
// never claim the same directory; on collision the number is bumped.
func CreateSpecDir(specsDir, name string) (string, error) {
	if err := os.MkdirAll(specsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating specs directory: %w", err)
	}

	next, err := nextSpecNumber(specsDir)
	if err != nil {
		return "", err
	}

	for n := next; ; n++ {
		dir := filepath.Join(specsDir, fmt.Sprintf("%03d-%s", n, name))
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("creating spec directory: %w", err)
		}
	}
}

// nextSpecNumber returns one past the highest numeric prefix in specsDir.
func nextSpecNumber(specsDir string) (int, error) {
	entries, err := os.ReadDir(specsDir)
	if err != nil {
		return 0, fmt.Errorf("reading specs directory: %w", err)
	}

	highest := 0
	for _, entry := range entries {
		m := specDirNumber.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}
