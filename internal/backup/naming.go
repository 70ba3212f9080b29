package backup

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const defaultTimestampFormat = "2006-01-02T15-04-05Z"

var sha1Hex = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// artifactName returns the sanitized client filename, or
// backup_<date>.tar.gz when none was given.
func artifactName(filename string, date time.Time, layout string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		return fmt.Sprintf("backup_%s.tar.gz", date.UTC().Format(layout)), nil
	}
	// Keep only the last path element of whatever the client sent.
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	switch {
	case name == "", name == ".", name == "..":
		return "", fmt.Errorf("%w: invalid filename %q", ErrValidation, filename)
	case strings.ContainsAny(name, "\x00\r\n"):
		return "", fmt.Errorf("%w: filename contains control characters", ErrValidation)
	case len(name) > 255:
		return "", fmt.Errorf("%w: filename too long", ErrValidation)
	}
	return name, nil
}
