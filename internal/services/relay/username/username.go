// Package username validates display names claimed during the relay handshake.
package username

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MinLength is the shortest accepted display name.
	MinLength = 3
	// MaxLength is the longest accepted display name.
	MaxLength = 20
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate trims surrounding whitespace and checks the display-name policy:
// 3-20 characters drawn from letters, digits, hyphen and underscore. It
// returns the trimmed name on success.
func Validate(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("username is required")
	}
	if length := utf8.RuneCountInString(input); length < MinLength || length > MaxLength {
		return "", fmt.Errorf("username must be %d-%d characters", MinLength, MaxLength)
	}
	if !namePattern.MatchString(input) {
		return "", fmt.Errorf("username may only contain letters, digits, '-' and '_'")
	}
	return input, nil
}
