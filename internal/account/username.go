package account

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{5,14}$`)

var usernameSeparators = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")

// NormalizeUsername folds full-width characters to ASCII and strips common
// phone number separators.
func NormalizeUsername(raw string) string {
	narrowed := width.Narrow.String(strings.TrimSpace(raw))
	return usernameSeparators.Replace(narrowed)
}

// ValidateUsername normalizes raw and checks it is an E.164 number. The result
// doubles as the account file name, so nothing else is accepted.
func ValidateUsername(raw string) (string, error) {
	normalized := NormalizeUsername(raw)
	if !e164Pattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUsername, raw)
	}
	return normalized, nil
}
