// ABOUTME: Principal profile type, defaults, and the Source interface
// ABOUTME: Fetched with the verified subject id; shape-checked before use

package profile

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrNotFound means the source has no profile for the subject. Callers treat
// it as "use defaults", not as a failure.
var ErrNotFound = errors.New("profile not found")

// Profile is read-only personalization context for a principal.
type Profile struct {
	Locale   string `json:"locale"`
	Currency string `json:"currency"`
}

// Source fetches the profile for a verified subject id.
type Source interface {
	Fetch(ctx context.Context, subject string) (Profile, error)
}

// Defaults is the profile used when no source has data for a subject.
func Defaults() Profile {
	return Profile{Locale: "en-US", Currency: "USD"}
}

var (
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	localePattern   = regexp.MustCompile(`^[A-Za-z]{2,3}([-_][A-Za-z0-9]{2,8})*$`)
)

// sanitize fills malformed fields from defaults. Sources are trusted for
// availability, not for shape.
func sanitize(p Profile) Profile {
	out := Defaults()

	locale := strings.TrimSpace(p.Locale)
	if localePattern.MatchString(locale) {
		out.Locale = locale
	}

	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currencyPattern.MatchString(currency) {
		out.Currency = currency
	}

	return out
}
