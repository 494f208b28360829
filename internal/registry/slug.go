package registry

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yanceya/kalico-flash/internal/kferrors"
)

var (
	unsafeChars  = strings.NewReplacer("/", "", "\\", "", "..", "", "\x00", "")
	nonSlugRun   = regexp.MustCompile(`[^a-z0-9]+`)
	slugPattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}[a-z0-9]$|^[a-z0-9]$`)
)

// Slugify derives a registry key from a display name: strip path-unsafe
// characters, lowercase, collapse non [a-z0-9] runs to a single hyphen, and
// trim leading/trailing hyphens. Returns an error if the result is empty.
func Slugify(name string) (string, error) {
	cleaned := unsafeChars.Replace(name)
	lower := strings.ToLower(cleaned)
	slug := nonSlugRun.ReplaceAllString(lower, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "", fmt.Errorf("slugify %q: empty result: %w", name, kferrors.ErrEmptySlug)
	}
	if len(slug) > 64 {
		slug = strings.Trim(slug[:64], "-")
	}
	return slug, nil
}

// ValidKey reports whether key satisfies DeviceEntry's key invariant:
// lowercase [a-z0-9-]{1,64} with no leading/trailing hyphen.
func ValidKey(key string) bool {
	if len(key) == 0 || len(key) > 64 {
		return false
	}
	return slugPattern.MatchString(key)
}

// UniqueSlug derives a slug for name and, if it collides with an existing
// key (per `taken`), appends -2, -3, ... until free.
func UniqueSlug(name string, taken map[string]struct{}) (string, error) {
	base, err := Slugify(name)
	if err != nil {
		return "", err
	}
	if _, exists := taken[base]; !exists {
		return base, nil
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if _, exists := taken[candidate]; !exists {
			return candidate, nil
		}
	}
}
