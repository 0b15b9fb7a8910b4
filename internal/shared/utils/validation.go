package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String length limits
const (
	MaxIDLength     = 128
	MaxLabelLength  = 64
	MaxReviewLength = 2048
	MaxRoutePath    = 256
)

// Rating bounds
const (
	MinRating = 1
	MaxRating = 5
)

// Regular expressions for validation
var (
	// AddonIDPattern allows lowercase alphanumerics, dots, hyphens and underscores
	AddonIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
	// SafeIDPattern allows alphanumeric, hyphens, underscores
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// RoutePathPattern allows slash-separated url-safe segments with optional :params
	RoutePathPattern = regexp.MustCompile(`^(/[a-zA-Z0-9:_.-]+)+/?$`)
)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateAddonID validates an add-on id used as a storage key and path segment
func ValidateAddonID(id string) error {
	if err := ValidateString(id, "addon id", 2, MaxIDLength, true); err != nil {
		return err
	}
	if !AddonIDPattern.MatchString(id) || id == "." || id == ".." || strings.Contains(id, "..") {
		return fmt.Errorf("addon id %q contains invalid characters (only lowercase alphanumeric, dots, hyphens, and underscores allowed)", id)
	}
	return nil
}

// ValidateID validates a contribution-local id
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}

	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}

	return nil
}

// ValidateRoutePath validates a contributed route path
func ValidateRoutePath(path string) error {
	if err := ValidateString(path, "route path", 2, MaxRoutePath, true); err != nil {
		return err
	}
	if !RoutePathPattern.MatchString(path) {
		return fmt.Errorf("route path %q is not a valid absolute path", path)
	}
	return nil
}

// ValidateRating validates a store rating and optional review
func ValidateRating(rating int, review string) error {
	if rating < MinRating || rating > MaxRating {
		return fmt.Errorf("rating must be between %d and %d", MinRating, MaxRating)
	}
	return ValidateString(review, "review", 0, MaxReviewLength, false)
}
