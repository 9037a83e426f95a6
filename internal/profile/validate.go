// Package profile maps a profile name to its directory layout. Each profile
// owns one durable cache and one daemon.
package profile

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is wrapped by ValidateName failures.
var ErrInvalidName = errors.New("invalid profile name")

// Profile names become directory names under profiles/.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName checks that name is usable as a profile.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w %q: use 1-64 of [a-z0-9_-], starting with a letter or digit", ErrInvalidName, name)
	}
	return nil
}
