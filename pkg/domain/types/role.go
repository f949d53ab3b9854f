package types

import (
	"regexp"

	"github.com/m-mizutani/goerr/v2"
)

// Role names the part a node plays in the mesh, e.g. "Prime". It is also used
// to derive the identity key file name, so it is restricted to file-safe characters.
type Role string

var rolePattern = regexp.MustCompile(`^[A-Za-z0-9]+([_-][A-Za-z0-9]+)*$`)

// Validate checks if the Role is valid
func (r Role) Validate() error {
	if r == "" {
		return goerr.New("role cannot be empty")
	}
	if !rolePattern.MatchString(string(r)) {
		return goerr.New("role must be alphanumeric separated by single hyphens or underscores", goerr.V("role", r))
	}
	return nil
}

// String returns the string representation of Role
func (r Role) String() string {
	return string(r)
}
