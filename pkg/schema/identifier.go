package schema

import "regexp"

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is a conservative SQL identifier:
// letters, digits and underscore, not starting with a digit.
func ValidIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}
