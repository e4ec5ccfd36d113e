package nssfile

import "regexp"

var nameRe = regexp.MustCompile(`^[a-z0-9_][a-z0-9._-]{0,31}$`)

// ValidName reports whether a name is something the canonicalizer could
// have produced with the default length limit.
func ValidName(n string) bool {
	return nameRe.MatchString(n)
}
