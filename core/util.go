package core

import "strings"

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// CleanNationalID trims `dni` and upper-cases its control letter.
func CleanNationalID(dni string) string {
	return strings.ToUpper(strings.TrimSpace(dni))
}
