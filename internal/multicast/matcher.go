// Package multicast implements the hierarchical topic-partition matcher
// from spec §4.11: '+' matches exactly one partition, '*' matches
// one-or-more and is only legal as the pattern's final token, any other
// token must match literally.
package multicast

import "errors"

// ErrWildcardToken is returned when a fired partition list itself
// contains a wildcard token — firing with wildcards is always invalid.
var ErrWildcardToken = errors.New("multicast: wildcard token not allowed in a fired partition list")

// ErrMisplacedStar is returned by ValidatePattern when '*' appears
// anywhere but the last token of a subscription pattern.
var ErrMisplacedStar = errors.New("multicast: '*' is only legal as the final pattern token")

const (
	singleWildcard = "+"
	multiWildcard  = "*"
)

// ValidatePattern checks a subscription's partition pattern at
// registration time: '*' may only appear as the last token.
func ValidatePattern(pattern []string) error {
	for i, tok := range pattern {
		if tok == multiWildcard && i != len(pattern)-1 {
			return ErrMisplacedStar
		}
	}
	return nil
}

// ValidateFire checks a multicast firing's partition list: it must
// contain no wildcard tokens.
func ValidateFire(partitions []string) error {
	for _, tok := range partitions {
		if tok == singleWildcard || tok == multiWildcard {
			return ErrWildcardToken
		}
	}
	return nil
}

// Matches reports whether a subscription's pattern matches a fired
// partition list. A pattern with no partitions matches only a fire with
// no partitions.
func Matches(pattern, fired []string) bool {
	if len(pattern) == 0 {
		return len(fired) == 0
	}

	for i, tok := range pattern {
		if tok == multiWildcard {
			// Only legal as the final token (ValidatePattern enforces
			// this at registration time); matches one-or-more remaining
			// partitions.
			return i < len(fired)
		}
		if i >= len(fired) {
			return false
		}
		if tok == singleWildcard {
			continue
		}
		if tok != fired[i] {
			return false
		}
	}
	return len(pattern) == len(fired)
}
