package workflow

import (
	"fmt"
	"strings"

	"github.com/wasilibs/go-re2"
)

// Equals matches when the trimmed result equals value.
func Equals(value string) Predicate {
	return func(result string) bool {
		return strings.TrimSpace(result) == value
	}
}

// Contains matches when the result contains substr.
func Contains(substr string) Predicate {
	return func(result string) bool {
		return strings.Contains(result, substr)
	}
}

// Matches compiles pattern with RE2 syntax.
func Matches(pattern string) (Predicate, error) {
	re, err := re2.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re.MatchString, nil
}

// Empty matches a blank result.
func Empty() Predicate {
	return func(result string) bool {
		return strings.TrimSpace(result) == ""
	}
}

// NotEmpty matches a non-blank result.
func NotEmpty() Predicate {
	return func(result string) bool {
		return strings.TrimSpace(result) != ""
	}
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return func(result string) bool {
		return !p(result)
	}
}

// When is the YAML form of a predicate. Exactly one field may be set.
type When struct {
	Equals   *string `yaml:"equals,omitempty"`
	Contains *string `yaml:"contains,omitempty"`
	Matches  *string `yaml:"matches,omitempty"`
	Empty    bool    `yaml:"empty,omitempty"`
	NotEmpty bool    `yaml:"not_empty,omitempty"`
	Negate   bool    `yaml:"not,omitempty"`
}

// Compile turns w into a Predicate. A nil When compiles to nil.
func (w *When) Compile() (Predicate, error) {
	if w == nil {
		return nil, nil
	}

	var (
		p   Predicate
		set int
	)
	if w.Equals != nil {
		p, set = Equals(*w.Equals), set+1
	}
	if w.Contains != nil {
		p, set = Contains(*w.Contains), set+1
	}
	if w.Matches != nil {
		m, err := Matches(*w.Matches)
		if err != nil {
			return nil, err
		}
		p, set = m, set+1
	}
	if w.Empty {
		p, set = Empty(), set+1
	}
	if w.NotEmpty {
		p, set = NotEmpty(), set+1
	}

	switch {
	case set == 0:
		return nil, fmt.Errorf("condition has no test")
	case set > 1:
		return nil, fmt.Errorf("condition has %d tests, want one", set)
	}
	if w.Negate {
		p = Not(p)
	}
	return p, nil
}
