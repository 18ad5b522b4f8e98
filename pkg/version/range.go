package version

import (
	"fmt"
	"strings"
)

// ParseError describes malformed range text
type ParseError struct {
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid version range %q: %s", e.Text, e.Reason)
}

// Unwrap lets callers match ErrInvalidVersion
func (e *ParseError) Unwrap() error { return ErrInvalidVersion }

// Range is either an open floor or a bounded interval
type Range struct {
	low           Version
	high          Version
	lowInclusive  bool
	highInclusive bool
	bounded       bool
	text          string
}

// AtLeast returns the open range [v, infinity)
func AtLeast(v Version) Range {
	return Range{low: v, lowInclusive: true, text: v.String()}
}

// ParseRange parses a bare version or an interval such as "[1.0,2.0)"
func ParseRange(text string) (Range, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Range{}, &ParseError{Text: text, Reason: "empty"}
	}

	first := s[0]
	if first != '[' && first != '(' {
		v, err := Parse(s)
		if err != nil {
			return Range{}, &ParseError{Text: text, Reason: err.Error()}
		}
		return AtLeast(v), nil
	}

	last := s[len(s)-1]
	if last != ']' && last != ')' {
		return Range{}, &ParseError{Text: text, Reason: "missing closing bracket"}
	}

	bounds := strings.Split(s[1:len(s)-1], ",")
	if len(bounds) != 2 {
		return Range{}, &ParseError{Text: text, Reason: "expected two bounds"}
	}

	low, err := Parse(bounds[0])
	if err != nil {
		return Range{}, &ParseError{Text: text, Reason: "low bound: " + err.Error()}
	}
	high, err := Parse(bounds[1])
	if err != nil {
		return Range{}, &ParseError{Text: text, Reason: "high bound: " + err.Error()}
	}

	r := Range{
		low:           low,
		high:          high,
		lowInclusive:  first == '[',
		highInclusive: last == ']',
		bounded:       true,
		text:          s,
	}
	if high.Less(low) {
		return Range{}, &ParseError{Text: text, Reason: "low bound is above high bound"}
	}
	return r, nil
}

// MustParseRange is like ParseRange but panics on malformed text
func MustParseRange(text string) Range {
	r, err := ParseRange(text)
	if err != nil {
		panic(err)
	}
	return r
}

// Includes reports whether v is inside the range
func (r Range) Includes(v Version) bool {
	c := v.Compare(r.low)
	if c < 0 || (c == 0 && !r.lowInclusive) {
		return false
	}
	if !r.bounded {
		return true
	}
	c = v.Compare(r.high)
	return c < 0 || (c == 0 && r.highInclusive)
}

// Low returns the lower bound
func (r Range) Low() Version { return r.low }

// High returns the upper bound and whether one exists
func (r Range) High() (Version, bool) { return r.high, r.bounded }

// IsInterval reports whether the range was written with brackets
func (r Range) IsInterval() bool { return r.bounded }

func (r Range) String() string {
	if r.text != "" {
		return r.text
	}
	if !r.bounded {
		return r.low.String()
	}
	open, closing := "(", ")"
	if r.lowInclusive {
		open = "["
	}
	if r.highInclusive {
		closing = "]"
	}
	return open + r.low.String() + "," + r.high.String() + closing
}
