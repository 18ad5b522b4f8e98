package version

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidVersion is returned when version text cannot be parsed
var ErrInvalidVersion = errors.New("invalid version")

// Zero is the lowest possible version, 0.0.0
var Zero = Version{}

// Version is an immutable component version
type Version struct {
	Major     int
	Minor     int
	Micro     int
	Qualifier string
}

// New creates a version without a qualifier
func New(major, minor, micro int) Version {
	return Version{Major: major, Minor: minor, Micro: micro}
}

// Parse parses "M", "M.m", "M.m.u" or "M.m.u.qualifier"
func Parse(text string) (Version, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty text", ErrInvalidVersion)
	}

	parts := strings.SplitN(s, ".", 4)
	nums := [3]int{}
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 || parts[i] == "" || strings.HasPrefix(parts[i], "+") {
			return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, text)
		}
		nums[i] = n
	}

	v := Version{Major: nums[0], Minor: nums[1], Micro: nums[2]}
	if len(parts) == 4 {
		if !validQualifier(parts[3]) {
			return Version{}, fmt.Errorf("%w: bad qualifier in %q", ErrInvalidVersion, text)
		}
		v.Qualifier = parts[3]
	}
	return v, nil
}

// MustParse is like Parse but panics on malformed text
func MustParse(text string) Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

func validQualifier(q string) bool {
	if q == "" {
		return false
	}
	for _, r := range q {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// String always renders the three numeric segments
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Micro)
	if v.Qualifier != "" {
		s += "." + v.Qualifier
	}
	return s
}

// Compare returns -1, 0 or +1
func (v Version) Compare(o Version) int {
	if c := cmpInt(v.Major, o.Major); c != 0 {
		return c
	}
	if c := cmpInt(v.Minor, o.Minor); c != 0 {
		return c
	}
	if c := cmpInt(v.Micro, o.Micro); c != 0 {
		return c
	}
	return strings.Compare(v.Qualifier, o.Qualifier)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Less reports whether v sorts before o
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// Equal reports whether v and o are the same version
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// Base returns the version without its qualifier
func (v Version) Base() Version {
	return Version{Major: v.Major, Minor: v.Minor, Micro: v.Micro}
}

// BumpMajor returns the next major version
func (v Version) BumpMajor() Version { return Version{Major: v.Major + 1} }

// BumpMinor returns the next minor version
func (v Version) BumpMinor() Version { return Version{Major: v.Major, Minor: v.Minor + 1} }

// BumpMicro returns the next micro version
func (v Version) BumpMicro() Version {
	return Version{Major: v.Major, Minor: v.Minor, Micro: v.Micro + 1}
}

// IsZero reports whether v is 0.0.0 without qualifier
func (v Version) IsZero() bool { return v == Zero }

// MarshalText implements encoding.TextMarshaler
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Sort sorts versions ascending in place
func Sort(vs []Version) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].Less(vs[j]) })
}
