// Package clause parses path declarations of the form
// "name;attr=val;attr2=\"quoted, val\", name2;...".
package clause

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrSyntax is returned for malformed clause text
var ErrSyntax = errors.New("clause syntax error")

// Clause is one named entry with its attributes. Directives (key:=value)
// are stored under their key with a trailing colon.
type Clause struct {
	Name  string
	Attrs map[string]string
}

// Key returns the name without the duplicate marker suffix
func (c Clause) Key() string {
	return strings.TrimRight(c.Name, "~")
}

// Attr returns an attribute value or the fallback
func (c Clause) Attr(key, fallback string) string {
	if v, ok := c.Attrs[key]; ok {
		return v
	}
	return fallback
}

func (c Clause) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	keys := make([]string, 0, len(c.Attrs))
	for k := range c.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := c.Attrs[k]
		b.WriteByte(';')
		b.WriteString(k + "=")
		if strings.ContainsAny(v, ",;=\" ") {
			b.WriteString(`"` + strings.ReplaceAll(v, `"`, `\"`) + `"`)
		} else {
			b.WriteString(v)
		}
	}
	return b.String()
}

// Format renders clauses back to their textual form
func Format(clauses []Clause) string {
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}

// Parse splits text into clauses. Blank input yields no clauses.
func Parse(text string) ([]Clause, error) {
	entries, err := split(text, ',')
	if err != nil {
		return nil, err
	}

	var clauses []Clause
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		parts, err := split(entry, ';')
		if err != nil {
			return nil, err
		}

		name := strings.TrimSpace(parts[0])
		if name == "" || strings.Contains(name, "=") {
			return nil, fmt.Errorf("%w: missing name in %q", ErrSyntax, strings.TrimSpace(entry))
		}

		c := Clause{Name: name, Attrs: map[string]string{}}
		for _, p := range parts[1:] {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			eq := strings.IndexByte(p, '=')
			if eq <= 0 {
				return nil, fmt.Errorf("%w: attribute %q of %s has no value", ErrSyntax, p, name)
			}
			key := strings.TrimSpace(p[:eq])
			if strings.HasSuffix(key, ":") {
				key = strings.TrimSpace(strings.TrimSuffix(key, ":")) + ":"
			}
			c.Attrs[key] = unquote(strings.TrimSpace(p[eq+1:]))
		}
		clauses = append(clauses, c)
	}
	return clauses, nil
}

// split cuts s at sep outside of double quotes
func split(s string, sep byte) ([]string, error) {
	var out []string
	var cur strings.Builder
	quoted := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\\' && quoted && i+1 < len(s):
			cur.WriteByte(ch)
			cur.WriteByte(s[i+1])
			i++
			continue
		case ch == '"':
			quoted = !quoted
		case ch == sep && !quoted:
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(ch)
	}
	if quoted {
		return nil, fmt.Errorf("%w: unterminated quote in %q", ErrSyntax, s)
	}
	return append(out, cur.String()), nil
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return strings.ReplaceAll(v[1:len(v)-1], `\"`, `"`)
	}
	return v
}
