package baseline

import (
	"sort"

	"github.com/platinummonkey/lathe/pkg/version"
)

// Delta is the kind of difference between two elements
type Delta int

const (
	Unchanged Delta = iota
	Added
	Removed
	Changed
)

func (d Delta) String() string {
	return []string{"UNCHANGED", "ADDED", "REMOVED", "CHANGED"}[d]
}

// Severity is the version bump a difference requires
type Severity int

const (
	SeverityNone Severity = iota
	SeverityMicro
	SeverityMinor
	SeverityMajor
)

func (s Severity) String() string {
	return []string{"NONE", "MICRO", "MINOR", "MAJOR"}[s]
}

// Bump applies the severity to v
func (s Severity) Bump(v version.Version) version.Version {
	switch s {
	case SeverityMajor:
		return v.BumpMajor()
	case SeverityMinor:
		return v.BumpMinor()
	case SeverityMicro:
		return v.BumpMicro()
	}
	return v.Base()
}

// Diff is a node of the difference tree
type Diff struct {
	Kind     string
	Name     string
	Delta    Delta
	Severity Severity
	Children []Diff
}

// Changes returns the leaf differences in depth-first order
func (d Diff) Changes() []Diff {
	if len(d.Children) == 0 {
		if d.Delta == Unchanged {
			return nil
		}
		return []Diff{d}
	}
	var out []Diff
	for _, c := range d.Children {
		out = append(out, c.Changes()...)
	}
	if len(out) == 0 && d.Delta != Unchanged {
		out = append(out, Diff{Kind: d.Kind, Name: d.Name, Delta: d.Delta, Severity: d.Severity})
	}
	return out
}

// DiffPackages compares two versions of a package. Either may be nil.
func DiffPackages(older, newer *Package) Diff {
	switch {
	case older == nil && newer == nil:
		return Diff{Kind: "package"}
	case older == nil:
		return Diff{Kind: "package", Name: newer.Name, Delta: Added, Severity: SeverityMinor}
	case newer == nil:
		return Diff{Kind: "package", Name: older.Name, Delta: Removed, Severity: SeverityMajor}
	}

	d := Diff{Kind: "package", Name: newer.Name}
	d.Children = diffElements(older.Elements, newer.Elements, false)
	rollup(&d)

	if d.Severity == SeverityNone && older.Digest != newer.Digest {
		d.Delta = Changed
		d.Severity = SeverityMicro
	}
	return d
}

// diffElements compares sibling lists. inConsumerInterface is set for the
// members of an interface not marked as provider type.
func diffElements(older, newer []Element, inConsumerInterface bool) []Diff {
	oldByKey := make(map[string]Element, len(older))
	for _, e := range older {
		oldByKey[e.Key()] = e
	}
	newByKey := make(map[string]Element, len(newer))
	for _, e := range newer {
		newByKey[e.Key()] = e
	}

	keys := make([]string, 0, len(oldByKey)+len(newByKey))
	for k := range oldByKey {
		keys = append(keys, k)
	}
	for k := range newByKey {
		if _, ok := oldByKey[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	diffs := make([]Diff, 0, len(keys))
	for _, k := range keys {
		o, hasOld := oldByKey[k]
		n, hasNew := newByKey[k]
		switch {
		case !hasOld:
			sev := SeverityMinor
			if inConsumerInterface && n.Abstract {
				sev = SeverityMajor
			}
			diffs = append(diffs, Diff{Kind: n.Kind, Name: n.Name + n.Signature, Delta: Added, Severity: sev})
		case !hasNew:
			diffs = append(diffs, Diff{Kind: o.Kind, Name: o.Name + o.Signature, Delta: Removed, Severity: SeverityMajor})
		default:
			diffs = append(diffs, diffElement(o, n))
		}
	}
	return diffs
}

func diffElement(older, newer Element) Diff {
	d := Diff{Kind: newer.Kind, Name: newer.Name + newer.Signature}
	if older.Value != newer.Value || older.Abstract != newer.Abstract || (older.Provider && !newer.Provider) {
		d.Delta = Changed
		d.Severity = SeverityMajor
	}

	consumer := newer.Kind == KindInterface && !newer.Provider
	d.Children = diffElements(older.Members, newer.Members, consumer)
	rollup(&d)
	return d
}

// rollup lifts the most severe child difference into d
func rollup(d *Diff) {
	for _, c := range d.Children {
		if c.Delta != Unchanged && d.Delta == Unchanged {
			d.Delta = Changed
		}
		if c.Severity > d.Severity {
			d.Severity = c.Severity
		}
	}
}
