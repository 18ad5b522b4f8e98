package baseline

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lathe/pkg/observability"
	"github.com/platinummonkey/lathe/pkg/report"
	"github.com/platinummonkey/lathe/pkg/version"
)

// Info is the baseline result for one exported package
type Info struct {
	Package   string
	Older     version.Version
	Newer     version.Version
	Severity  Severity
	Suggested version.Version
	Mismatch  bool
	Location  *report.Location
	Diff      Diff
}

// BundleInfo is the baseline result for the artifact version
type BundleInfo struct {
	Bsn       string
	Older     version.Version
	Newer     version.Version
	Severity  Severity
	Suggested version.Version
	Mismatch  bool
	Location  *report.Location
}

// Result holds the outcome of a baseline check
type Result struct {
	Packages []Info
	Bundle   BundleInfo
}

// MismatchError reports a declared version below the required bump
type MismatchError struct {
	// Package is empty for the bundle version
	Package   string
	Declared  version.Version
	Suggested version.Version
	Severity  Severity
	Location  *report.Location
}

func (e *MismatchError) Error() string {
	subject := "bundle version"
	if e.Package != "" {
		subject = "package " + e.Package
	}
	return fmt.Sprintf("baseline mismatch for %s: %s change requires version %s, declared %s",
		subject, e.Severity, e.Suggested, e.Declared)
}

// Mismatches returns a MismatchError per mismatched package, then the
// bundle mismatch if any
func (r *Result) Mismatches() []*MismatchError {
	var out []*MismatchError
	for _, info := range r.Packages {
		if info.Mismatch {
			out = append(out, &MismatchError{
				Package:   info.Package,
				Declared:  info.Newer,
				Suggested: info.Suggested,
				Severity:  info.Severity,
				Location:  info.Location,
			})
		}
	}
	if r.Bundle.Mismatch {
		out = append(out, &MismatchError{
			Declared:  r.Bundle.Newer,
			Suggested: r.Bundle.Suggested,
			Severity:  r.Bundle.Severity,
			Location:  r.Bundle.Location,
		})
	}
	return out
}

// Report records every mismatch as an error on rep
func (r *Result) Report(rep *report.Reporter) {
	for _, m := range r.Mismatches() {
		if m.Location != nil {
			rep.ErrorAt(*m.Location, "%s", m.Error())
			continue
		}
		rep.Errorf("%s", m.Error())
	}
}

// Locator returns where a package version is declared. The empty package
// name asks for the bundle version. A nil location is allowed.
type Locator func(pkg string) *report.Location

// Baseliner compares APIs
type Baseliner struct {
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

// NewBaseliner creates a baseliner; both arguments may be nil
func NewBaseliner(logger logrus.FieldLogger, metrics *observability.Metrics) *Baseliner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Baseliner{logger: logger, metrics: metrics}
}

// Check compares newer against older
func (b *Baseliner) Check(older, newer *API, locate Locator) (*Result, error) {
	if older == nil || newer == nil {
		return nil, fmt.Errorf("baseline requires both APIs")
	}
	if locate == nil {
		locate = func(string) *report.Location { return nil }
	}

	names := make(map[string]bool)
	for _, p := range older.Packages {
		names[p.Name] = true
	}
	for _, p := range newer.Packages {
		names[p.Name] = true
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	result := &Result{}
	bundleSeverity := SeverityNone
	for _, name := range sorted {
		op, np := older.Package(name), newer.Package(name)
		d := DiffPackages(op, np)
		if d.Severity > bundleSeverity {
			bundleSeverity = d.Severity
		}
		if np == nil {
			b.logger.WithFields(logrus.Fields{"bsn": newer.Bsn, "package": name}).Debug("Exported package removed")
			continue
		}

		info := Info{
			Package:  name,
			Newer:    np.Version,
			Severity: d.Severity,
			Diff:     d,
		}
		if op == nil {
			info.Suggested = np.Version
		} else {
			info.Older = op.Version
			info.Suggested = d.Severity.Bump(op.Version)
			info.Mismatch = np.Version.Base().Less(info.Suggested)
		}
		if info.Mismatch {
			info.Location = locate(name)
			b.metrics.RecordBaselineMismatch(newer.Bsn)
		}
		result.Packages = append(result.Packages, info)
	}

	bundle := BundleInfo{
		Bsn:       newer.Bsn,
		Older:     older.Version,
		Newer:     newer.Version,
		Severity:  bundleSeverity,
		Suggested: bundleSeverity.Bump(older.Version),
	}
	bundle.Mismatch = newer.Version.Base().Less(bundle.Suggested)
	if bundle.Mismatch {
		bundle.Location = locate("")
		b.metrics.RecordBaselineMismatch(newer.Bsn)
	}
	result.Bundle = bundle

	b.logger.WithFields(logrus.Fields{
		"bsn":        newer.Bsn,
		"older":      older.Version.String(),
		"newer":      newer.Version.String(),
		"severity":   bundleSeverity.String(),
		"mismatches": len(result.Mismatches()),
	}).Info("Baseline checked")

	return result, nil
}
