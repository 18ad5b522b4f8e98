// Package version implements component versions and version ranges.
//
// A Version is a (major, minor, micro, qualifier) tuple. Versions are ordered
// by the numeric triple first and then by a lexical comparison of the
// qualifier, so "1.0.0" < "1.0.0.RC1" < "1.0.0.RC2" < "1.0.1".
//
// A Range is either a bare version, meaning "this version or higher", or a
// bracketed interval with independently inclusive or exclusive bounds:
//
//	r, err := version.ParseRange("[1.0.0,2.0.0)")
//	if err != nil {
//		return err
//	}
//	r.Includes(version.MustParse("1.5.0")) // true
//	r.Includes(version.MustParse("2.0.0")) // false
//
// Both types are immutable values and safe to share between goroutines.
package version
