// Package baseline enforces semantic versioning of exported packages.
//
// A build publishes the API it exports as an API document: one entry per
// exported package with the package version and a tree of elements. The
// Baseliner compares the API of a new build with the API of a previous
// release and classifies every difference:
//
//	removed element                     MAJOR
//	changed element                     MAJOR
//	added abstract member (consumer)    MAJOR
//	added element                       MINOR
//	digest only                         MICRO
//
// The suggested version of a package is the minimal bump of its previous
// version implied by the most severe difference. A declared version below
// the suggestion is a mismatch, reported at the line declaring it.
//
// SelectBaseline picks which previous release to compare against.
package baseline
