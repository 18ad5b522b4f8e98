package baseline

import (
	"context"
	"sort"

	"github.com/platinummonkey/lathe/pkg/repository"
	"github.com/platinummonkey/lathe/pkg/version"
)

// PhaseSource reports whether a release is staged or final
type PhaseSource interface {
	Phase(ctx context.Context, bsn string, v version.Version) (repository.Phase, bool)
}

// SelectBaseline picks the release to baseline current against. A pinned
// version wins when it is among versions. Otherwise the highest version
// strictly below current.Base() is chosen, keeping the latest qualifier per
// base version and preferring final over staged releases when phases is
// not nil.
func SelectBaseline(ctx context.Context, versions []version.Version, bsn string, current version.Version, pinned *version.Version, phases PhaseSource) (version.Version, bool) {
	if pinned != nil {
		for _, v := range versions {
			if v.Equal(*pinned) {
				return v, true
			}
		}
		return version.Version{}, false
	}

	limit := current.Base()
	byBase := make(map[version.Version][]version.Version)
	for _, v := range versions {
		if v.Base().Less(limit) {
			byBase[v.Base()] = append(byBase[v.Base()], v)
		}
	}
	if len(byBase) == 0 {
		return version.Version{}, false
	}

	bases := make([]version.Version, 0, len(byBase))
	for base := range byBase {
		bases = append(bases, base)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[j].Less(bases[i]) })

	var staged *version.Version
	for _, base := range bases {
		candidates := byBase[base]
		sort.Slice(candidates, func(i, j int) bool { return candidates[j].Less(candidates[i]) })

		pick, final := latest(ctx, phases, bsn, candidates)
		if final {
			return pick, true
		}
		if staged == nil {
			p := pick
			staged = &p
		}
	}
	return *staged, true
}

// latest returns the newest candidate, preferring a final one. candidates
// are sorted newest first. The second result is false when the pick is a
// staged release.
func latest(ctx context.Context, phases PhaseSource, bsn string, candidates []version.Version) (version.Version, bool) {
	if phases == nil {
		return candidates[0], true
	}
	for _, c := range candidates {
		phase, ok := phases.Phase(ctx, bsn, c)
		if !ok || phase != repository.PhaseStaging {
			return c, true
		}
	}
	return candidates[0], false
}
