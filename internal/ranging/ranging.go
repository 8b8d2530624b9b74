// Package ranging implements the beacon ranging deduplicator (spec §4.6): a
// pure, stateless transform over a batch of observations. It is a side
// channel used only for UI display and is never consulted by the region or
// presentation engines.
package ranging

import (
	"sort"

	"github.com/fieldgate/credcore/internal/beacon"
)

// Deduplicate reduces a batch of observations to at most one entry per dedup
// key, preferring the lowest non-negative accuracy for that key; a
// negative-accuracy entry is kept only if no non-negative entry exists for
// the same key. The result is sorted by accuracy ascending.
func Deduplicate(observations []beacon.Observation) []beacon.Observation {
	best := make(map[beacon.DedupKey]beacon.Observation, len(observations))

	for _, obs := range observations {
		key := obs.Key()
		current, ok := best[key]
		if !ok {
			best[key] = obs
			continue
		}
		if preferred(obs, current) {
			best[key] = obs
		}
	}

	out := make([]beacon.Observation, 0, len(best))
	for _, obs := range best {
		out = append(out, obs)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Accuracy < out[j].Accuracy
	})

	return out
}

// preferred reports whether candidate should replace incumbent as the
// chosen observation for a dedup key.
func preferred(candidate, incumbent beacon.Observation) bool {
	candidateUsable := candidate.Accuracy >= 0
	incumbentUsable := incumbent.Accuracy >= 0

	switch {
	case candidateUsable && !incumbentUsable:
		return true
	case !candidateUsable && incumbentUsable:
		return false
	case candidateUsable && incumbentUsable:
		return candidate.Accuracy < incumbent.Accuracy
	default:
		// Neither usable: keep the first one seen (stable, no ordering
		// preference defined by spec for two unusable entries).
		return false
	}
}
