// Package merge combines the remote and local metric snapshots.
//
// Two read paths coexist: Latest keeps the freshest point per operation
// regardless of source and feeds health and compliance; PreferRemote picks a
// whole source for bulk displays such as trend series.
package merge

import (
	"sort"

	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

// Latest returns the freshest MetricPoint per operation across both sources.
// Ties on timestamp keep remote before local, then input order.
func Latest(remote, local []telemetry.MetricPoint) map[string]telemetry.MetricPoint {
	all := make([]telemetry.MetricPoint, 0, len(remote)+len(local))
	all = append(all, remote...)
	all = append(all, local...)

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})

	latest := make(map[string]telemetry.MetricPoint, len(all))
	for _, p := range all {
		if _, seen := latest[p.Operation]; !seen {
			latest[p.Operation] = p
		}
	}
	return latest
}

// PreferRemote treats remote as the source of truth and falls back to local
// only when remote holds no items at all.
func PreferRemote(remote, local []telemetry.MetricPoint) []telemetry.MetricPoint {
	if len(remote) > 0 {
		return remote
	}
	return local
}
