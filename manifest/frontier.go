package manifest

import (
	"fmt"
	"sort"

	"github.com/hupe1980/olapgo/rowset"
)

// Frontier selects the consistent set of rowsets covering versions
// [0, target]: contiguous, non-overlapping ranges ordered by first version.
// Compacted rowsets shadow the singleton rowsets their range contains. An
// uncoverable target is an error.
func (m *Manifest) Frontier(target int64) ([]RowsetInfo, error) {
	if target < 0 {
		return nil, fmt.Errorf("manifest: negative target version %d", target)
	}

	// Prefer the widest range starting at each position so compaction output
	// shadows its inputs.
	byFirst := make(map[int64]RowsetInfo)
	for _, info := range m.Rowsets {
		if cur, ok := byFirst[info.Version.First]; !ok || info.Version.Last > cur.Version.Last {
			byFirst[info.Version.First] = info
		}
	}

	var frontier []RowsetInfo
	next := int64(0)
	for next <= target {
		info, ok := byFirst[next]
		if !ok {
			return nil, fmt.Errorf("manifest: version hole at %d targeting %d", next, target)
		}
		frontier = append(frontier, info)
		next = info.Version.Last + 1
	}
	return frontier, nil
}

// MaxVersion returns the highest contiguous version reachable from 0, or -1
// when the manifest is empty.
func (m *Manifest) MaxVersion() int64 {
	infos := append([]RowsetInfo(nil), m.Rowsets...)
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Version.First != infos[j].Version.First {
			return infos[i].Version.First < infos[j].Version.First
		}
		return infos[i].Version.Last > infos[j].Version.Last
	})

	max := int64(-1)
	for _, info := range infos {
		if info.Version.First > max+1 {
			break
		}
		if info.Version.Last > max {
			max = info.Version.Last
		}
	}
	return max
}

// Add registers a newly published rowset.
func (m *Manifest) Add(info RowsetInfo) {
	m.Rowsets = append(m.Rowsets, info)
}

// Replace swaps compaction inputs for their merged output. Inputs are
// matched by rowset id; missing inputs are an error so a stale compaction
// cannot corrupt the manifest.
func (m *Manifest) Replace(inputIDs []uint64, output RowsetInfo) error {
	drop := make(map[uint64]bool, len(inputIDs))
	for _, id := range inputIDs {
		drop[id] = true
	}

	kept := m.Rowsets[:0]
	covered := rowset.Version{First: output.Version.First, Last: output.Version.Last}
	found := 0
	for _, info := range m.Rowsets {
		if drop[info.RowsetID] {
			if !covered.Contains(info.Version) {
				return fmt.Errorf("manifest: rowset %d version %s outside output %s",
					info.RowsetID, info.Version, covered)
			}
			found++
			continue
		}
		kept = append(kept, info)
	}
	if found != len(inputIDs) {
		return fmt.Errorf("manifest: %d of %d compaction inputs not found", len(inputIDs)-found, len(inputIDs))
	}

	m.Rowsets = append(kept, output)
	return nil
}
