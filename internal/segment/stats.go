package segment

// Diagnostics is the advisory statistics snapshot spec.md §6 describes
// ("a statistics-print operation... size, entry-count, slot-count, sub-map
// depth, tombstone count,... average probe distance (percent of size), and
// max probe distance"). Format is explicitly not part of the contract, so
// AvgProbeDistancePct is this implementation's own choice: the mean probe
// distance across all live entries, expressed as a percentage of total
// live entry count.
type Diagnostics struct {
	Size                int64
	SlotCount           int64
	TombstoneCount      int64
	SubMapDepth         int
	AvgProbeDistancePct float64
	MaxProbeDistance    int64

	probeSum int64
}

// Diagnostics walks the full segment tree rooted at s and summarizes it.
// Safe for concurrent callers: it only ever reads atomic fields and
// snapshotted table pointers, same as Get.
func (s *Segment[K, V]) Diagnostics() Diagnostics {
	var d Diagnostics
	s.walkDiagnostics(&d, 0)
	if d.Size > 0 {
		d.AvgProbeDistancePct = (float64(d.probeSum) / float64(d.Size)) / float64(d.Size) * 100
	}
	return d
}

func (s *Segment[K, V]) walkDiagnostics(d *Diagnostics, depth int) {
	if depth > d.SubMapDepth {
		d.SubMapDepth = depth
	}
	if !s.useSubMaps.Load() {
		tbl := *s.cur.Load()
		mask := uint32(len(tbl) - 1)
		tomb := s.ctx.Chain.Tombstone()

		d.SlotCount += int64(len(tbl))
		d.TombstoneCount += s.tombstoneCount.Load()

		for idx := range tbl {
			e := tbl[idx].Load()
			if e == nil || e == tomb {
				continue
			}
			d.Size++
			ideal := uint32(e.KeyHash()) >> s.keyShift
			dist := int64((uint32(idx) - ideal) & mask)
			d.probeSum += dist
			if dist > d.MaxProbeDistance {
				d.MaxProbeDistance = dist
			}
		}
		return
	}
	for _, child := range s.children {
		child.walkDiagnostics(d, depth+1)
	}
}
