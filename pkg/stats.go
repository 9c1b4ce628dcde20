package cache

// stats.go exposes the advisory diagnostic operation from spec.md §6 as a
// typed Go struct, and mirrors it into Prometheus when metrics are enabled.
//
// © 2025 segcache authors. MIT License.

// Snapshot is the diagnostic statistics snapshot spec.md §6 describes. Its
// exact shape is advisory, not part of the contract.
type Snapshot struct {
	Size                int64
	SlotCount           int64
	TombstoneCount      int64
	SubMapDepth         int
	Shared              bool
	AvgProbeDistancePct float64
	MaxProbeDistance    int64
}

// Stats computes a fresh Snapshot by walking the current segment tree.
func (c *Cache[K, V]) Stats() Snapshot {
	d := c.root.Load().Diagnostics()
	snap := Snapshot{
		Size:                d.Size,
		SlotCount:           d.SlotCount,
		TombstoneCount:      d.TombstoneCount,
		SubMapDepth:         d.SubMapDepth,
		Shared:              c.shared,
		AvgProbeDistancePct: d.AvgProbeDistancePct,
		MaxProbeDistance:    d.MaxProbeDistance,
	}
	c.metrics.setProbeAvg(snap.AvgProbeDistancePct)
	c.metrics.setProbeMax(snap.MaxProbeDistance)
	return snap
}
