package models

// Snapshot is the persisted registry state, keyed by device id
type Snapshot map[string]Device

// Clone deep-copies every device in the snapshot
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, dev := range s {
		out[id] = dev.Clone()
	}
	return out
}
