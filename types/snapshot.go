package types

import "fmt"

// Snapshot is an on-disk VM directory tagged with the epoch and processed
// input count it was taken at. Ownership is exclusive to the snapshot
// manager; consumers only ever receive read-only path references (spec.md
// §3, §4.8).
type Snapshot struct {
	Path                 string
	Epoch                uint64
	ProcessedInputCount  uint64
}

// Dir returns the canonical on-disk directory name for the snapshot, per
// spec.md §6: "<root>/<epoch>_<processed_input_count>/".
func (s *Snapshot) Dir() string {
	return fmt.Sprintf("%d_%d", s.Epoch, s.ProcessedInputCount)
}
