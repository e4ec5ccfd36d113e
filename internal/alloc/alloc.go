package alloc

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/hnrobert/nssync/internal/identity"
)

// Range is a closed interval of numeric ids.
type Range struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
}

func (r Range) Size() int {
	return r.End - r.Start + 1
}

func (r Range) Contains(id int) bool {
	return id >= r.Start && id <= r.End
}

func (r Range) Validate() error {
	if r.Start < 0 || r.End < 0 {
		return fmt.Errorf("allocation range [%d,%d]: bounds must be non-negative", r.Start, r.End)
	}
	if r.Start > r.End {
		return fmt.Errorf("allocation range [%d,%d]: start is after end", r.Start, r.End)
	}
	return nil
}

// Utilization is the fraction of the range that n claimed ids would occupy.
func (r Range) Utilization(n int) float64 {
	if r.Size() <= 0 {
		return 1
	}
	return float64(n) / float64(r.Size())
}

// PrimarySlot is the base-hash slot of an external id: the first eight bytes
// of SHA-256(id), big-endian, reduced modulo the range size.
func PrimarySlot(r Range, externalID string) int {
	sum := sha256.Sum256([]byte(externalID))
	h := binary.BigEndian.Uint64(sum[:8])
	return r.Start + int(h%uint64(r.Size()))
}

// Allocate assigns a gid from r to every external id. reserved holds ids
// already claimed authoritatively this pass and is not modified.
//
// Ids are processed in ascending byte order; a taken slot is probed linearly
// with wrap-around. The result depends only on (r, reserved, ids).
func Allocate(r Range, reserved map[int]bool, ids []string) (map[string]int, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	used := make(map[int]bool, len(reserved)+len(sorted))
	free := r.Size()
	for id := range reserved {
		if used[id] {
			continue
		}
		used[id] = true
		if r.Contains(id) {
			free--
		}
	}

	out := make(map[string]int, len(sorted))
	for i, id := range sorted {
		if _, done := out[id]; done {
			continue
		}
		if free <= 0 {
			return nil, &identity.AllocationExhaustedError{Start: r.Start, End: r.End, Pending: len(sorted) - i}
		}
		slot := PrimarySlot(r, id)
		for used[slot] {
			slot = r.Start + (slot-r.Start+1)%r.Size()
		}
		used[slot] = true
		free--
		out[id] = slot
	}
	return out, nil
}
