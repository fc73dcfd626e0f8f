package proc

import "fmt"

// MemoryRegion describes one contiguous mapping of the target's address
// space with uniform permissions. Regions are a point-in-time sample:
// the target can map and unmap pages at any moment, so holders must not
// assume a region still exists by the time they read from it.
type MemoryRegion struct {
	Addr uint64 // base address
	Size uint64

	Read  bool
	Write bool
	Exec  bool

	// ID identifies the mapping independently of its permissions so a
	// region that vanished between two enumerations can be recognized.
	// On Linux this is the maps-file line key (range, offset, device,
	// inode); on Darwin the base address and size.
	ID string
}

// End returns the first address past the region.
func (r MemoryRegion) End() uint64 { return r.Addr + r.Size }

// Contains reports whether the n bytes starting at addr lie entirely
// inside the region.
func (r MemoryRegion) Contains(addr uint64, n int) bool {
	return addr >= r.Addr && addr+uint64(n) <= r.End()
}

func (r MemoryRegion) String() string {
	perms := []byte("---")
	if r.Read {
		perms[0] = 'r'
	}
	if r.Write {
		perms[1] = 'w'
	}
	if r.Exec {
		perms[2] = 'x'
	}
	return fmt.Sprintf("%#x-%#x %s", r.Addr, r.End(), perms)
}

// RegionPolicy selects which regions a scan will visit.
type RegionPolicy int

const (
	// WritableOnly visits only writable regions. This is the default:
	// it narrows the search space and guarantees every candidate found
	// is editable.
	WritableOnly RegionPolicy = iota

	// ReadableOrWritable additionally visits read-only regions. The
	// candidates found there are marked non-writable and edits on them
	// are refused.
	ReadableOrWritable
)

func (p RegionPolicy) String() string {
	switch p {
	case WritableOnly:
		return "writable"
	case ReadableOrWritable:
		return "readable"
	}
	return fmt.Sprintf("RegionPolicy(%d)", int(p))
}

// SelectRegions filters regions by policy. Zero-length regions and
// execute-only regions without read permission are excluded regardless
// of policy, since there is nothing to scan in either.
func SelectRegions(regions []MemoryRegion, policy RegionPolicy) []MemoryRegion {
	selected := make([]MemoryRegion, 0, len(regions))
	for _, r := range regions {
		if r.Size == 0 {
			continue
		}
		if r.Exec && !r.Read {
			continue
		}
		switch policy {
		case WritableOnly:
			if !r.Write {
				continue
			}
		case ReadableOrWritable:
			if !r.Read && !r.Write {
				continue
			}
		}
		selected = append(selected, r)
	}
	return selected
}
