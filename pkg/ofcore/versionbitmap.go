package ofcore

import "math/bits"

// MinVersion and MaxVersion bound the closed range of protocol versions
// a VersionBitmap can represent (§3).
const (
	MinVersion = 1
	MaxVersion = 6
)

// VersionBitmap is a set over the closed range [MinVersion, MaxVersion].
// The zero value is the empty set.
type VersionBitmap struct {
	bits uint64
}

// NewVersionBitmap returns a bitmap containing exactly the given
// versions. Versions outside [MinVersion, MaxVersion] are ignored.
func NewVersionBitmap(versions ...int) VersionBitmap {
	var v VersionBitmap
	for _, ver := range versions {
		v.Add(ver)
	}
	return v
}

// Add inserts ver into the set. A ver outside the supported range is a
// no-op.
func (v *VersionBitmap) Add(ver int) {
	if ver < MinVersion || ver > MaxVersion {
		return
	}
	v.bits |= 1 << uint(ver)
}

// Has reports whether ver is present in the set.
func (v VersionBitmap) Has(ver int) bool {
	if ver < MinVersion || ver > MaxVersion {
		return false
	}
	return v.bits&(1<<uint(ver)) != 0
}

// Empty reports whether the set has no members.
func (v VersionBitmap) Empty() bool {
	return v.bits == 0
}

// Union returns the set union of v and other.
func (v VersionBitmap) Union(other VersionBitmap) VersionBitmap {
	return VersionBitmap{bits: v.bits | other.bits}
}

// Intersect returns the set intersection of v and other.
func (v VersionBitmap) Intersect(other VersionBitmap) VersionBitmap {
	return VersionBitmap{bits: v.bits & other.bits}
}

// Highest returns the highest version present and true, or (0, false)
// if the set is empty. Used to pick the negotiated version from an
// intersection, per §4.2.
func (v VersionBitmap) Highest() (int, bool) {
	if v.bits == 0 {
		return 0, false
	}
	return bits.Len64(v.bits) - 1, true
}

// Versions returns the set's members in ascending order.
func (v VersionBitmap) Versions() []int {
	out := make([]int, 0, MaxVersion-MinVersion+1)
	for ver := MinVersion; ver <= MaxVersion; ver++ {
		if v.Has(ver) {
			out = append(out, ver)
		}
	}
	return out
}
