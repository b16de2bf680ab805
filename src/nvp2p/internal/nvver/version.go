// Package nvver provides typed parsing and ordering for NVIDIA driver
// versions and kernel release strings.
package nvver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PatchSuffix is the branch-naming suffix of upstream source variants that
// carry the peer-to-peer patch.
const PatchSuffix = "-p2p"

var driverPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// DriverVersion is a dotted-triple driver version, e.g. 590.48.01.
// Leading zeros in a component are preserved for display but ignored for
// ordering.
type DriverVersion struct {
	Major, Minor, Patch int

	// raw preserves the exact spelling the version was parsed from
	raw string
}

// ParseDriver parses a dotted-triple driver version string.
func ParseDriver(s string) (DriverVersion, error) {
	m := driverPattern.FindStringSubmatch(s)
	if m == nil || m[0] != s {
		return DriverVersion{}, fmt.Errorf("unparseable driver version %q", s)
	}
	return newDriver(m), nil
}

// ExtractDriver scans a driver package filename for the first occurrence of
// a three-part dotted numeric token and returns it as a DriverVersion.
func ExtractDriver(filename string) (DriverVersion, error) {
	m := driverPattern.FindStringSubmatch(filename)
	if m == nil {
		return DriverVersion{}, fmt.Errorf("no driver version in %q", filename)
	}
	return newDriver(m), nil
}

func newDriver(m []string) DriverVersion {
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return DriverVersion{Major: major, Minor: minor, Patch: patch, raw: m[0]}
}

// String returns the version in its original spelling.
func (v DriverVersion) String() string {
	if v.raw != "" {
		return v.raw
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// IsZero reports whether v is the zero value.
func (v DriverVersion) IsZero() bool {
	return v == DriverVersion{}
}

// Compare returns -1, 0, or 1 ordering v against o numerically per
// component, so 590.9.1 sorts before 590.10.0.
func (v DriverVersion) Compare(o DriverVersion) int {
	pairs := [][2]int{
		{v.Major, o.Major},
		{v.Minor, o.Minor},
		{v.Patch, o.Patch},
	}
	for _, p := range pairs {
		if p[0] != p[1] {
			if p[0] < p[1] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Equal reports whether two versions are numerically identical.
func (v DriverVersion) Equal(o DriverVersion) bool {
	return v.Compare(o) == 0
}

// PatchBranch returns the upstream branch name carrying the peer-to-peer
// patch for this version.
func (v DriverVersion) PatchBranch() string {
	return v.String() + PatchSuffix
}

// DriverFromBranch parses a patched branch name ("<version>-p2p") back into
// a DriverVersion. Returns false if the name does not match the convention.
func DriverFromBranch(branch string) (DriverVersion, bool) {
	if !strings.HasSuffix(branch, PatchSuffix) {
		return DriverVersion{}, false
	}
	v, err := ParseDriver(strings.TrimSuffix(branch, PatchSuffix))
	if err != nil {
		return DriverVersion{}, false
	}
	return v, true
}

// Sort orders versions ascending in place under numeric component ordering.
func Sort(versions []DriverVersion) {
	for i := 1; i < len(versions); i++ {
		for j := i; j > 0 && versions[j].Compare(versions[j-1]) < 0; j-- {
			versions[j], versions[j-1] = versions[j-1], versions[j]
		}
	}
}

// Latest returns the maximum version under numeric component ordering.
// Returns false for an empty set.
func Latest(versions []DriverVersion) (DriverVersion, bool) {
	if len(versions) == 0 {
		return DriverVersion{}, false
	}
	latest := versions[0]
	for _, v := range versions[1:] {
		if v.Compare(latest) > 0 {
			latest = v
		}
	}
	return latest, true
}

// KernelVersion is a kernel release identifier, e.g. "6.12.54-Unraid".
// Full is used verbatim for in-package module paths; Short (the dotted
// triple without the suffix) keys the package directory tree.
type KernelVersion struct {
	Full   string
	Short  string
	Suffix string
}

// ParseKernel parses a kernel release string of the form
// "<major>.<minor>.<sublevel>[-suffix]".
func ParseKernel(s string) (KernelVersion, error) {
	s = strings.TrimSpace(s)
	m := driverPattern.FindStringIndex(s)
	if m == nil || m[0] != 0 {
		return KernelVersion{}, fmt.Errorf("unparseable kernel version %q", s)
	}
	kv := KernelVersion{
		Full:  s,
		Short: s[:m[1]],
	}
	rest := s[m[1]:]
	if strings.HasPrefix(rest, "-") {
		kv.Suffix = rest[1:]
	} else if rest != "" {
		return KernelVersion{}, fmt.Errorf("unparseable kernel version %q", s)
	}
	return kv, nil
}

// String returns the full kernel release string.
func (k KernelVersion) String() string {
	return k.Full
}

// IsZero reports whether k is the zero value.
func (k KernelVersion) IsZero() bool {
	return k.Full == ""
}
