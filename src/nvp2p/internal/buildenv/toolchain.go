package buildenv

import (
	"os/exec"
)

// nativeBuildDeps are the binaries required to compile out-of-tree kernel
// modules on the host.
var nativeBuildDeps = []string{"gcc", "make"}

// MissingTools returns the required build binaries absent from PATH.
func MissingTools() []string {
	var missing []string
	for _, bin := range nativeBuildDeps {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}
	return missing
}

// HaveToolchain reports whether the host can compile kernel modules natively.
func HaveToolchain() bool {
	return len(MissingTools()) == 0
}
