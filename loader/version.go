package loader

import "fmt"

// VersionTriple is a Major.Minor.Patch triple, matching original_source's
// SVM_VER_MAJOR/MINOR/PATCH trio (include/svm/Version.hpp).
type VersionTriple struct {
	Major, Minor, Patch int
}

func (v VersionTriple) String() string { return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch) }

// FileFormatVersion and BytecodeVersion are the highest wire-format and
// bytecode versions this loader accepts; a byte file declaring a newer
// version than either is rejected by the header check in Load.
var (
	FileFormatVersion = VersionTriple{0, 2, 0}
	BytecodeVersion   = VersionTriple{0, 4, 0}
)
