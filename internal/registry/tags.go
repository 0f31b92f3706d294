package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultPlatform is the platform of the remote execution hosts.
const DefaultPlatform = "linux_x86_64"

// DefaultPython is the interpreter assumed when no target version is given.
var DefaultPython = PythonVersion{Major: 3, Minor: 11, Patch: -1}

// manylinuxGlibcMinor is the newest glibc 2.x the remote hosts provide.
const manylinuxGlibcMinor = 35

// Legacy manylinux aliases and the glibc minor version they stand for.
var legacyManylinux = map[string]int{
	"manylinux1":    5,
	"manylinux2010": 12,
	"manylinux2014": 17,
}

// PythonVersion is a target interpreter version, major.minor[.patch].
type PythonVersion struct {
	Major int
	Minor int
	Patch int // -1 when not given
}

// ParsePythonVersion parses "3.11" or "3.11.4".
func ParsePythonVersion(s string) (PythonVersion, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return PythonVersion{}, fmt.Errorf("invalid python version %q: want major.minor[.patch]", s)
	}
	nums := make([]int, 3)
	nums[2] = -1
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return PythonVersion{}, fmt.Errorf("invalid python version %q", s)
		}
		nums[i] = n
	}
	return PythonVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v PythonVersion) String() string {
	if v.Patch < 0 {
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Target is the remote runtime a build has to match.
type Target struct {
	Python   PythonVersion
	Platform string
}

// Tag is one interpreter-abi-platform triple of a wheel.
type Tag struct {
	Interpreter string
	ABI         string
	Platform    string
}

func (t Tag) String() string {
	return t.Interpreter + "-" + t.ABI + "-" + t.Platform
}

// ExpandTags expands compressed tag sets such as "py2.py3-none-any" into
// every triple they stand for.
func ExpandTags(interpreters, abis, platforms string) []Tag {
	var tags []Tag
	for _, i := range strings.Split(interpreters, ".") {
		for _, a := range strings.Split(abis, ".") {
			for _, p := range strings.Split(platforms, ".") {
				tags = append(tags, Tag{Interpreter: i, ABI: a, Platform: p})
			}
		}
	}
	return tags
}

// Supports reports whether a wheel carrying tag can be installed on t.
func (t Target) Supports(tag Tag) bool {
	return t.supportsInterpreter(tag.Interpreter, tag.ABI) &&
		t.supportsABI(tag.ABI) &&
		t.supportsPlatform(tag.Platform)
}

func (t Target) supportsInterpreter(interp, abi string) bool {
	switch {
	case strings.HasPrefix(interp, "py"):
		major, minor, ok := splitPyVersion(interp[2:])
		if !ok || major != t.Python.Major {
			return false
		}
		return minor < 0 || minor <= t.Python.Minor
	case strings.HasPrefix(interp, "cp"):
		major, minor, ok := splitPyVersion(interp[2:])
		if !ok || major != t.Python.Major {
			return false
		}
		if minor < 0 {
			return true
		}
		if abi == "abi3" {
			return minor <= t.Python.Minor
		}
		return minor == t.Python.Minor
	}
	return false
}

func (t Target) supportsABI(abi string) bool {
	if abi == "none" || abi == "abi3" {
		return true
	}
	if !strings.HasPrefix(abi, "cp") {
		return false
	}
	digits := strings.TrimRight(abi[2:], "abcdefghijklmnopqrstuvwxyz")
	major, minor, ok := splitPyVersion(digits)
	return ok && major == t.Python.Major && minor == t.Python.Minor
}

func (t Target) supportsPlatform(plat string) bool {
	if plat == "any" || plat == t.Platform {
		return true
	}
	arch, ok := strings.CutPrefix(t.Platform, "linux_")
	if !ok {
		return false
	}

	for alias, glibcMinor := range legacyManylinux {
		if plat == alias+"_"+arch {
			return glibcMinor <= manylinuxGlibcMinor
		}
	}

	// manylinux_<major>_<minor>_<arch>
	rest, ok := strings.CutPrefix(plat, "manylinux_")
	if !ok {
		return false
	}
	fields := strings.SplitN(rest, "_", 3)
	if len(fields) != 3 || fields[2] != arch {
		return false
	}
	glibcMajor, err1 := strconv.Atoi(fields[0])
	glibcMinor, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil {
		return false
	}
	return glibcMajor < 2 || (glibcMajor == 2 && glibcMinor <= manylinuxGlibcMinor)
}

// splitPyVersion splits the digits of a python tag: "3" -> (3, -1),
// "311" -> (3, 11), "27" -> (2, 7).
func splitPyVersion(digits string) (major, minor int, ok bool) {
	if digits == "" {
		return 0, 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, 0, false
		}
	}
	major = int(digits[0] - '0')
	if len(digits) == 1 {
		return major, -1, true
	}
	minor, _ = strconv.Atoi(digits[1:])
	return major, minor, true
}
