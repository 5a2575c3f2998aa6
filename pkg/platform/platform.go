// Package platform identifies the host operating system family and CPU
// architecture so the matching redis artifact can be selected.
package platform

import "fmt"

// OS is an operating system family.
type OS string

const (
	Unix    OS = "unix"
	Windows OS = "windows"
	MacOSX  OS = "macosx"
)

// Arch is a CPU architecture.
type Arch string

const (
	X86   Arch = "x86"
	AMD64 Arch = "amd64"
	ARM64 Arch = "arm64"
)

// Key is an (OS, architecture) pair. It is a comparable value and is used as
// the key of executable mappings.
type Key struct {
	OS   OS
	Arch Arch
}

// String renders the artifact suffix for the key, e.g. "linux-amd64".
func (k Key) String() string {
	return fmt.Sprintf("%s-%s", k.OS.artifactName(), k.Arch.artifactName())
}

func (o OS) artifactName() string {
	switch o {
	case Unix:
		return "linux"
	case MacOSX:
		return "darwin"
	default:
		return string(o)
	}
}

func (a Arch) artifactName() string {
	if a == X86 {
		return "386"
	}
	return string(a)
}

var (
	UnixX86     = Key{OS: Unix, Arch: X86}
	UnixAMD64   = Key{OS: Unix, Arch: AMD64}
	UnixARM64   = Key{OS: Unix, Arch: ARM64}
	MacOSXAMD64 = Key{OS: MacOSX, Arch: AMD64}
	MacOSXARM64 = Key{OS: MacOSX, Arch: ARM64}
)

// Supported returns the platforms for which default artifacts exist.
func Supported() []Key {
	return []Key{UnixX86, UnixAMD64, UnixARM64, MacOSXAMD64, MacOSXARM64}
}

// Archs returns every known architecture.
func Archs() []Arch {
	return []Arch{X86, AMD64, ARM64}
}
