package platform

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/jrepp/embedded-redis/pkg/rediserr"
)

// Detector computes the current platform. Every input is injectable so the
// classification can be tested without the host it describes.
type Detector struct {
	// OSName returns the operating system name. Defaults to runtime.GOOS.
	OSName func() string

	// Machine returns the hardware name on unix-like systems. Defaults to
	// running `uname -m`.
	Machine func(ctx context.Context) (string, error)

	// Getenv reads environment variables. Defaults to os.Getenv.
	Getenv func(key string) string
}

// DefaultDetector returns a Detector reading the real host.
func DefaultDetector() *Detector {
	return &Detector{
		OSName:  func() string { return runtime.GOOS },
		Machine: unameMachine,
		Getenv:  os.Getenv,
	}
}

// Detect is shorthand for DefaultDetector().Detect(ctx).
func Detect(ctx context.Context) (Key, error) {
	return DefaultDetector().Detect(ctx)
}

// Detect classifies the host. Results are not cached.
func (d *Detector) Detect(ctx context.Context) (Key, error) {
	osFamily, err := d.DetectOS()
	if err != nil {
		return Key{}, err
	}

	arch, err := d.DetectArch(ctx, osFamily)
	if err != nil {
		return Key{}, err
	}

	return Key{OS: osFamily, Arch: arch}, nil
}

// DetectOS maps the operating system name onto a family.
func (d *Detector) DetectOS() (OS, error) {
	name := d.osName()
	lower := strings.ToLower(name)

	switch {
	// darwin contains "win", so the mac names are matched first
	case lower == "mac os x" || lower == "darwin":
		return MacOSX, nil
	case strings.Contains(lower, "win"):
		return Windows, nil
	case strings.Contains(lower, "nix"), strings.Contains(lower, "nux"), strings.Contains(lower, "aix"):
		return Unix, nil
	}

	return "", rediserr.PlatformDetection(fmt.Sprintf("Unrecognized operating system: %q", name), nil).
		WithContext("os_name", name)
}

// DetectArch determines the architecture for an already detected family.
func (d *Detector) DetectArch(ctx context.Context, family OS) (Arch, error) {
	switch family {
	case Windows:
		return d.windowsArch(), nil
	case Unix, MacOSX:
		return d.unixArch(ctx, family)
	default:
		return "", rediserr.PlatformDetection(fmt.Sprintf("Unrecognized operating system family: %q", family), nil)
	}
}

func (d *Detector) windowsArch() Arch {
	getenv := d.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	arch := getenv("PROCESSOR_ARCHITECTURE")
	wow64Arch := getenv("PROCESSOR_ARCHITEW6432")
	if strings.HasSuffix(arch, "64") || strings.HasSuffix(wow64Arch, "64") {
		return AMD64
	}
	return X86
}

func (d *Detector) unixArch(ctx context.Context, family OS) (Arch, error) {
	machine := d.Machine
	if machine == nil {
		machine = unameMachine
	}

	out, err := machine(ctx)
	if err != nil {
		return "", rediserr.PlatformDetection("Cannot determine architecture", err).
			WithContext("os", family)
	}

	switch strings.TrimSpace(out) {
	case "x86_64", "amd64":
		return AMD64, nil
	case "aarch64", "arm64":
		return ARM64, nil
	}

	return "", rediserr.PlatformDetection(fmt.Sprintf("Unrecognized architecture: %q", out), nil).
		WithContext("os", family)
}

func (d *Detector) osName() string {
	if d.OSName == nil {
		return runtime.GOOS
	}
	return d.OSName()
}

// unameMachine returns the first line printed by `uname -m`.
func unameMachine(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "uname", "-m").Output()
	if err != nil {
		return "", fmt.Errorf("uname -m: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	return "", nil
}
