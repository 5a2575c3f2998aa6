package rediserr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError(t *testing.T) {
	err := New(ErrorCodeStartup, "redis-server failed to become ready")

	if err.Code != ErrorCodeStartup {
		t.Errorf("Expected code %s, got %s", ErrorCodeStartup, err.Code)
	}

	errStr := err.Error()
	if !strings.Contains(errStr, string(ErrorCodeStartup)) {
		t.Errorf("Error string should contain error code: %s", errStr)
	}
	if !strings.Contains(errStr, "failed to become ready") {
		t.Errorf("Error string should contain message: %s", errStr)
	}
}

func TestErrorContextIsSorted(t *testing.T) {
	err := New(ErrorCodeBuild, "bad").
		WithContext("port", 6379).
		WithContext("bind", "127.0.0.1")

	if !strings.Contains(err.Error(), "Context: bind=127.0.0.1, port=6379") {
		t.Errorf("Context should be rendered in key order: %s", err.Error())
	}
}

func TestErrorWithCause(t *testing.T) {
	cause := errors.New("exec format error")
	err := Startup("abc", "redis-server", "", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should work with Unwrap")
	}
	if !strings.Contains(err.Error(), "exec format error") {
		t.Errorf("Error should contain cause: %s", err.Error())
	}
}

func TestStartupIncludesOutput(t *testing.T) {
	err := Startup("abc", "redis-server", "# Creating Server TCP listening socket *:6379: bind: Address already in use", nil)

	if !strings.Contains(err.Error(), "Address already in use") {
		t.Errorf("Error should contain captured output: %s", err.Error())
	}
}

func TestIsCodeWalksChain(t *testing.T) {
	resolution := ExecutableResolution("linux-amd64", "redis-server-7.0.11-linux-amd64", errors.New("not found"))
	build := Build("cannot build redis-server", resolution)
	wrapped := fmt.Errorf("sentinel group: %w", build)

	if !IsCode(wrapped, ErrorCodeBuild) {
		t.Error("expected BUILD_FAILED in chain")
	}
	if !IsCode(wrapped, ErrorCodeExecutableResolution) {
		t.Error("expected EXECUTABLE_RESOLUTION_FAILED in chain")
	}
	if IsCode(wrapped, ErrorCodeStartup) {
		t.Error("did not expect STARTUP_FAILED in chain")
	}
	if Code(wrapped) != ErrorCodeBuild {
		t.Errorf("expected outermost code BUILD_FAILED, got %s", Code(wrapped))
	}
}

func TestIsCodeNonCoded(t *testing.T) {
	if IsCode(errors.New("plain"), ErrorCodeBuild) {
		t.Error("plain errors carry no code")
	}
	if IsCode(nil, ErrorCodeBuild) {
		t.Error("nil carries no code")
	}
	if Code(errors.New("plain")) != "" {
		t.Error("plain errors carry no code")
	}
}

func TestSuggestionFromNestedError(t *testing.T) {
	inner := PortsExhausted(3)
	outer := Build("cannot allocate ports", inner)

	if got := Suggestion(outer); !strings.Contains(got, "Provide more ports") {
		t.Errorf("expected nested suggestion, got %q", got)
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		code ErrorCode
	}{
		{"platform", PlatformDetection("unsupported OS: plan9", nil), ErrorCodePlatformDetection},
		{"resolution", ExecutableResolution("linux-amd64", "", nil), ErrorCodeExecutableResolution},
		{"conflict", ConfigConflict("config file already set"), ErrorCodeConfigConflict},
		{"exhausted", PortsExhausted(2), ErrorCodePortsExhausted},
		{"running", AlreadyRunning("abc"), ErrorCodeAlreadyRunning},
		{"stop", Stop("abc", errors.New("wait: no child processes")), ErrorCodeStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("expected %s, got %s", tt.code, tt.err.Code)
			}
			if !IsCode(tt.err, tt.code) {
				t.Errorf("IsCode should match %s", tt.code)
			}
		})
	}
}
