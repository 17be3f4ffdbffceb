// Package onnx wraps onnxruntime_go for the learned OCR engine and the
// region detector.
package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// EnvLibraryPath overrides the ONNX Runtime shared library location.
const EnvLibraryPath = "INVOXTRACT_ONNXRUNTIME_LIB"

const (
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"
)

var envMu sync.Mutex

// libraryName returns the shared library filename for the current OS.
func libraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return libLinux, nil
	case "darwin":
		return libDarwin, nil
	case "windows":
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// candidateLibraryPaths lists where the runtime library is searched for,
// most specific first.
func candidateLibraryPaths(explicit string, useGPU bool) []string {
	var paths []string
	if explicit != "" {
		paths = append(paths, explicit)
	}
	if env := os.Getenv(EnvLibraryPath); env != "" {
		paths = append(paths, env)
	}
	if useGPU {
		paths = append(paths, "/opt/onnxruntime/gpu/lib/libonnxruntime.so")
	}
	paths = append(paths,
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
	)
	if root, err := findProjectRoot(); err == nil {
		if name, err := libraryName(); err == nil {
			if useGPU {
				paths = append(paths, filepath.Join(root, "onnxruntime", "gpu", "lib", name))
			}
			paths = append(paths, filepath.Join(root, "onnxruntime", "lib", name))
		}
	}
	return paths
}

// ResolveLibraryPath returns the first existing runtime library path.
func ResolveLibraryPath(explicit string, useGPU bool) (string, error) {
	for _, p := range candidateLibraryPaths(explicit, useGPU) {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.New("ONNX Runtime library not found; set " + EnvLibraryPath)
}

// Available reports whether a runtime library can be located.
func Available(explicit string) bool {
	_, err := ResolveLibraryPath(explicit, false)
	return err == nil
}

// EnsureEnvironment points onnxruntime_go at the shared library and
// initializes the process-wide environment once.
func EnsureEnvironment(explicit string, useGPU bool) error {
	envMu.Lock()
	defer envMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}
	path, err := ResolveLibraryPath(explicit, useGPU)
	if err != nil {
		return err
	}
	onnxruntime_go.SetSharedLibraryPath(path)
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}
