// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package onnxenv initialises the process-wide ONNX Runtime environment
// exactly once. Both the VAD and wake-word scorers go through here.
package onnxenv

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	mu          sync.Mutex
	initialized bool
)

// Init locates the ONNX Runtime shared library and initialises the
// environment. libPath may be empty, in which case the
// ONNXRUNTIME_SHARED_LIBRARY_PATH env var and a few conventional install
// locations are tried. Safe to call from multiple scorers.
func Init(libPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return nil
	}

	if libPath == "" {
		libPath = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	if libPath == "" {
		for _, candidate := range defaultSearchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				libPath = candidate
				break
			}
		}
	}
	if libPath == "" {
		return fmt.Errorf("onnxenv: runtime shared library not found")
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnxenv: initialize: %w", err)
	}
	initialized = true
	return nil
}

func defaultSearchPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"/usr/local/lib/libonnxruntime.dylib",
		}
	default:
		return []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		}
	}
}
