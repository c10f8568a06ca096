package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// TempDirWritable probes the pipeline scratch directory by creating it and
// writing a file into it. Readiness fails when audio downloads would fail.
func TempDirWritable(dir string) Checker {
	return Checker{
		Name: "temp_dir",
		Check: func(_ context.Context) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
			f, err := os.CreateTemp(dir, "probe-*")
			if err != nil {
				return fmt.Errorf("write to %s: %w", dir, err)
			}
			name := f.Name()
			f.Close()
			return os.Remove(name)
		},
	}
}

// BinaryOnPath reports whether binary resolves via PATH (or, when given as
// a path, points at an executable). name is the label in the readiness
// response.
func BinaryOnPath(name, binary string) Checker {
	return Checker{
		Name: name,
		Check: func(_ context.Context) error {
			if _, err := exec.LookPath(binary); err != nil {
				return fmt.Errorf("%s: %w", binary, err)
			}
			return nil
		},
	}
}

// ModelFile reports whether the whisper model file exists at path. Only
// wired up when the service runs in local mode.
func ModelFile(path string) Checker {
	return Checker{
		Name: "model",
		Check: func(_ context.Context) error {
			st, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			if st.IsDir() {
				return fmt.Errorf("%s is a directory, expected a model file", path)
			}
			return nil
		},
	}
}
