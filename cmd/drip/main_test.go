package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

// writeTestConfig points every path at temp space and returns the config
// file path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "pool:\n  root: " + filepath.Join(dir, "pool") + "\n" +
		"history:\n  path: " + filepath.Join(dir, "history.db") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestEntriesListsBuiltins(t *testing.T) {
	code, out, _ := captureOutputWithExitCode(t, func() int {
		return runEntries(nil)
	})
	if code != 0 {
		t.Fatalf("entries exit = %d", code)
	}
	for _, want := range []string{"drip.Echo", "drip.Upcase", "drip.Property"} {
		if !strings.Contains(out, want) {
			t.Errorf("entries output missing %q:\n%s", want, out)
		}
	}
}

func TestDoctorHealthyOnFreshConfig(t *testing.T) {
	cfgPath := writeTestConfig(t)
	code, out, _ := captureOutputWithExitCode(t, func() int {
		return runDoctor([]string{"--config", cfgPath})
	})
	if code != 0 {
		t.Fatalf("doctor exit = %d, output:\n%s", code, out)
	}
	if !strings.Contains(out, "Pool healthy") {
		t.Errorf("doctor output: %s", out)
	}
}

func TestDoctorJSON(t *testing.T) {
	cfgPath := writeTestConfig(t)
	code, out, _ := captureOutputWithExitCode(t, func() int {
		return runDoctor([]string{"--config", cfgPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("doctor exit = %d", code)
	}
	if !strings.Contains(out, `"valid": true`) {
		t.Errorf("doctor JSON output: %s", out)
	}
}

func TestPoolStatusEmpty(t *testing.T) {
	cfgPath := writeTestConfig(t)
	code, out, _ := captureOutputWithExitCode(t, func() int {
		return runPoolStatus([]string{"--config", cfgPath})
	})
	if code != 0 {
		t.Fatalf("pool status exit = %d", code)
	}
	if !strings.Contains(out, "No pools.") {
		t.Errorf("pool status output: %s", out)
	}
}

func TestPoolCleanEmpty(t *testing.T) {
	cfgPath := writeTestConfig(t)
	code, out, _ := captureOutputWithExitCode(t, func() int {
		return runPoolClean([]string{"--config", cfgPath})
	})
	if code != 0 {
		t.Fatalf("pool clean exit = %d", code)
	}
	if !strings.Contains(out, "Removed 0 worker directories.") {
		t.Errorf("pool clean output: %s", out)
	}
}

func TestHistoryEmpty(t *testing.T) {
	cfgPath := writeTestConfig(t)
	code, out, _ := captureOutputWithExitCode(t, func() int {
		return runHistory([]string{"--config", cfgPath})
	})
	if code != 0 {
		t.Fatalf("history exit = %d", code)
	}
	if !strings.Contains(out, "No invocations recorded.") {
		t.Errorf("history output: %s", out)
	}
}

func TestRunRequiresEntry(t *testing.T) {
	cfgPath := writeTestConfig(t)
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runRun([]string{"--config", cfgPath})
	})
	if code != 1 {
		t.Fatalf("run exit = %d", code)
	}
	if !strings.Contains(stderr, "Usage: drip run") {
		t.Errorf("run stderr: %s", stderr)
	}
}

func TestWorkerRequiresDir(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runWorker(nil)
	})
	if code != 1 {
		t.Fatalf("worker exit = %d", code)
	}
	if !strings.Contains(stderr, "--dir") {
		t.Errorf("worker stderr: %s", stderr)
	}
}
