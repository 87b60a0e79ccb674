package driver

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/secureboot-tools/modsign/src/pkg/compress"
)

var (
	mockCmdStdout     string
	mockCmdExitStatus = 0
)

func fakeExecCommand(command string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", command}
	cs = append(cs, args...)
	cmd := exec.Command(os.Args[0], cs...)
	es := strconv.Itoa(mockCmdExitStatus)
	cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1",
		"STDOUT=" + mockCmdStdout,
		"EXIT_STATUS=" + es}
	return cmd
}

// TestHelperProcess is not a real test. It is a helper process for faking exec.Command.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Fprintf(os.Stdout, os.Getenv("STDOUT"))
	es, err := strconv.Atoi(os.Getenv("EXIT_STATUS"))
	if err != nil {
		t.Fatalf("Failed to convert EXIT_STATUS to int: %v", err)
	}
	os.Exit(es)
}

func TestModinfoProbe(t *testing.T) {
	execCommand = fakeExecCommand
	defer func() {
		execCommand = exec.Command
		mockCmdExitStatus = 0
	}()

	searchDir := t.TempDir()
	modulePath := filepath.Join(searchDir, "nvidia.ko")
	if err := os.WriteFile(modulePath, []byte("module"), 0644); err != nil {
		t.Fatalf("Failed to create test module: %v", err)
	}

	mockCmdStdout = "545.29.06\n"
	version, err := NewModinfoProbe([]string{searchDir}).Detect()
	if err != nil {
		t.Fatalf("Failed to run modinfo probe: %v", err)
	}
	if version != "545.29.06" {
		t.Errorf("Unexpected version: want: 545.29.06, got: %s", version)
	}
}

func TestModinfoProbeCompressedCleansScratch(t *testing.T) {
	execCommand = fakeExecCommand
	defer func() {
		execCommand = exec.Command
		mockCmdExitStatus = 0
	}()

	searchDir := t.TempDir()
	plain := filepath.Join(searchDir, "nvidia.ko")
	if err := os.WriteFile(plain, []byte("module"), 0644); err != nil {
		t.Fatalf("Failed to create test module: %v", err)
	}
	if err := compress.CompressFile(plain, plain+".xz", compress.XZ); err != nil {
		t.Fatalf("Failed to compress test module: %v", err)
	}
	if err := os.Remove(plain); err != nil {
		t.Fatalf("Failed to remove plain module: %v", err)
	}

	scratchDir := t.TempDir()
	t.Setenv("TMPDIR", scratchDir)

	// Even a failing modinfo must not leave the scratch file behind.
	mockCmdStdout = ""
	mockCmdExitStatus = 1
	if _, err := NewModinfoProbe([]string{searchDir}).Detect(); err == nil {
		t.Error("Modinfo probe with failing modinfo: want error, got nil")
	}

	entries, err := os.ReadDir(scratchDir)
	if err != nil {
		t.Fatalf("Failed to read scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Scratch file left behind: %v", entries)
	}
}

func TestModinfoProbeCorruptModuleCleansScratch(t *testing.T) {
	searchDir := t.TempDir()
	// Not a valid xz stream; decompression fails after the scratch file has
	// been created.
	corrupt := filepath.Join(searchDir, "nvidia.ko.xz")
	if err := os.WriteFile(corrupt, []byte("not an xz stream"), 0644); err != nil {
		t.Fatalf("Failed to create corrupt test module: %v", err)
	}

	scratchDir := t.TempDir()
	t.Setenv("TMPDIR", scratchDir)

	if _, err := NewModinfoProbe([]string{searchDir}).Detect(); err == nil {
		t.Error("Modinfo probe on corrupt module: want error, got nil")
	}

	entries, err := os.ReadDir(scratchDir)
	if err != nil {
		t.Fatalf("Failed to read scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Scratch file left behind: %v", entries)
	}
}

func TestModinfoProbeNoModules(t *testing.T) {
	version, err := NewModinfoProbe([]string{t.TempDir()}).Detect()
	if err != nil {
		t.Fatalf("Failed to run modinfo probe: %v", err)
	}
	if version != "" {
		t.Errorf("Unexpected version without modules: want empty, got: %s", version)
	}
}
