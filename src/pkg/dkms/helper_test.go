package dkms

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInstallResignHelper(t *testing.T) {
	sbinDir := filepath.Join(t.TempDir(), "sbin")

	scriptPath, err := InstallResignHelper(sbinDir)
	if err != nil {
		t.Fatalf("Failed to run InstallResignHelper: %v", err)
	}

	info, err := os.Stat(scriptPath)
	if err != nil {
		t.Fatalf("Failed to stat helper script: %v", err)
	}
	if info.Mode().Perm()&0111 == 0 {
		t.Errorf("Helper script %s is not executable: %o", scriptPath, info.Mode().Perm())
	}

	content, err := os.ReadFile(scriptPath)
	if err != nil {
		t.Fatalf("Failed to read helper script: %v", err)
	}
	if !strings.HasPrefix(string(content), "#!/bin/sh\n") {
		t.Error("Helper script is missing the shebang line")
	}
	if !strings.Contains(string(content), " resign ") {
		t.Error("Helper script does not invoke the resign subcommand")
	}

	binPath := filepath.Join(sbinDir, helperBinary)
	binInfo, err := os.Stat(binPath)
	if err != nil {
		t.Fatalf("Failed to stat installed binary: %v", err)
	}
	if binInfo.Mode().Perm()&0111 == 0 {
		t.Errorf("Installed binary %s is not executable: %o", binPath, binInfo.Mode().Perm())
	}
}
