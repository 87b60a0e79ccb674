package dkms

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/secureboot-tools/modsign/src/pkg/utils"
)

const (
	// DefaultSbinDir is where the re-sign helper is installed.
	DefaultSbinDir = "/usr/local/sbin"

	helperBinary = "mok_module_signer"
	helperScript = "resign-nvidia-modules"
)

// InstallResignHelper installs a standalone re-sign entry point into
// sbinDir: a copy of the running executable plus a wrapper script that runs
// its resign subcommand. The operator can run the wrapper after a driver
// update without going through key generation or enrollment again. Returns
// the wrapper path.
func InstallResignHelper(sbinDir string) (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", errors.Wrap(err, "failed to locate the running executable")
	}

	if err := os.MkdirAll(sbinDir, 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create dir %s", sbinDir)
	}

	binPath := filepath.Join(sbinDir, helperBinary)
	if exe != binPath {
		if err := utils.CopyFile(exe, binPath); err != nil {
			return "", errors.Wrapf(err, "failed to install %s", binPath)
		}
		if err := os.Chmod(binPath, 0755); err != nil {
			return "", errors.Wrapf(err, "failed to make %s executable", binPath)
		}
	}

	scriptPath := filepath.Join(sbinDir, helperScript)
	script := fmt.Sprintf("#!/bin/sh\n# Re-signs the installed NVIDIA kernel modules after a driver update.\nexec %s resign \"$@\"\n", binPath)
	if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
		return "", errors.Wrapf(err, "failed to write helper script %s", scriptPath)
	}

	log.Infof("Installed re-sign helper %s", scriptPath)
	return scriptPath, nil
}
