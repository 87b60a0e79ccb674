// Package dkms interacts with the DKMS build system: it scans the DKMS
// module tree and persists the signing key configuration so DKMS signs
// rebuilt modules on its own.
package dkms

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	log "github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/secureboot-tools/modsign/src/pkg/utils"
)

const (
	// DefaultTreeDir is the DKMS module tracking tree.
	DefaultTreeDir = "/var/lib/dkms"
	// DefaultFrameworkConf is the DKMS framework configuration file.
	DefaultFrameworkConf = "/etc/dkms/framework.conf"

	signingKeyKey  = "mok_signing_key"
	certificateKey = "mok_certificate"
)

// InstalledVersions returns the version-named subdirectories of the DKMS
// tree for a module. A missing tree yields an empty slice, not an error.
func InstalledVersions(treeDir, moduleName string) []string {
	entries, err := os.ReadDir(filepath.Join(treeDir, moduleName))
	if err != nil {
		log.V(2).Infof("No DKMS tree for %s in %s: %v", moduleName, treeDir, err)
		return nil
	}

	var versions []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		// DKMS keeps non-version entries (e.g. the "kernel-..." symlinks)
		// next to version dirs.
		if _, err := parseVersion(entry.Name()); err != nil {
			log.V(2).Infof("Skipping non-version DKMS entry %s: %v", entry.Name(), err)
			continue
		}
		versions = append(versions, entry.Name())
	}
	return versions
}

// GreatestVersion picks the greatest version out of a list using
// version-aware ordering, so "450.10" beats "70.1".
func GreatestVersion(versions []string) (string, bool) {
	var greatest string
	var greatestParsed *semver.Version
	for _, version := range versions {
		parsed, err := parseVersion(version)
		if err != nil {
			log.V(2).Infof("Skipping unparsable version %s: %v", version, err)
			continue
		}
		if greatestParsed == nil || parsed.GreaterThan(greatestParsed) {
			greatest = version
			greatestParsed = parsed
		}
	}
	return greatest, greatestParsed != nil
}

// parseVersion parses a driver version string. Driver versions are dotted
// numbers with possible leading zeros ("470.141.03"), which strict semver
// rejects, so numeric segments are normalized first.
func parseVersion(version string) (*semver.Version, error) {
	segments := strings.Split(version, ".")
	for i, segment := range segments {
		trimmed := strings.TrimLeft(segment, "0")
		if trimmed == "" && segment != "" {
			trimmed = "0"
		}
		segments[i] = trimmed
	}
	return semver.NewVersion(strings.Join(segments, "."))
}

// BuildDir returns the DKMS build output directory holding the built module
// files for a given module version and kernel.
func BuildDir(treeDir, moduleName, version, kernelRelease, arch string) string {
	return filepath.Join(treeDir, moduleName, version, kernelRelease, arch, "module")
}

// ConfigureFramework makes the DKMS framework configuration reference the
// signing key and certificate, creating the file and its parent directory if
// needed. Repeated runs never append a second block; the presence of the
// mok_signing_key marker means the file is already configured. Returns
// whether the file was changed.
func ConfigureFramework(confPath, keyPath, certPath string) (bool, error) {
	if kv, err := utils.LoadKeyValueFile(confPath); err == nil {
		if _, ok := kv[signingKeyKey]; ok {
			log.Infof("DKMS framework config %s already references a signing key", confPath)
			return false, nil
		}
	} else if !os.IsNotExist(errors.Cause(err)) {
		return false, errors.Wrapf(err, "failed to read DKMS framework config %s", confPath)
	}

	if err := os.MkdirAll(filepath.Dir(confPath), 0755); err != nil {
		return false, errors.Wrapf(err, "failed to create dir %s", filepath.Dir(confPath))
	}

	f, err := os.OpenFile(confPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, errors.Wrapf(err, "failed to open DKMS framework config %s", confPath)
	}
	defer f.Close()

	block := fmt.Sprintf("%s=\"%s\"\n%s=\"%s\"\n", signingKeyKey, keyPath, certificateKey, certPath)
	if _, err := f.WriteString(block); err != nil {
		return false, errors.Wrapf(err, "failed to write to DKMS framework config %s", confPath)
	}
	if err := f.Close(); err != nil {
		return false, errors.Wrapf(err, "failed to close DKMS framework config %s", confPath)
	}
	log.Infof("Configured DKMS to sign future module builds with %s", keyPath)
	return true, nil
}
