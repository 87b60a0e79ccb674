// Package driver determines the installed NVIDIA driver version using a
// cascade of filesystem and package manager probes.
package driver

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	log "github.com/golang/glog"

	"github.com/secureboot-tools/modsign/src/pkg/dkms"
	"github.com/secureboot-tools/modsign/src/pkg/pkgmgr"
)

const (
	// VersionUnknown is returned when no probe could determine a version.
	VersionUnknown = "unknown"

	// DefaultXorgLog is scanned by the last-resort probe.
	DefaultXorgLog = "/var/log/Xorg.0.log"

	// ModuleName is the DKMS name of the driver.
	ModuleName = "nvidia"
)

// PackageNames lists the package names the driver may be installed under,
// across distributions.
var PackageNames = []string{"nvidia-driver", "nvidia-dkms", "akmod-nvidia"}

// xorgVersionPattern matches the version in NVIDIA module banners, e.g.
// "(II) NVIDIA GLX Module  470.141.03  Thu Jun 30 ...".
var xorgVersionPattern = regexp.MustCompile(`NVIDIA\D*(\d+\.\d+(?:\.\d+)?)`)

// Probe is one version detection strategy. Detect returns "" when the probe
// cannot determine a version; errors are treated the same way by the caller.
type Probe struct {
	Name   string
	Detect func() (string, error)
}

// DetectVersion runs the probes in order and returns the first non-empty
// version. A probe failure is never fatal; it only moves detection to the
// next probe. When every probe is exhausted, VersionUnknown is returned.
func DetectVersion(probes []Probe) string {
	for _, probe := range probes {
		version, err := probe.Detect()
		if err != nil {
			log.V(2).Infof("Version probe %q failed: %v", probe.Name, err)
			continue
		}
		if version == "" {
			log.V(2).Infof("Version probe %q found nothing", probe.Name)
			continue
		}
		log.Infof("Detected driver version %s via %s", version, probe.Name)
		return version
	}
	return VersionUnknown
}

// NewDkmsProbe detects the version from the DKMS module tree, picking the
// greatest installed version.
func NewDkmsProbe(treeDir string) Probe {
	return Probe{
		Name: "DKMS tree",
		Detect: func() (string, error) {
			version, _ := dkms.GreatestVersion(dkms.InstalledVersions(treeDir, ModuleName))
			return version, nil
		},
	}
}

// NewPackageProbe detects the version offered by the system package index
// for any of the known driver package names.
func NewPackageProbe(mgr pkgmgr.Manager) Probe {
	return Probe{
		Name: "package index",
		Detect: func() (string, error) {
			return mgr.FindVersion(PackageNames)
		},
	}
}

// NewXorgLogProbe scans the display server log for the driver banner.
func NewXorgLogProbe(logPath string) Probe {
	return Probe{
		Name: "Xorg log",
		Detect: func() (string, error) {
			f, err := os.Open(logPath)
			if err != nil {
				return "", err
			}
			defer f.Close()

			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := scanner.Text()
				if !strings.Contains(line, "NVIDIA") {
					continue
				}
				if match := xorgVersionPattern.FindStringSubmatch(line); match != nil {
					return match[1], nil
				}
			}
			return "", scanner.Err()
		},
	}
}
