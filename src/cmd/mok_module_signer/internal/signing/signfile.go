// Package signing drives the kernel's sign-file utility over the located
// driver modules.
package signing

import (
	"fmt"
	"os"
	"os/exec"

	log "github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/secureboot-tools/modsign/src/pkg/pkgmgr"
)

var execCommand = exec.Command

// signFileRoot is prepended to the candidate paths. Tests point it at a
// scratch directory.
var signFileRoot = "/"

// signFileCandidates returns the known locations of the kernel's sign-file
// utility for a kernel release, in probe order. The headers package location
// comes first; the two build-tree locations cover distributions that ship
// sign-file with the kernel build directory instead.
func signFileCandidates(kernelRelease string) []string {
	return []string{
		fmt.Sprintf("%susr/src/linux-headers-%s/scripts/sign-file", signFileRoot, kernelRelease),
		fmt.Sprintf("%susr/src/kernels/%s/scripts/sign-file", signFileRoot, kernelRelease),
		fmt.Sprintf("%slib/modules/%s/build/scripts/sign-file", signFileRoot, kernelRelease),
	}
}

// ResolveSignFile locates the sign-file utility for the running kernel. When
// no candidate exists it tries to install the matching kernel headers package
// as a recovery action and re-checks the primary location once. There is no
// substitute signing mechanism, so failure here is fatal to the run.
func ResolveSignFile(kernelRelease string, mgr pkgmgr.Manager) (string, error) {
	candidates := signFileCandidates(kernelRelease)
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			log.Infof("Using signing utility %s", candidate)
			return candidate, nil
		}
	}

	headersPkg := "linux-headers-" + kernelRelease
	if mgr != nil {
		log.Infof("sign-file not found, trying to install %s", headersPkg)
		if err := mgr.Install(headersPkg); err != nil {
			log.Warningf("Failed to install %s: %v", headersPkg, err)
		}
		if info, err := os.Stat(candidates[0]); err == nil && !info.IsDir() {
			log.Infof("Using signing utility %s", candidates[0])
			return candidates[0], nil
		}
	}

	return "", errors.Errorf(
		"no sign-file utility found for kernel %s; install the kernel headers package (e.g. `apt install %s`) and rerun",
		kernelRelease, headersPkg)
}
