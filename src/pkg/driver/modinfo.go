package driver

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	log "github.com/golang/glog"

	"github.com/secureboot-tools/modsign/src/pkg/compress"
	"github.com/secureboot-tools/modsign/src/pkg/modules"
)

var execCommand = exec.Command

// NewModinfoProbe detects the version from the embedded metadata of any
// installed nvidia module. Compressed modules are decompressed to a scratch
// file that is removed again whatever the outcome.
func NewModinfoProbe(searchDirs []string) Probe {
	return Probe{
		Name: "module metadata",
		Detect: func() (string, error) {
			located := modules.Locate(searchDirs, []string{ModuleName})
			if len(located) == 0 {
				return "", nil
			}
			return modinfoVersion(located[0])
		},
	}
}

func modinfoVersion(mp modules.ModulePath) (string, error) {
	queryPath := mp.Path
	if mp.Kind != compress.None {
		scratch := filepath.Join(os.TempDir(), fmt.Sprintf("nvidia-%d.ko", time.Now().UnixNano()))
		// DecompressFile creates the scratch file before reading the module,
		// so the cleanup is owed even when decompression fails.
		defer func() {
			if err := os.Remove(scratch); err != nil && !os.IsNotExist(err) {
				log.Warningf("Failed to remove scratch file %s: %v", scratch, err)
			}
		}()
		if err := compress.DecompressFile(mp.Path, scratch); err != nil {
			return "", err
		}
		queryPath = scratch
	}

	out, err := execCommand("modinfo", "-F", "version", queryPath).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
