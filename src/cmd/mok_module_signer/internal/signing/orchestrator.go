package signing

import (
	log "github.com/golang/glog"

	"github.com/secureboot-tools/modsign/src/pkg/keys"
	"github.com/secureboot-tools/modsign/src/pkg/modules"
	"github.com/secureboot-tools/modsign/src/pkg/utils"
)

// signDigest is the digest algorithm passed to sign-file.
const signDigest = "sha256"

// Outcome is the per-module result of a signing pass.
type Outcome int

const (
	// Signed means the signing utility succeeded on the module.
	Signed Outcome = iota
	// Failed means the signing utility ran and failed; the module was
	// restored to its original compression state.
	Failed
	// Skipped means the module could not be prepared for signing.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Signed:
		return "signed"
	case Failed:
		return "failed"
	default:
		return "skipped"
	}
}

// Result is the outcome for one module.
type Result struct {
	Module  modules.ModulePath
	Outcome Outcome
	Err     error
}

// Summary aggregates the results of a signing pass.
type Summary struct {
	Results []Result
}

// Counts returns the number of signed, failed and skipped modules.
func (s Summary) Counts() (signed, failed, skipped int) {
	for _, r := range s.Results {
		switch r.Outcome {
		case Signed:
			signed++
		case Failed:
			failed++
		case Skipped:
			skipped++
		}
	}
	return
}

// AllSigned reports whether every module ended up signed.
func (s Summary) AllSigned() bool {
	signed, _, _ := s.Counts()
	return signed == len(s.Results)
}

// SignAll signs every located module in place. Compressed modules are
// decompressed first and recompressed to their original path afterwards,
// whether or not signing succeeded. One module's failure never blocks the
// others; the caller decides what to make of the summary.
func SignAll(signFile string, material keys.Material, located []modules.ModulePath) Summary {
	var summary Summary
	for _, mp := range located {
		result := signOne(signFile, material, mp)
		switch result.Outcome {
		case Signed:
			log.Infof("Signed %s", mp.Path)
		default:
			log.Errorf("Module %s %s: %v", mp.Path, result.Outcome, result.Err)
		}
		summary.Results = append(summary.Results, result)
	}
	return summary
}

func signOne(signFile string, material keys.Material, mp modules.ModulePath) Result {
	target, err := modules.OpenForSigning(mp)
	if err != nil {
		return Result{Module: mp, Outcome: Skipped, Err: err}
	}
	defer func() {
		if err := target.Close(); err != nil {
			// Tolerated: the module stays signed but uncompressed next to
			// its original path.
			log.Warningf("Failed to restore module %s: %v", mp.Path, err)
		}
	}()

	cmd := execCommand(signFile, signDigest, material.PrivateKeyPath, material.PemCertPath, target.WorkPath)
	if err := utils.RunCommandAndLogOutput(cmd); err != nil {
		return Result{Module: mp, Outcome: Failed, Err: err}
	}
	return Result{Module: mp, Outcome: Signed}
}
