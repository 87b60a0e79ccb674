package commands

import (
	"context"
	"flag"
	"os"

	log "github.com/golang/glog"
	"github.com/google/subcommands"
	"github.com/pkg/errors"

	"github.com/secureboot-tools/modsign/src/cmd/mok_module_signer/internal/signing"
	"github.com/secureboot-tools/modsign/src/pkg/host"
	"github.com/secureboot-tools/modsign/src/pkg/keys"
	"github.com/secureboot-tools/modsign/src/pkg/modules"
)

// ResignCommand re-signs the installed modules with the existing key
// material. It is the entry point behind the installed helper script and is
// meant for use after a driver update: no key generation, no prompts, no
// enrollment.
type ResignCommand struct {
	keysDir string
	debug   bool
}

// Name implements subcommands.Command.Name.
func (*ResignCommand) Name() string { return "resign" }

// Synopsis implements subcommands.Command.Synopsis.
func (*ResignCommand) Synopsis() string {
	return "Re-sign the installed NVIDIA kernel modules with the existing key."
}

// Usage implements subcommands.Command.Usage.
func (*ResignCommand) Usage() string { return "resign [-keys-dir <dir>]\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (c *ResignCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.keysDir, "keys-dir", keys.DefaultDir,
		"Directory holding the signing key material.")
	f.BoolVar(&c.debug, "debug", false,
		"Enable debug mode.")
}

// Execute implements subcommands.Command.Execute.
func (c *ResignCommand) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if os.Geteuid() != 0 {
		c.logError(errors.New("this tool modifies kernel modules and must run as root"))
		return subcommands.ExitFailure
	}

	env, err := host.NewEnv()
	if err != nil {
		c.logError(errors.Wrap(err, "failed to read host environment"))
		return subcommands.ExitFailure
	}

	material := keys.MaterialIn(c.keysDir)
	if !material.Exists() {
		c.logError(errors.Errorf("no signing key material in %s; run `mok_module_signer install` first", c.keysDir))
		return subcommands.ExitFailure
	}

	searchDirs := modules.SearchDirs(libModulesDir, env.KernelRelease(), "")
	located := modules.Locate(searchDirs, modules.BaseNames)
	if len(located) == 0 {
		c.logError(errors.Errorf("no NVIDIA kernel modules found under %v", searchDirs))
		return subcommands.ExitFailure
	}

	signFile, err := signing.ResolveSignFile(env.KernelRelease(), nil)
	if err != nil {
		c.logError(err)
		return subcommands.ExitFailure
	}

	summary := signing.SignAll(signFile, material, located)
	printSummary(summary)
	return subcommands.ExitSuccess
}

func (c *ResignCommand) logError(err error) {
	if c.debug {
		log.Errorf("%+v", err)
	} else {
		log.Errorf("%v", err)
	}
}
