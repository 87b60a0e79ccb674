package commands

import (
	"context"
	"flag"
	"fmt"

	log "github.com/golang/glog"
	"github.com/google/subcommands"
	"github.com/pkg/errors"

	"github.com/secureboot-tools/modsign/src/pkg/dkms"
	"github.com/secureboot-tools/modsign/src/pkg/driver"
	"github.com/secureboot-tools/modsign/src/pkg/host"
	"github.com/secureboot-tools/modsign/src/pkg/modules"
)

// ListCommand reports the detected driver version and the located kernel
// modules with their compression format and signature state. It is read-only
// and needs no privileges beyond read access to the module directories.
type ListCommand struct {
	debug bool
}

// Name implements subcommands.Command.Name.
func (*ListCommand) Name() string { return "list" }

// Synopsis implements subcommands.Command.Synopsis.
func (*ListCommand) Synopsis() string { return "List the installed NVIDIA kernel modules and their signature state." }

// Usage implements subcommands.Command.Usage.
func (*ListCommand) Usage() string { return "list\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (c *ListCommand) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.debug, "debug", false,
		"Enable debug mode.")
}

// Execute implements subcommands.Command.Execute.
func (c *ListCommand) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	env, err := host.NewEnv()
	if err != nil {
		c.logError(errors.Wrap(err, "failed to read host environment"))
		return subcommands.ExitFailure
	}

	searchDirs := modules.SearchDirs(libModulesDir, env.KernelRelease(), "")
	probes := []driver.Probe{
		driver.NewDkmsProbe(dkms.DefaultTreeDir),
		driver.NewModinfoProbe(searchDirs),
		driver.NewXorgLogProbe(driver.DefaultXorgLog),
	}
	fmt.Printf("driver version: %s\n", driver.DetectVersion(probes))

	for _, mp := range modules.Locate(searchDirs, modules.BaseNames) {
		state := "unsigned"
		if signed, err := modules.IsSigned(mp); err != nil {
			state = "unreadable"
			log.V(2).Infof("Failed to inspect %s: %v", mp.Path, err)
		} else if signed {
			state = "signed"
		}
		fmt.Printf("%-10s %-6s %s\n", state, mp.Kind, mp.Path)
	}
	return subcommands.ExitSuccess
}

func (c *ListCommand) logError(err error) {
	if c.debug {
		log.Errorf("%+v", err)
	} else {
		log.Errorf("%v", err)
	}
}
