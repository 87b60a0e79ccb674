// Package commands implements subcommands of mok_module_signer.
package commands

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	log "github.com/golang/glog"
	"github.com/google/subcommands"
	"github.com/pkg/errors"

	"github.com/secureboot-tools/modsign/src/cmd/mok_module_signer/internal/signing"
	"github.com/secureboot-tools/modsign/src/pkg/dkms"
	"github.com/secureboot-tools/modsign/src/pkg/driver"
	"github.com/secureboot-tools/modsign/src/pkg/host"
	"github.com/secureboot-tools/modsign/src/pkg/keys"
	"github.com/secureboot-tools/modsign/src/pkg/modules"
	"github.com/secureboot-tools/modsign/src/pkg/mok"
	"github.com/secureboot-tools/modsign/src/pkg/pkgmgr"
)

const libModulesDir = "/lib/modules"

// InstallCommand is the subcommand running the full signing workflow: detect
// the driver, locate its modules, ensure key material, sign every module,
// persist the DKMS signing config and request MOK enrollment.
type InstallCommand struct {
	keysDir   string
	assumeYes bool
	debug     bool
}

// Name implements subcommands.Command.Name.
func (*InstallCommand) Name() string { return "install" }

// Synopsis implements subcommands.Command.Synopsis.
func (*InstallCommand) Synopsis() string {
	return "Sign the installed NVIDIA kernel modules and enroll the signing key."
}

// Usage implements subcommands.Command.Usage.
func (*InstallCommand) Usage() string { return "install [-keys-dir <dir>] [-yes]\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (c *InstallCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.keysDir, "keys-dir", keys.DefaultDir,
		"Directory holding the signing key material.")
	f.BoolVar(&c.assumeYes, "yes", false,
		"Reuse existing key material without asking.")
	f.BoolVar(&c.debug, "debug", false,
		"Enable debug mode.")
}

// Execute implements subcommands.Command.Execute.
func (c *InstallCommand) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if os.Geteuid() != 0 {
		c.logError(errors.New("this tool modifies kernel modules and firmware state and must run as root"))
		return subcommands.ExitFailure
	}

	env, err := host.NewEnv()
	if err != nil {
		c.logError(errors.Wrap(err, "failed to read host environment"))
		return subcommands.ExitFailure
	}
	log.Infof("Running on kernel %s (%s)", env.KernelRelease(), env.Arch())

	// The package manager is optional: without it the package index probe
	// and the headers install recovery are skipped, which may still leave
	// enough working probes.
	mgr, err := pkgmgr.New()
	if err != nil {
		log.Warningf("No package manager support: %v", err)
		mgr = nil
	}

	version := c.detectVersion(env, mgr)
	if version == driver.VersionUnknown {
		c.logError(errors.New(
			"could not detect the installed NVIDIA driver version; " +
				"check `dkms status` or install the driver package (e.g. `apt install nvidia-driver`) and rerun"))
		return subcommands.ExitFailure
	}

	located := c.locateModules(env, version)
	if len(located) == 0 {
		searchDirs := modules.SearchDirs(libModulesDir, env.KernelRelease(), "")
		c.logError(errors.Errorf(
			"no NVIDIA kernel modules found under %v; "+
				"rebuild the driver for this kernel (e.g. `dkms autoinstall`) and rerun", searchDirs))
		return subcommands.ExitFailure
	}
	log.Infof("Found %d kernel modules to sign", len(located))

	var confirm func() (bool, error)
	if !c.assumeYes {
		confirm = confirmReuseKeys
	}
	material, err := keys.EnsureKeys(c.keysDir, confirm)
	if err != nil {
		c.logError(errors.Wrap(err, "failed to set up signing keys"))
		return subcommands.ExitFailure
	}

	signFile, err := signing.ResolveSignFile(env.KernelRelease(), mgr)
	if err != nil {
		c.logError(err)
		return subcommands.ExitFailure
	}

	summary := signing.SignAll(signFile, material, located)

	// Persistence and enrollment failures are reported but do not fail the
	// run: the modules are already signed at this point.
	if _, err := dkms.ConfigureFramework(dkms.DefaultFrameworkConf, material.PrivateKeyPath, material.DerCertPath); err != nil {
		log.Warningf("Failed to configure DKMS signing: %v", err)
	}
	if _, err := dkms.InstallResignHelper(dkms.DefaultSbinDir); err != nil {
		log.Warningf("Failed to install the re-sign helper: %v", err)
	}
	c.requestEnrollment(material)

	printSummary(summary)
	return subcommands.ExitSuccess
}

// detectVersion runs the probe cascade, then falls back to a broad package
// search before giving up.
func (c *InstallCommand) detectVersion(env *host.Env, mgr pkgmgr.Manager) string {
	searchDirs := modules.SearchDirs(libModulesDir, env.KernelRelease(), "")
	probes := []driver.Probe{
		driver.NewDkmsProbe(dkms.DefaultTreeDir),
		driver.NewModinfoProbe(searchDirs),
	}
	if mgr != nil {
		probes = append(probes, driver.NewPackageProbe(mgr))
	}
	probes = append(probes, driver.NewXorgLogProbe(driver.DefaultXorgLog))

	version := driver.DetectVersion(probes)
	if version != driver.VersionUnknown || mgr == nil {
		return version
	}

	log.Info("Probes exhausted, searching the package index for any nvidia package")
	found, err := mgr.FindVersion([]string{driver.ModuleName})
	if err != nil || found == "" {
		return driver.VersionUnknown
	}
	return found
}

func (c *InstallCommand) locateModules(env *host.Env, version string) []modules.ModulePath {
	dkmsBuildDir := ""
	if versions := dkms.InstalledVersions(dkms.DefaultTreeDir, driver.ModuleName); len(versions) > 0 {
		dkmsBuildDir = dkms.BuildDir(dkms.DefaultTreeDir, driver.ModuleName, version, env.KernelRelease(), env.Arch())
	}
	searchDirs := modules.SearchDirs(libModulesDir, env.KernelRelease(), dkmsBuildDir)
	return modules.Locate(searchDirs, modules.BaseNames)
}

func (c *InstallCommand) requestEnrollment(material keys.Material) {
	subjectCN, err := material.SubjectCN()
	if err != nil {
		log.Warningf("Failed to read the signing certificate: %v", err)
		return
	}
	enrolled, err := mok.IsEnrolled(subjectCN)
	if err != nil {
		log.Warningf("Failed to check MOK enrollment state: %v", err)
	} else if enrolled {
		log.Info("Signing key is already enrolled")
		return
	}
	if err := mok.RequestEnrollment(material.DerCertPath); err != nil {
		log.Warningf("Failed to request MOK enrollment: %v", err)
		return
	}
	fmt.Println(mok.PostRebootInstructions)
}

// confirmReuseKeys is the single interactive prompt of the tool.
func confirmReuseKeys() (bool, error) {
	reuse := true
	confirm := huh.NewConfirm().
		Title("Signing key material already exists. Reuse it?").
		Affirmative("Reuse").
		Negative("Regenerate").
		Value(&reuse)
	if err := huh.NewForm(huh.NewGroup(confirm)).Run(); err != nil {
		return false, err
	}
	return reuse, nil
}

func printSummary(summary signing.Summary) {
	for _, result := range summary.Results {
		fmt.Printf("%-8s %s\n", result.Outcome, result.Module.Path)
	}
	signed, failed, skipped := summary.Counts()
	fmt.Printf("Signed %d/%d modules (%d failed, %d skipped)\n",
		signed, len(summary.Results), failed, skipped)
}

func (c *InstallCommand) logError(err error) {
	if c.debug {
		log.Errorf("%+v", err)
	} else {
		log.Errorf("%v", err)
	}
}
