// Package pkgmgr wraps the system package manager behind a small interface
// so the rest of the tool stays distribution neutral and testable.
package pkgmgr

import (
	"github.com/bluet/syspkg"
	"github.com/bluet/syspkg/manager"
	log "github.com/golang/glog"
	"github.com/pkg/errors"
)

// Manager is the package manager surface the signing workflow needs: a
// version query for the installable driver package and a recovery install
// for the kernel headers.
type Manager interface {
	// FindVersion returns the available version of the first of the named
	// packages known to the package index, or "" when none is known.
	FindVersion(names []string) (string, error)
	// Install installs a package non-interactively.
	Install(name string) error
}

type syspkgManager struct {
	pm syspkg.PackageManager
}

// New detects the host's package manager.
func New() (Manager, error) {
	sys, err := syspkg.New(syspkg.IncludeOptions{AllAvailable: true})
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize package manager support")
	}
	pm, err := sys.GetPackageManager("")
	if err != nil {
		return nil, errors.Wrap(err, "no supported package manager found")
	}
	return &syspkgManager{pm: pm}, nil
}

func (m *syspkgManager) FindVersion(names []string) (string, error) {
	infos, err := m.pm.Find(names, &manager.Options{Interactive: false})
	if err != nil {
		return "", errors.Wrapf(err, "failed to query package index for %v", names)
	}
	for _, info := range infos {
		if info.Version != "" {
			log.V(2).Infof("Package %s has version %s", info.Name, info.Version)
			return info.Version, nil
		}
		if info.NewVersion != "" {
			log.V(2).Infof("Package %s has available version %s", info.Name, info.NewVersion)
			return info.NewVersion, nil
		}
	}
	return "", nil
}

func (m *syspkgManager) Install(name string) error {
	log.Infof("Installing package %s", name)
	if _, err := m.pm.Install([]string{name}, &manager.Options{AssumeYes: true, Interactive: false}); err != nil {
		return errors.Wrapf(err, "failed to install package %s", name)
	}
	return nil
}
