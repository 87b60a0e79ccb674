// Package modules provides functionality to locate and inspect the Linux
// kernel modules of the installed NVIDIA driver.
package modules

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"

	"github.com/secureboot-tools/modsign/src/pkg/compress"
)

const (
	// magicNumber is a constant defined in https://github.com/torvalds/linux/blob/master/scripts/sign-file.c.
	// It trails every signed kernel module.
	magicNumber = "~Module signature appended~\n"
)

// BaseNames lists the kernel modules shipped by the NVIDIA driver. Not every
// driver version installs all of them.
var BaseNames = []string{
	"nvidia",
	"nvidia-drm",
	"nvidia-modeset",
	"nvidia-peermem",
	"nvidia-uvm",
}

// ModulePath is a kernel module file on disk together with its compression
// format. Identity is the path.
type ModulePath struct {
	Path string
	Kind compress.Kind
}

// SearchDirs returns the directories that may contain the driver's kernel
// modules for the given kernel release. dkmsBuildDir is the DKMS build
// output directory for the installed driver version; it may be empty when no
// DKMS tree exists.
func SearchDirs(libModulesDir, kernelRelease, dkmsBuildDir string) []string {
	kernelDir := filepath.Join(libModulesDir, kernelRelease)
	dirs := []string{
		filepath.Join(kernelDir, "updates", "dkms"),
		filepath.Join(kernelDir, "extra"),
		filepath.Join(kernelDir, "kernel", "drivers", "video"),
	}
	if dkmsBuildDir != "" {
		dirs = append(dirs, dkmsBuildDir)
	}
	return dirs
}

// Locate probes every combination of search directory, module base name and
// compression suffix, and returns the module files that exist. The result is
// deduplicated by path and sorted.
func Locate(searchDirs, baseNames []string) []ModulePath {
	seen := make(map[string]compress.Kind)
	for _, dir := range searchDirs {
		for _, name := range baseNames {
			base := filepath.Join(dir, name+".ko")
			candidates := []string{base, base + compress.XZ.Suffix(), base + compress.Zstd.Suffix()}
			for _, candidate := range candidates {
				info, err := os.Stat(candidate)
				if err != nil || info.IsDir() {
					continue
				}
				seen[candidate] = compress.KindForPath(candidate)
			}
		}
	}

	located := make([]ModulePath, 0, len(seen))
	for path, kind := range seen {
		located = append(located, ModulePath{Path: path, Kind: kind})
	}
	sort.Slice(located, func(i, j int) bool { return located[i].Path < located[j].Path })
	return located
}

// IsSigned reports whether the module already carries an appended module
// signature. Compressed modules are inspected through their codec without
// touching the file on disk.
func IsSigned(mp ModulePath) (bool, error) {
	f, err := os.Open(mp.Path)
	if err != nil {
		return false, errors.Wrapf(err, "failed to open module %s", mp.Path)
	}
	defer f.Close()

	var reader io.Reader = f
	switch mp.Kind {
	case compress.XZ:
		if reader, err = xz.NewReader(f); err != nil {
			return false, errors.Wrapf(err, "failed to read xz stream from %s", mp.Path)
		}
	case compress.Zstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return false, errors.Wrapf(err, "failed to read zstd stream from %s", mp.Path)
		}
		defer zr.Close()
		reader = zr
	}

	tail, err := readTail(reader, len(magicNumber))
	if err != nil {
		return false, errors.Wrapf(err, "failed to read module %s", mp.Path)
	}
	return string(tail) == magicNumber, nil
}

// readTail consumes the reader and returns its final n bytes.
func readTail(reader io.Reader, n int) ([]byte, error) {
	tail := make([]byte, 0, 2*n)
	buf := make([]byte, 32*1024)
	for {
		read, err := reader.Read(buf)
		if read > 0 {
			tail = append(tail, buf[:read]...)
			if len(tail) > n {
				tail = tail[len(tail)-n:]
			}
		}
		if err == io.EOF {
			return tail, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
