package modules

import (
	"os"

	"github.com/pkg/errors"

	"github.com/secureboot-tools/modsign/src/pkg/compress"
	"github.com/secureboot-tools/modsign/src/pkg/utils"
)

// SigningTarget is a module file prepared for in-place signing. For
// compressed modules the file is decompressed next to the original, and
// Close restores the compressed file at its original path whether or not
// signing succeeded.
type SigningTarget struct {
	// WorkPath is the uncompressed file the signing utility operates on.
	WorkPath string

	original ModulePath
	owed     bool
}

// OpenForSigning prepares a module for signing. Callers must Close the
// returned target on every exit path.
func OpenForSigning(mp ModulePath) (*SigningTarget, error) {
	if mp.Kind == compress.None {
		return &SigningTarget{WorkPath: mp.Path, original: mp}, nil
	}

	workPath := compress.Strip(mp.Path)
	if err := compress.DecompressFile(mp.Path, workPath); err != nil {
		return nil, errors.Wrapf(err, "failed to decompress module %s", mp.Path)
	}
	return &SigningTarget{WorkPath: workPath, original: mp, owed: true}, nil
}

// Close recompresses the working file back to the original path using the
// original codec and removes the intermediate file. It is a no-op for
// uncompressed modules and on repeated calls.
func (t *SigningTarget) Close() error {
	if !t.owed {
		return nil
	}
	t.owed = false

	// Recompress to a sibling and move it into place so a mid-write failure
	// never truncates the module at its original path.
	tmpPath := t.original.Path + ".tmp"
	if err := compress.CompressFile(t.WorkPath, tmpPath, t.original.Kind); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to recompress module %s", t.original.Path)
	}
	if err := utils.MoveFile(tmpPath, t.original.Path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to replace module %s", t.original.Path)
	}
	if err := os.Remove(t.WorkPath); err != nil {
		return errors.Wrapf(err, "failed to remove intermediate file %s", t.WorkPath)
	}
	return nil
}
