// Package compress handles the compression formats used for installed
// kernel modules (.ko.xz and .ko.zst).
package compress

import (
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// Kind identifies the compression format of a kernel module file.
type Kind int

const (
	// None means the module is an uncompressed .ko file.
	None Kind = iota
	// XZ means the module is compressed with xz (.ko.xz).
	XZ
	// Zstd means the module is compressed with zstd (.ko.zst).
	Zstd
)

// Kinds lists the supported compressed formats, i.e. all kinds except None.
var Kinds = []Kind{XZ, Zstd}

// Suffix returns the filename suffix of the kind, e.g. ".xz".
func (k Kind) Suffix() string {
	switch k {
	case XZ:
		return ".xz"
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}

func (k Kind) String() string {
	switch k {
	case XZ:
		return "xz"
	case Zstd:
		return "zstd"
	default:
		return "none"
	}
}

// KindForPath infers the compression kind from a file path suffix.
func KindForPath(path string) Kind {
	for _, k := range Kinds {
		if strings.HasSuffix(path, k.Suffix()) {
			return k
		}
	}
	return None
}

// Strip removes the compression suffix from a path. Paths of uncompressed
// files are returned unchanged.
func Strip(path string) string {
	return strings.TrimSuffix(path, KindForPath(path).Suffix())
}

// DecompressFile decompresses src into dst. The compression kind is inferred
// from the src suffix.
func DecompressFile(src, dst string) error {
	kind := KindForPath(src)
	if kind == None {
		return errors.Errorf("file %s has no recognized compression suffix", src)
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open file %s", src)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to create file %s", dst)
	}
	defer dstFile.Close()

	var reader io.Reader
	switch kind {
	case XZ:
		reader, err = xz.NewReader(srcFile)
		if err != nil {
			return errors.Wrapf(err, "failed to read xz stream from %s", src)
		}
	case Zstd:
		zr, err := zstd.NewReader(srcFile)
		if err != nil {
			return errors.Wrapf(err, "failed to read zstd stream from %s", src)
		}
		defer zr.Close()
		reader = zr
	}

	if _, err := io.Copy(dstFile, reader); err != nil {
		return errors.Wrapf(err, "failed to decompress %s to %s", src, dst)
	}
	return dstFile.Close()
}

// CompressFile compresses src into dst using the given kind.
func CompressFile(src, dst string, kind Kind) error {
	if kind == None {
		return errors.New("cannot compress with kind none")
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open file %s", src)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to create file %s", dst)
	}
	defer dstFile.Close()

	var writer io.WriteCloser
	switch kind {
	case XZ:
		writer, err = xz.NewWriter(dstFile)
		if err != nil {
			return errors.Wrapf(err, "failed to create xz stream for %s", dst)
		}
	case Zstd:
		writer, err = zstd.NewWriter(dstFile)
		if err != nil {
			return errors.Wrapf(err, "failed to create zstd stream for %s", dst)
		}
	}

	if _, err := io.Copy(writer, srcFile); err != nil {
		writer.Close()
		return errors.Wrapf(err, "failed to compress %s to %s", src, dst)
	}
	if err := writer.Close(); err != nil {
		return errors.Wrapf(err, "failed to finish compressing %s", dst)
	}
	return dstFile.Close()
}
