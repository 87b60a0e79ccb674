// Package utils provides utility functions shared by the signing tool.
package utils

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strings"

	log "github.com/golang/glog"
	"github.com/pkg/errors"
)

// RunCommandAndLogOutput runs a command and streams its stdout and stderr
// to the log. The command's failure is returned to the caller.
func RunCommandAndLogOutput(cmd *exec.Cmd) error {
	log.V(2).Infof("Running command %v", cmd.Args)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrapf(err, "failed to get stdout pipe of command %v", cmd.Args)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrapf(err, "failed to get stderr pipe of command %v", cmd.Args)
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to start command %v", cmd.Args)
	}

	go logPipe(stdout, log.Infof)
	go logPipe(stderr, log.Warningf)

	if err := cmd.Wait(); err != nil {
		return errors.Wrapf(err, "command %v failed", cmd.Args)
	}
	return nil
}

func logPipe(pipe io.Reader, logf func(format string, args ...interface{})) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		logf("%s", scanner.Text())
	}
}

// CopyFile copies a file from src to dst, preserving the source file mode.
func CopyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open file %s", src)
	}
	defer srcFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return errors.Wrapf(err, "failed to stat file %s", src)
	}

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return errors.Wrapf(err, "failed to create file %s", dst)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return errors.Wrapf(err, "failed to copy %s to %s", src, dst)
	}
	return dstFile.Close()
}

// MoveFile moves a file from src to dst. It works across filesystems, which
// os.Rename doesn't.
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename failed, likely because src and dst are on different devices.
	if err := CopyFile(src, dst); err != nil {
		return errors.Wrapf(err, "failed to move %s to %s", src, dst)
	}
	if err := os.Remove(src); err != nil {
		return errors.Wrapf(err, "failed to remove %s", src)
	}
	return nil
}

// LoadKeyValueFile parses a file of KEY=value lines into a map. Values may be
// quoted with single or double quotes; blank lines and #-comments are
// skipped. This covers shell-style config files such as
// /etc/dkms/framework.conf and /etc/os-release.
func LoadKeyValueFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file %s", path)
	}
	defer f.Close()

	kv := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, "=", 2)
		if len(fields) != 2 {
			continue
		}
		value := strings.TrimSpace(fields[1])
		value = strings.Trim(value, `"'`)
		kv[strings.TrimSpace(fields[0])] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read file %s", path)
	}
	return kv, nil
}
