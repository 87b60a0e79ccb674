// Package mok submits the signing certificate to the firmware's Machine
// Owner Key enrollment queue via mokutil. Enrollment itself completes in the
// shim UI at the next boot, outside this tool's control.
package mok

import (
	"os"
	"os/exec"
	"strings"

	log "github.com/golang/glog"
	"github.com/pkg/errors"
)

var execCommand = exec.Command

// IsEnrolled reports whether a key whose subject contains subjectCN already
// appears in the firmware's enrolled key listing. The match is heuristic:
// mokutil prints certificate subjects, so a substring match on the CN is the
// best available signal.
func IsEnrolled(subjectCN string) (bool, error) {
	out, err := execCommand("mokutil", "--list-enrolled").Output()
	if err != nil {
		return false, errors.Wrap(err, "failed to list enrolled MOKs")
	}
	return strings.Contains(string(out), subjectCN), nil
}

// RequestEnrollment queues the DER certificate for enrollment. mokutil asks
// the operator to set a one-time enrollment password, so the command runs
// attached to the terminal.
func RequestEnrollment(derPath string) error {
	log.Infof("Requesting MOK enrollment of %s", derPath)
	cmd := execCommand("mokutil", "--import", derPath)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "failed to request enrollment of %s", derPath)
	}
	return nil
}

// PostRebootInstructions is printed after a successful enrollment request.
const PostRebootInstructions = `A MOK enrollment request has been queued.
On the next boot the shim MOK manager will start automatically:
  1. Choose "Enroll MOK" and then "Continue".
  2. Confirm with the password you just set.
  3. Reboot once more.
After that, the signed driver modules will load under Secure Boot.`
