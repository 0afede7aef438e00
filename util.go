package storcert

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// NoCommandRC is the return code reported when a command could not be
// started at all.
const NoCommandRC = 127

// Runner executes host commands.
type Runner interface {
	// Run runs args[0] with args[1:] and returns stdout, stderr and the
	// exit code.
	Run(args ...string) ([]byte, []byte, int)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(args ...string) ([]byte, []byte, int)

// Run calls f(args...).
func (f RunnerFunc) Run(args ...string) ([]byte, []byte, int) {
	return f(args...)
}

// ExecRunner runs commands on the local host.
type ExecRunner struct{}

// Run executes the command.
func (r ExecRunner) Run(args ...string) ([]byte, []byte, int) {
	cmd := exec.Command(args[0], args[1:]...) //nolint:gosec

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	return stdout.Bytes(), stderr.Bytes(), getCommandErrorRC(err)
}

func getCommandErrorRCDefault(err error, rcError int) int {
	if err == nil {
		return 0
	}

	exitError, ok := err.(*exec.ExitError)
	if ok {
		if status, ok := exitError.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
	}

	return rcError
}

func getCommandErrorRC(err error) int {
	return getCommandErrorRCDefault(err, NoCommandRC)
}

// RunCommand runs args with r and returns a *ToolError if it exits non-zero.
func RunCommand(r Runner, args ...string) ([]byte, error) {
	out, stderr, rc := r.Run(args...)
	if rc != 0 {
		return out, &ToolError{Args: args, RC: rc, Stdout: out, Stderr: stderr}
	}

	return out, nil
}

// LastLine returns the last non-empty line of out.
func LastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// PathExists - does d exist.
func PathExists(d string) bool {
	_, err := os.Stat(d)
	if err != nil && os.IsNotExist(err) {
		return false
	}

	return true
}

// getFileSize returns the size of file by seeking to its end. Block devices
// report 0 from Stat, so this is the way to size them.
func getFileSize(file io.Seeker) (uint64, error) {
	var err error
	var cur, pos int64

	// read the current position so we can set it back before return
	if cur, err = file.Seek(0, io.SeekCurrent); err != nil {
		return 0, err
	}

	if pos, err = file.Seek(0, io.SeekEnd); err != nil {
		return 0, err
	}

	if _, err = file.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}

	return uint64(pos), nil
}

// DeviceSize returns the size in bytes of the device or file at path.
func DeviceSize(path string) (uint64, error) {
	fp, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to size %s", path)
	}
	defer fp.Close()

	size, err := getFileSize(fp)

	return size, errors.Wrapf(err, "failed to size %s", path)
}
