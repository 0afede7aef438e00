package ddt

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"machinerun.io/storcert"
)

// ddBlockSize is the block size used for throughput samples.
const ddBlockSize = 4096

//nolint:gochecknoglobals
var reDDCopied = regexp.MustCompile(`copied, ([0-9.]+) s`)

// parseDDSeconds returns the elapsed seconds from dd's final status line:
//
//	536870912 bytes (537 MB, 512 MiB) copied, 2.34 s, 229 MB/s
func parseDDSeconds(stderr []byte) (float64, error) {
	m := reDDCopied.FindSubmatch(stderr)
	if m == nil {
		return 0, &storcert.ParseError{What: "dd status", Input: string(stderr)}
	}

	secs, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0, &storcert.ParseError{What: "dd status", Input: string(stderr), Err: err}
	}

	return secs, nil
}

// TimeToWrite writes sizeMiB of zeros to device and returns the seconds it
// took. The data on device is overwritten.
func TimeToWrite(r storcert.Runner, device string, sizeMiB uint64) (float64, error) {
	logger.Debugf("copying %dMiB from /dev/zero to %s to time it", sizeMiB, device)

	args := []string{"dd", "if=/dev/zero", "of=" + device,
		fmt.Sprintf("bs=%d", ddBlockSize),
		fmt.Sprintf("count=%d", sizeMiB*storcert.Mebibyte/ddBlockSize)}

	stdout, stderr, rc := r.Run(args...)
	if rc != 0 {
		return 0, errors.Wrap(
			&storcert.ToolError{Args: args, RC: rc, Stdout: stdout, Stderr: stderr},
			"throughput sample failed")
	}

	secs, err := parseDDSeconds(stderr)
	if err != nil {
		return 0, err
	}

	logger.Debugf("time taken to copy %dMiB to %s is %.2f seconds", sizeMiB, device, secs)

	return secs, nil
}

// BudgetError is returned when a write-through is expected to take longer
// than allowed.
type BudgetError struct {
	Estimate time.Duration
	Limit    time.Duration

	// MaxSize is the largest device in bytes that would fit the limit.
	MaxSize uint64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf(
		"writing through this device will take more than %.0f hours (estimated %s), "+
			"please use a device up to %s in size",
		e.Limit.Hours(), e.Estimate.Round(time.Second), humanize.IBytes(e.MaxSize))
}

// Extrapolate estimates how long writing sizeBytes takes given that
// sampleMiB took sampleSecs, assuming linear throughput. An estimate above
// limit is a *BudgetError naming the largest size that fits.
func Extrapolate(sizeBytes, sampleMiB uint64, sampleSecs float64, limit time.Duration) (time.Duration, error) {
	if sampleMiB == 0 {
		return 0, errors.New("cannot extrapolate from an empty sample")
	}

	secsPerByte := sampleSecs / float64(sampleMiB*storcert.Mebibyte)
	estimate := time.Duration(float64(sizeBytes) * secsPerByte * float64(time.Second))

	if estimate > limit {
		return estimate, &BudgetError{
			Estimate: estimate,
			Limit:    limit,
			MaxSize:  uint64(limit.Seconds() / secsPerByte),
		}
	}

	return estimate, nil
}

// FormatRunTime renders d for the operator, for example
// "2 hours, 3 minutes, 4 seconds". It returns "" for durations under a
// second.
func FormatRunTime(d time.Duration) string {
	secs := int64(d / time.Second)
	hrs := secs / 3600      //nolint:gomnd
	mins := secs % 3600 / 60 //nolint:gomnd
	secs %= 60

	switch {
	case hrs > 0:
		return fmt.Sprintf("%d hours, %d minutes, %d seconds", hrs, mins, secs)
	case mins > 0:
		return fmt.Sprintf("%d minutes, %d seconds", mins, secs)
	case secs > 0:
		return fmt.Sprintf("%d seconds", secs)
	}

	return ""
}
