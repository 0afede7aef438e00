// Package ddt drives disk data integrity tests: the diskdatatest block test
// tool, direct sector pattern tests and throughput based run time estimates.
// Every write test here destroys the data on the device it is pointed at.
package ddt

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/juju/loggo"
	"github.com/pkg/errors"
	"machinerun.io/storcert"
)

var logger = loggo.GetLogger("storcert.ddt")

// DefaultSectorsPerBlock - one test block is 512 sectors, 256KiB.
const DefaultSectorsPerBlock = 512

// Result is the outcome of one write and verify run.
type Result struct {
	TotalBlocks   uint64
	WriteBlocks   uint64
	WriteElapsed  float64
	VerifyBlocks  uint64
	VerifyElapsed float64
	SectorErrors  int
}

// Estimate extrapolates the seconds a full run over TotalBlocks would take
// from the per block write and verify cost of this run. It assumes uniform
// throughput and is only a guide for the operator.
func (r Result) Estimate() (float64, error) {
	if r.WriteBlocks == 0 || r.VerifyBlocks == 0 {
		return 0, fmt.Errorf("cannot estimate from a run with %d written and %d verified blocks",
			r.WriteBlocks, r.VerifyBlocks)
	}

	perBlock := r.WriteElapsed/float64(r.WriteBlocks) + r.VerifyElapsed/float64(r.VerifyBlocks)

	return float64(r.TotalBlocks) * perBlock, nil
}

// BlocksForSize returns the number of test blocks in sizeMiB.
func BlocksForSize(sizeMiB uint64, sectorsPerBlock int) uint64 {
	return sizeMiB * storcert.Mebibyte / uint64(sectorsPerBlock*storcert.SectorSize512)
}

// Engine runs the block test tool.
type Engine struct {
	runner     storcert.Runner
	tool       string
	sampleTime time.Duration
}

// NewEngine returns an Engine using the tool and sample time in settings.
func NewEngine(r storcert.Runner, settings storcert.Settings) *Engine {
	return &Engine{runner: r, tool: settings.DiskDataTest, sampleTime: settings.SampleTime}
}

type summary struct {
	first, blocks uint64
	elapsed       float64
	last          int
}

// parseSummary parses the final line of the tool's output. A write pass
// prints "<total> <blocks> <elapsed> -" and a verify pass prints
// "- <blocks> <elapsed> <sector errors>"; the placeholder field is not read.
func parseSummary(mode string, out []byte) (summary, error) {
	line := storcert.LastLine(out)
	toks := strings.Fields(line)

	if len(toks) != 4 { //nolint:gomnd
		return summary{}, &storcert.ParseError{What: "diskdatatest summary", Input: line}
	}

	var s summary
	var err error

	if mode == "write" {
		if s.first, err = strconv.ParseUint(toks[0], 10, 64); err != nil {
			return s, &storcert.ParseError{What: "diskdatatest summary", Input: line, Err: err}
		}
	}

	if s.blocks, err = strconv.ParseUint(toks[1], 10, 64); err != nil {
		return s, &storcert.ParseError{What: "diskdatatest summary", Input: line, Err: err}
	}

	if s.elapsed, err = strconv.ParseFloat(toks[2], 64); err != nil {
		return s, &storcert.ParseError{What: "diskdatatest summary", Input: line, Err: err}
	}

	if mode == "verify" {
		if s.last, err = strconv.Atoi(toks[3]); err != nil {
			return s, &storcert.ParseError{What: "diskdatatest summary", Input: line, Err: err}
		}
	}

	return s, nil
}

func (e *Engine) pass(mode, device string, sectorsPerBlock int, blocks uint64,
	timeLimit time.Duration, runID int) (summary, error) {
	args := []string{
		e.tool, mode, device,
		strconv.Itoa(sectorsPerBlock),
		strconv.FormatUint(blocks, 10),
		strconv.Itoa(int(timeLimit / time.Second)),
		strconv.Itoa(runID),
	}

	logger.Debugf("the command to be fired is: %v", args)

	out, err := storcert.RunCommand(e.runner, args...)
	if err != nil {
		return summary{}, errors.Wrapf(err, "disk test %s error", mode)
	}

	logger.Debugf("diskdatatest returned: %s", out)

	return parseSummary(mode, out)
}

// Run writes blocks test blocks of sectorsPerBlock sectors to device and
// verifies them. A zero timeLimit means no limit; otherwise the tool stops
// writing when it expires and the verify covers what was written.
//
// A sector error count other than zero is reported as an
// *storcert.IntegrityError. A tool failure is a *storcert.ToolError.
func (e *Engine) Run(device string, blocks uint64, sectorsPerBlock int, timeLimit time.Duration) (Result, error) {
	runID := storcert.NewRunID()

	w, err := e.pass("write", device, sectorsPerBlock, blocks, timeLimit, runID)
	if err != nil {
		return Result{}, err
	}

	v, err := e.pass("verify", device, sectorsPerBlock, w.blocks, timeLimit, runID)
	if err != nil {
		return Result{}, err
	}

	r := Result{
		TotalBlocks:   w.first,
		WriteBlocks:   w.blocks,
		WriteElapsed:  w.elapsed,
		VerifyBlocks:  v.blocks,
		VerifyElapsed: v.elapsed,
		SectorErrors:  v.last,
	}

	if r.SectorErrors != 0 {
		return r, &storcert.IntegrityError{Device: device, Sectors: r.SectorErrors}
	}

	return r, nil
}

// EstimateDuration runs a sample limited to the engine's sample time over a
// device of sizeMiB and returns the estimated duration of a full run.
func (e *Engine) EstimateDuration(device string, sizeMiB uint64) (time.Duration, Result, error) {
	logger.Debugf("running diskdatatest sample on %s to find the estimated time", device)

	r, err := e.Run(device, BlocksForSize(sizeMiB, DefaultSectorsPerBlock), DefaultSectorsPerBlock, e.sampleTime)
	if err != nil {
		return 0, r, err
	}

	secs, err := r.Estimate()
	if err != nil {
		return 0, r, err
	}

	logger.Infof("estimated time for testing IO with %s is %.0f seconds", device, secs)

	return time.Duration(secs * float64(time.Second)), r, nil
}

// RunWithEstimate samples device with EstimateDuration, prints the
// approximate run time to out and only then runs the unlimited full test
// over sizeMiB.
func (e *Engine) RunWithEstimate(device string, sizeMiB uint64, out io.Writer) (time.Duration, Result, error) {
	d, sample, err := e.EstimateDuration(device, sizeMiB)
	if err != nil {
		return 0, sample, errors.Wrap(err, "failed to estimate the run time")
	}

	if rt := FormatRunTime(d); rt != "" {
		fmt.Fprintf(out, "   APPROXIMATE RUN TIME: %s.\n", rt)
	}

	res, err := e.Run(device, BlocksForSize(sizeMiB, DefaultSectorsPerBlock), DefaultSectorsPerBlock, 0)

	return d, res, err
}
