package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"machinerun.io/storcert"
	"machinerun.io/storcert/ddt"
)

//nolint:gochecknoglobals
var forceFlag = &cli.BoolFlag{
	Name:  "force",
	Value: false,
	Usage: "Write even if the device has a partition table",
}

//nolint:gochecknoglobals
var rangeFlags = []cli.Flag{
	forceFlag,
	&cli.Int64Flag{
		Name:  "start",
		Value: 0,
		Usage: "first pattern index",
	},
	&cli.Int64Flag{
		Name:  "end",
		Value: -1,
		Usage: "last pattern index, -1 for the end of the device",
	},
	&cli.Int64Flag{
		Name:  "stride",
		Value: storcert.Gibibyte,
		Usage: "bytes between pattern copies",
	},
}

//nolint:gochecknoglobals
var ddtCommands = cli.Command{
	Name:  "ddt",
	Usage: "disk data integrity tests (these destroy data on the device)",
	Subcommands: []*cli.Command{
		{
			Name:      "run",
			Usage:     "Write and verify the device with the block test tool",
			ArgsUsage: "device",
			Action:    ddtRun,
			Flags: []cli.Flag{
				forceFlag,
				&cli.Uint64Flag{
					Name:  "size-mib",
					Usage: "MiB to test, 0 for the whole device",
				},
				&cli.DurationFlag{
					Name:  "time-limit",
					Usage: "stop writing after this long, 0 for no limit",
				},
			},
		},
		{
			Name:      "estimate",
			Usage:     "Estimate how long a full run takes from a short sample",
			ArgsUsage: "device",
			Action:    ddtEstimate,
			Flags:     []cli.Flag{forceFlag},
		},
		{
			Name:      "time-write",
			Usage:     "Time writing zeros to the device and extrapolate a write-through",
			ArgsUsage: "device",
			Action:    ddtTimeWrite,
			Flags:     []cli.Flag{forceFlag},
		},
		{
			Name:      "pattern-write",
			Usage:     "Write the test pattern at every stride",
			ArgsUsage: "device",
			Action:    ddtPattern(true),
			Flags:     rangeFlags,
		},
		{
			Name:      "pattern-verify",
			Usage:     "Verify the test pattern at every stride",
			ArgsUsage: "device",
			Action:    ddtPattern(false),
			Flags:     rangeFlags[1:],
		},
	},
}

// destructiveTarget returns the device argument and its size, refusing
// devices with a partition table unless --force.
func destructiveTarget(c *cli.Context) (string, uint64, error) {
	device := c.Args().First()
	if device == "" {
		return "", 0, errors.New("need a device")
	}

	if !storcert.PathExists(device) {
		return "", 0, fmt.Errorf("%s does not exist", device)
	}

	if !c.Bool("force") {
		table, err := ddt.PartitionTable(device)
		if err != nil {
			return "", 0, err
		}

		if table != ddt.TableNone {
			return "", 0, fmt.Errorf("%s has a %s partition table, use --force to overwrite it", device, table)
		}
	}

	size, err := storcert.DeviceSize(device)
	if err != nil {
		return "", 0, err
	}

	return device, size, nil
}

func ddtRun(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}

	device, size, err := destructiveTarget(c)
	if err != nil {
		return err
	}

	sizeMiB := c.Uint64("size-mib")
	if sizeMiB == 0 {
		sizeMiB = size / storcert.Mebibyte
	}

	fmt.Printf("   Testing %s of %s (%s)\n", humanize.IBytes(sizeMiB*storcert.Mebibyte), device, humanize.IBytes(size))

	engine := ddt.NewEngine(e.runner, e.settings)

	var res ddt.Result

	// an unlimited run is preceded by a sample so the operator sees how long
	// it will take.
	if limit := c.Duration("time-limit"); limit == 0 {
		_, res, err = engine.RunWithEstimate(device, sizeMiB, os.Stdout)
	} else {
		blocks := ddt.BlocksForSize(sizeMiB, ddt.DefaultSectorsPerBlock)
		res, err = engine.Run(device, blocks, ddt.DefaultSectorsPerBlock, limit)
	}

	if err == nil || storcert.IsIntegrityError(err) {
		e.metrics.ObserveDDT(device, res)
	}

	e.metrics.ObserveCheck("ddt", err == nil, int(res.VerifyBlocks))
	displayOperationStatus(err == nil)

	if merr := e.writeMetrics(); merr != nil && err == nil {
		err = merr
	}

	if err != nil {
		return err
	}

	fmt.Printf("   wrote %d blocks in %.2fs, verified %d blocks in %.2fs\n",
		res.WriteBlocks, res.WriteElapsed, res.VerifyBlocks, res.VerifyElapsed)

	return nil
}

func ddtEstimate(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}

	device, size, err := destructiveTarget(c)
	if err != nil {
		return err
	}

	d, res, err := ddt.NewEngine(e.runner, e.settings).EstimateDuration(device, size/storcert.Mebibyte)
	if err != nil {
		return err
	}

	e.metrics.ObserveDDT(device, res)
	fmt.Printf("   APPROXIMATE RUN TIME: %s.\n", ddt.FormatRunTime(d))

	return e.writeMetrics()
}

func ddtTimeWrite(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}

	device, size, err := destructiveTarget(c)
	if err != nil {
		return err
	}

	secs, err := ddt.TimeToWrite(e.runner, device, e.settings.SampleMiB)
	if err != nil {
		return err
	}

	fmt.Printf("   %dMiB written in %.2fs\n", e.settings.SampleMiB, secs)

	d, err := ddt.Extrapolate(size, e.settings.SampleMiB, secs, e.settings.ControlPathLimit)
	if err != nil {
		return err
	}

	fmt.Printf("   START TIME: %s\n", time.Now().Format(time.ANSIC))
	fmt.Printf("   APPROXIMATE RUN TIME: %s.\n", ddt.FormatRunTime(d))

	return nil
}

func ddtPattern(write bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		var device string
		var size uint64
		var err error

		if write {
			device, size, err = destructiveTarget(c)
		} else {
			device = c.Args().First()
			size, err = storcert.DeviceSize(device)
		}

		if err != nil {
			return err
		}

		pt := ddt.PatternTest{Pattern: ddt.Pattern, Stride: c.Int64("stride")}
		if pt.Stride <= 0 {
			return fmt.Errorf("bad stride %d", pt.Stride)
		}

		end := c.Int64("end")
		if last := pt.MaxSector(size); end < 0 || end > last {
			end = last
		}

		if write {
			err = pt.Write(device, c.Int64("start"), end)
		} else {
			err = pt.Verify(device, c.Int64("start"), end)
		}

		displayOperationStatus(err == nil)

		return err
	}
}
