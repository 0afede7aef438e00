package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"machinerun.io/storcert"
	"machinerun.io/storcert/controlpath"
	"machinerun.io/storcert/lun"
)

//nolint:gochecknoglobals
var srFlag = &cli.StringFlag{
	Name:     "sr",
	Usage:    "storage repository reference",
	Required: true,
}

//nolint:gochecknoglobals
var controlPathCommands = cli.Command{
	Name:  "controlpath",
	Usage: "control path stress tests",
	Subcommands: []*cli.Command{
		{
			Name:   "run",
			Usage:  "Create the largest test disk the SR allows and write through it",
			Action: controlPathRun,
			Flags:  []cli.Flag{srFlag},
		},
		{
			Name:   "plug-cycle",
			Usage:  "Unplug and plug the SR's PBDs repeatedly",
			Action: controlPathPlugCycle,
			Flags: []cli.Flag{
				srFlag,
				&cli.IntFlag{
					Name:  "count",
					Value: 10, //nolint:gomnd
					Usage: "number of iterations",
				},
			},
		},
		{
			Name:   "destroy-sr",
			Usage:  "Unplug the SR's PBDs and destroy it",
			Action: controlPathDestroySR,
			Flags:  []cli.Flag{srFlag},
		},
		{
			Name:      "block-ip",
			Usage:     "Drop all traffic from an address to fail the paths through it",
			ArgsUsage: "ip",
			Action:    controlPathBlock(controlpath.BlockIP),
		},
		{
			Name:      "unblock-ip",
			Usage:     "Undo block-ip",
			ArgsUsage: "ip",
			Action:    controlPathBlock(controlpath.UnblockIP),
		},
		{
			Name:      "block-path",
			Usage:     "Block the portal address of the iscsi path host:bus:target:lun",
			ArgsUsage: "hbtl",
			Action:    controlPathBlockPath(controlpath.BlockPath),
		},
		{
			Name:      "unblock-path",
			Usage:     "Undo block-path",
			ArgsUsage: "hbtl",
			Action:    controlPathBlockPath(controlpath.UnblockPath),
		},
	},
}

func newTester(c *cli.Context) (*env, *controlpath.Tester, error) {
	e, err := newEnv(c)
	if err != nil {
		return nil, nil, err
	}

	cp, err := e.controlPlane()
	if err != nil {
		return nil, nil, err
	}

	return e, controlpath.New(cp, e.runner, e.settings, os.Stdout), nil
}

func controlPathRun(c *cli.Context) error {
	e, tester, err := newTester(c)
	if err != nil {
		return err
	}

	checkpoints, err := tester.Run(storcert.Ref(c.String("sr")))
	e.metrics.ObserveCheck("control-path", err == nil, checkpoints)

	if merr := e.writeMetrics(); merr != nil && err == nil {
		err = merr
	}

	return err
}

func controlPathPlugCycle(c *cli.Context) error {
	e, tester, err := newTester(c)
	if err != nil {
		return err
	}

	done, err := tester.PlugUnplugPBDs(storcert.Ref(c.String("sr")), c.Int("count"))
	e.metrics.ObserveCheck("pbd-plug-cycle", err == nil, done)

	if merr := e.writeMetrics(); merr != nil && err == nil {
		err = merr
	}

	return err
}

func controlPathDestroySR(c *cli.Context) error {
	_, tester, err := newTester(c)
	if err != nil {
		return err
	}

	err = tester.DestroySR(storcert.Ref(c.String("sr")))
	displayOperationStatus(err == nil)

	return err
}

func controlPathBlock(op func(r storcert.Runner, ip string) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		ip := c.Args().First()
		if ip == "" {
			return fmt.Errorf("need an ip address")
		}

		e, err := newEnv(c)
		if err != nil {
			return err
		}

		return op(e.runner, ip)
	}
}

func controlPathBlockPath(op func(storcert.Runner, lun.Namespace, string) (string, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		hbtl := c.Args().First()
		if hbtl == "" {
			return fmt.Errorf("need a path hbtl")
		}

		e, err := newEnv(c)
		if err != nil {
			return err
		}

		ip, err := op(e.runner, lun.NewNamespace(e.runner, e.settings), hbtl)
		if err != nil {
			return err
		}

		fmt.Printf("   %s: %s\n", hbtl, ip)

		return nil
	}
}
