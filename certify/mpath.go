package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"machinerun.io/storcert"
	"machinerun.io/storcert/mpath"
)

//nolint:gochecknoglobals
var mpathCommands = cli.Command{
	Name:  "mpath",
	Usage: "multipath configuration and path state",
	Subcommands: []*cli.Command{
		{
			Name:      "config",
			Usage:     "Show the multipath settings applied to a vendor and product",
			ArgsUsage: "vendor product",
			Action:    mpathConfig,
		},
		{
			Name:   "dump",
			Usage:  "Show the multipathd configuration as parsed",
			Action: mpathDump,
		},
		{
			Name:      "paths",
			Usage:     "Show the paths of multipath devices",
			ArgsUsage: "scsi-id [scsi-id...]",
			Action:    mpathPaths,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "active",
					Value: false,
					Usage: "Only show paths device mapper considers active",
				},
			},
		},
		{
			Name:   "status",
			Usage:  "Show whether multipathing is enabled on this host",
			Action: mpathStatus,
		},
		{
			Name:   "enable",
			Usage:  "Enable dm multipathing on this host",
			Action: mpathToggle(mpath.Enable),
		},
		{
			Name:   "disable",
			Usage:  "Disable multipathing on this host",
			Action: mpathToggle(mpath.Disable),
		},
	},
}

func mpathConfig(c *cli.Context) error {
	if c.Args().Len() != 2 { //nolint:gomnd
		return fmt.Errorf("need vendor and product, got %d args", c.Args().Len())
	}

	e, err := newEnv(c)
	if err != nil {
		return err
	}

	vendor, product := c.Args().Get(0), c.Args().Get(1)

	dc, ok, err := mpath.CachingResolver(e.runner, e.settings).Resolve(vendor, product)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("no device section in the multipath configuration matches %s %s", vendor, product)
	}

	printMap([2]string{"Key", "Value"}, dc)

	return nil
}

func mpathDump(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}

	tree, err := mpath.ShowConfig(e.runner, e.settings.Multipathd)
	if err != nil {
		return err
	}

	fmt.Print(tree.String())

	return nil
}

func mpathPaths(c *cli.Context) error {
	if c.Args().Len() == 0 {
		return errors.New("need at least one scsi id")
	}

	e, err := newEnv(c)
	if err != nil {
		return err
	}

	data := [][]string{{"SCSI id", "HBTL", "DM status", "Path status"}}
	failed := 0

	for _, id := range c.Args().Slice() {
		paths, ok := mpath.PathStatuses(e.runner, e.settings.Multipathd, id, c.Bool("active"))
		if !ok {
			failed++
			data = append(data, []string{id, "-", "-", "unknown"})

			continue
		}

		e.metrics.ObservePaths(id, paths)

		for _, p := range paths {
			data = append(data, []string{id, p.HBTL, p.DMStatus, p.PathStatus})
		}
	}

	printTextTable(data)
	e.metrics.ObserveCheck("multipath-paths", failed == 0, c.Args().Len()-failed)

	if err := e.writeMetrics(); err != nil {
		return err
	}

	if failed != 0 {
		return fmt.Errorf("failed to read the topology of %d devices", failed)
	}

	return nil
}

func mpathStatus(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}

	cp, err := e.controlPlane()
	if err != nil {
		return err
	}

	host, err := cp.LocalHost()
	if err != nil {
		return err
	}

	fmt.Printf("multipathing enabled: %t\n", mpath.Enabled(cp, host))

	return nil
}

func mpathToggle(toggle func(hc storcert.HostConfig, host storcert.Ref) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := newEnv(c)
		if err != nil {
			return err
		}

		cp, err := e.controlPlane()
		if err != nil {
			return err
		}

		host, err := cp.LocalHost()
		if err != nil {
			return err
		}

		err = toggle(cp, host)
		displayOperationStatus(err == nil)

		return err
	}
}
