package main

import (
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"
	"machinerun.io/storcert/lun"
)

//nolint:gochecknoglobals
var lunCommands = cli.Command{
	Name:  "lun",
	Usage: "find the block devices of LUNs",
	Subcommands: []*cli.Command{
		{
			Name:      "by-host",
			Usage:     "List the LUNs of a SCSI host",
			ArgsUsage: "host-id",
			Action:    lunByHost,
		},
		{
			Name:      "iscsi",
			Usage:     "List the LUNs of an iscsi session",
			ArgsUsage: "iqn portal",
			Action:    lunISCSI,
		},
		{
			Name:      "scsi-config",
			Usage:     "Show the udev properties of a SCSI id",
			ArgsUsage: "scsi-id",
			Action:    lunSCSIConfig,
		},
		{
			Name:      "wait",
			Usage:     "Wait for a device path matching a glob to appear",
			ArgsUsage: "pattern",
			Action:    lunWait,
		},
	},
}

func printLUNs(infos []lun.Info) {
	data := [][]string{{"LUN", "SCSI id", "Device"}}
	for _, i := range infos {
		data = append(data, []string{i.LUN, i.SCSIID, i.Device})
	}

	printTextTable(data)
}

func lunByHost(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}

	infos, ok := lun.NewNamespace(e.runner, e.settings).ByHost(c.Args().First())
	if !ok {
		return fmt.Errorf("no LUNs found for host %s", c.Args().First())
	}

	printLUNs(infos)

	return nil
}

func lunISCSI(c *cli.Context) error {
	if c.Args().Len() != 2 { //nolint:gomnd
		return fmt.Errorf("need iqn and portal, got %d args", c.Args().Len())
	}

	e, err := newEnv(c)
	if err != nil {
		return err
	}

	luns, err := lun.NewNamespace(e.runner, e.settings).ISCSIMap(c.Args().Get(0), c.Args().Get(1))
	if err != nil {
		return err
	}

	infos := make([]lun.Info, 0, len(luns))
	for _, i := range luns {
		infos = append(infos, i)
	}

	sort.Slice(infos, func(a, b int) bool { return infos[a].LUN < infos[b].LUN })
	printLUNs(infos)

	return nil
}

func lunSCSIConfig(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}

	conf, err := lun.NewNamespace(e.runner, e.settings).SCSIConfig(c.Args().First())
	if err != nil {
		return err
	}

	printMap([2]string{"Property", "Value"}, conf)

	return nil
}

func lunWait(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}

	found, ok := lun.WaitForPath(c.Args().First(), e.settings.PathWait)
	if !ok {
		return fmt.Errorf("nothing matched %s after %s", c.Args().First(), e.settings.PathWait)
	}

	fmt.Println(found)

	return nil
}
