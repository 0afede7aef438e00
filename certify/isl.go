package main

import (
	"github.com/urfave/cli/v2"
	"machinerun.io/storcert"
	"machinerun.io/storcert/islconf"
	"machinerun.io/storcert/probe"
)

//nolint:gochecknoglobals
var islCommands = cli.Command{
	Name:  "isl",
	Usage: "array link configuration",
	Subcommands: []*cli.Command{
		{
			Name:      "show",
			Usage:     "Show an array configuration file",
			ArgsUsage: "config.xml",
			Action:    islShow,
		},
		{
			Name:      "probe",
			Usage:     "Probe the target of an array configuration file",
			ArgsUsage: "config.xml",
			Action:    islProbe,
		},
	},
}

func islShow(c *cli.Context) error {
	conf, err := islconf.Load(c.Args().First())
	if err != nil {
		return err
	}

	printMap([2]string{"Option", "Value"}, storcert.DeviceConfig(conf).Hidden())

	return nil
}

func islProbe(c *cli.Context) error {
	conf, err := islconf.Load(c.Args().First())
	if err != nil {
		return err
	}

	e, err := newEnv(c)
	if err != nil {
		return err
	}

	cp, err := e.controlPlane()
	if err != nil {
		return err
	}

	dc := conf.DeviceConfig()

	host, err := cp.LocalHost()
	if err != nil {
		return err
	}

	res, err := cp.Probe(host, dc, probe.SRTypeISCSI)
	if err != nil {
		return err
	}

	doc, err := probe.ParseResult(res)
	if err != nil {
		return err
	}

	data := [][]string{{"IQN", "Portal"}}
	for _, t := range doc.Targets {
		data = append(data, []string{t.IQN, t.Portal})
	}

	printTextTable(data)

	return nil
}
