package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"machinerun.io/storcert/probe"
)

//nolint:gochecknoglobals
var probeCommands = cli.Command{
	Name:  "probe",
	Usage: "discover storage through control plane probes",
	Subcommands: []*cli.Command{
		{
			Name:   "iscsi",
			Usage:  "List the portals and SCSI ids of iscsi targets",
			Action: probeISCSI,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "target",
					Usage:    "target address",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "iqns",
					Usage:    "comma separated target IQNs",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "chapuser",
					Usage: "CHAP user name",
				},
				&cli.StringFlag{
					Name:    "chappass",
					Usage:   "CHAP password",
					EnvVars: []string{"STORCERT_CHAPPASS"},
				},
			},
		},
		{
			Name:   "hba",
			Usage:  "List the adapters and SCSI ids of host bus adapters",
			Action: probeHBA,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "type",
					Value: probe.SRTypeHBA,
					Usage: "storage repository type to probe",
				},
				&cli.StringFlag{
					Name:  "adapters",
					Usage: "comma separated adapters (host3,host4) to restrict to",
				},
			},
		},
	},
}

func printBatch(batch probe.Batch) {
	for _, item := range batch.Failed() {
		fmt.Printf("   %s: %s\n", item.Item, item.Err)
	}
}

func probeISCSI(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}

	cp, err := e.controlPlane()
	if err != nil {
		return err
	}

	var chap *probe.CHAP
	if c.String("chapuser") != "" && c.String("chappass") != "" {
		chap = &probe.CHAP{User: c.String("chapuser"), Password: c.String("chappass")}
	}

	res, err := probe.NewDiscoverer(cp).ISCSITargets(c.String("target"), probe.SplitList(c.String("iqns")), chap)
	if err != nil {
		return err
	}

	fmt.Printf("Portals: %s\n", strings.Join(res.Portals, ", "))

	data := [][]string{{"SCSI id"}}
	for _, id := range res.SCSIIDs {
		data = append(data, []string{id})
	}

	printTextTable(data)
	printBatch(res.Batch)
	e.metrics.ObserveCheck("probe-iscsi", len(res.Batch.Failed()) == 0, len(res.SCSIIDs))

	if err := e.writeMetrics(); err != nil {
		return err
	}

	return res.Batch.Err()
}

func probeHBA(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}

	cp, err := e.controlPlane()
	if err != nil {
		return err
	}

	res, err := probe.NewDiscoverer(cp).HBA(c.String("type"), probe.SplitList(c.String("adapters")))
	if err != nil {
		return err
	}

	data := [][]string{{"Host", "Name", "Manufacturer"}}
	for _, a := range res.Adapters {
		data = append(data, []string{a.Host, a.Attributes["name"], a.Attributes["manufacturer"]})
	}

	printTextTable(data)

	for _, id := range res.SCSIIDs {
		fmt.Printf("SCSI id: %s\n", id)
	}

	printBatch(res.Batch)
	e.metrics.ObserveCheck("probe-hba", len(res.Batch.Failed()) == 0, len(res.SCSIIDs))

	if err := e.writeMetrics(); err != nil {
		return err
	}

	return res.Batch.Err()
}
