package main

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/juju/loggo"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"machinerun.io/storcert"
	"machinerun.io/storcert/metrics"
	"machinerun.io/storcert/mockos"
)

var version string

func printTextTable(data [][]string) {
	var lengths = make([]int, len(data[0]))

	for _, line := range data {
		for i, field := range line {
			if len(field) > lengths[i] {
				lengths[i] = len(field)
			}
		}
	}

	fmts := make([]string, len(lengths))

	for i, l := range lengths {
		fmts[i] = fmt.Sprintf("%%-%ds", l)
	}

	pfmt := strings.Join(fmts, " | ") + " |\n"

	for _, line := range data {
		s := make([]interface{}, len(line))
		for i, v := range line {
			s[i] = v
		}

		fmt.Printf(pfmt, s...)
	}
}

func printMap(header [2]string, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	data := [][]string{{header[0], header[1]}}
	for _, k := range keys {
		data = append(data, []string{k, m[k]})
	}

	printTextTable(data)
}

func displayOperationStatus(ok bool) {
	if ok {
		fmt.Println("   PASS")
	} else {
		fmt.Println("   FAIL")
	}
}

// env is what every command works with, built from the global flags.
type env struct {
	settings    storcert.Settings
	runner      storcert.Runner
	plane       storcert.ControlPlane
	metrics     *metrics.Metrics
	metricsFile string
}

func newEnv(c *cli.Context) (*env, error) {
	settings, err := storcert.LoadSettings(c.String("settings"))
	if err != nil {
		return nil, err
	}

	e := &env{
		settings:    settings,
		runner:      storcert.ExecRunner{},
		metrics:     metrics.New(),
		metricsFile: c.String("metrics-file"),
	}

	if model := c.String("model"); model != "" {
		plane := mockos.ControlPlane(model)
		e.plane = plane
		e.runner = plane.Runner()
	}

	return e, nil
}

// controlPlane returns the control plane or an error when there is none.
func (e *env) controlPlane() (storcert.ControlPlane, error) {
	if e.plane == nil {
		return nil, errors.New("this command needs a control plane, replay one with --model")
	}

	return e.plane, nil
}

func (e *env) writeMetrics() error {
	if e.metricsFile == "" {
		return nil
	}

	return errors.Wrapf(e.metrics.WriteTextfile(e.metricsFile), "failed to write metrics to %s", e.metricsFile)
}

func main() {
	app := &cli.App{
		Name:    "certify",
		Version: version,
		Usage:   "Certify storage for use with the virtualization platform",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "settings",
				Usage:   "yaml settings file (tool paths, time limits, multipath defaults)",
				EnvVars: []string{"STORCERT_SETTINGS"},
			},
			&cli.StringFlag{
				Name:    "log-config",
				Value:   "<root>=INFO",
				Usage:   "logger levels, e.g. '<root>=INFO;storcert.ddt=DEBUG'",
				EnvVars: []string{"STORCERT_LOG"},
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "replay the control plane and host commands from a json model",
			},
			&cli.StringFlag{
				Name:    "metrics-file",
				Usage:   "write results to this node exporter textfile",
				EnvVars: []string{"STORCERT_METRICS_FILE"},
			},
		},
		Before: func(c *cli.Context) error {
			return loggo.ConfigureLoggers(c.String("log-config"))
		},
		Commands: []*cli.Command{
			&probeCommands,
			&mpathCommands,
			&ddtCommands,
			&controlPathCommands,
			&lunCommands,
			&islCommands,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
