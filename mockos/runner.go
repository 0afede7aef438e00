package mockos

import (
	"machinerun.io/storcert"
)

// Run is a scripted command result. An Args element of "*" matches any
// single argument.
type Run struct {
	Args   []string `json:"args"`
	Stdout string   `json:"stdout"`
	Stderr string   `json:"stderr"`
	RC     int      `json:"rc"`
}

func (r Run) matches(args []string) bool {
	if len(r.Args) != len(args) {
		return false
	}

	for i, a := range r.Args {
		if a != "*" && a != args[i] {
			return false
		}
	}

	return true
}

// Runner is a storcert.Runner that replays scripted results. The first
// matching Run answers; a command with no script fails as if it could not
// be started.
type Runner struct {
	Runs []Run

	// Calls lists every command run, in order.
	Calls [][]string
}

// NewRunner returns a Runner for runs.
func NewRunner(runs ...Run) *Runner {
	return &Runner{Runs: runs}
}

// Run replays the scripted result for args.
func (r *Runner) Run(args ...string) ([]byte, []byte, int) {
	r.Calls = append(r.Calls, args)

	for _, run := range r.Runs {
		if run.matches(args) {
			return []byte(run.Stdout), []byte(run.Stderr), run.RC
		}
	}

	return nil, []byte("mockos: no scripted result for " + args[0]), storcert.NoCommandRC
}

// Runner returns a Runner replaying the model's scripted commands.
func (p *Plane) Runner() *Runner {
	return NewRunner(p.model.Runs...)
}
