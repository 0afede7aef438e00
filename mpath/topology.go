package mpath

import (
	"regexp"
	"strings"

	"machinerun.io/storcert"
)

// PathStatus is the state of one physical path of a multipath device.
type PathStatus struct {
	// HBTL is the host:bus:target:lun of the path.
	HBTL string

	// DMStatus is the device-mapper state of the path (active, failed).
	DMStatus string

	// PathStatus is the path checker state (ready, faulty, ghost).
	PathStatus string
}

//nolint:gochecknoglobals
var (
	// rePathLine recognizes the path lines of a multipathd topology dump:
	//   | |- 0:0:0:0 sda 8:0   active ready running
	rePathLine = regexp.MustCompile(`[0-9]+:[0-9]+:[0-9]+:[0-9]+ [a-z]+`)

	reHBTL = regexp.MustCompile(`(\d+:\d+:\d+:\d+.*)$`)
)

// IsPathLine - is line a path line of a topology dump.
func IsPathLine(line string) bool {
	return rePathLine.MatchString(line)
}

// PathLines returns the path lines of a topology dump in order.
func PathLines(lines []string) []string {
	paths := []string{}

	for _, line := range lines {
		if IsPathLine(line) {
			paths = append(paths, line)
		}
	}

	return paths
}

// ParsePathStatus turns path lines into PathStatus records. The order of the
// dump (device, path group, path) is the path priority order and is kept.
// Lines that do not carry an hbtl and at least four more fields are skipped.
// With onlyActive only paths whose device-mapper state is "active" are kept.
func ParsePathStatus(lines []string, onlyActive bool) []PathStatus {
	found := []PathStatus{}

	for _, line := range lines {
		m := reHBTL.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		toks := strings.Fields(m[1])
		if len(toks) < 5 { //nolint:gomnd
			logger.Debugf("skipping short path line %q", line)
			continue
		}

		found = append(found, PathStatus{HBTL: toks[0], DMStatus: toks[3], PathStatus: toks[4]})
	}

	if onlyActive {
		return FilterActive(found)
	}

	return found
}

// FilterActive returns the paths whose device-mapper state is "active".
func FilterActive(paths []PathStatus) []PathStatus {
	active := []PathStatus{}

	for _, p := range paths {
		if p.DMStatus == "active" {
			active = append(active, p)
		}
	}

	return active
}

// Topology returns the lines of "multipathd show map <id> topology".
func Topology(r storcert.Runner, multipathd, scsiID string) ([]string, error) {
	out, err := storcert.RunCommand(r, multipathd, "show", "map", scsiID, "topology")
	if err != nil {
		return []string{}, err
	}

	return strings.Split(string(out), "\n"), nil
}

// PathStatuses returns the path states of the multipath device scsiID. The
// bool is false, with an empty list, when the topology could not be read so
// that callers walking many devices can carry on.
func PathStatuses(r storcert.Runner, multipathd, scsiID string, onlyActive bool) ([]PathStatus, bool) {
	lines, err := Topology(r, multipathd, scsiID)
	if err != nil {
		logger.Warningf("failed to get path status for scsi id %s: %s", scsiID, err)
		return []PathStatus{}, false
	}

	paths := PathLines(lines)
	logger.Debugf("path lines for %s: %v", scsiID, paths)

	return ParsePathStatus(paths, onlyActive), true
}
