// Package lun finds the block devices behind LUNs using the udev and iscsi
// device namespaces under /dev.
package lun

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/juju/loggo"
	"github.com/pkg/errors"
	"machinerun.io/storcert"
)

var logger = loggo.GetLogger("storcert.lun")

// Info is one LUN as seen in the device namespace.
type Info struct {
	SCSIID string
	LUN    string

	// Device is the resolved kernel device path, e.g. /dev/sdc.
	Device string
}

// Namespace reads the device namespace under Root, "/" on a live host.
type Namespace struct {
	Root   string
	Runner storcert.Runner

	// ScsiID is the scsi_id tool path.
	ScsiID string
}

// NewNamespace returns the live host namespace.
func NewNamespace(r storcert.Runner, settings storcert.Settings) Namespace {
	return Namespace{Root: "/", Runner: r, ScsiID: settings.ScsiID}
}

func (ns Namespace) path(elem ...string) string {
	return filepath.Join(append([]string{ns.Root}, elem...)...)
}

// resolve returns the real path of p, with Root stripped so the result
// names the device the way the host sees it.
func (ns Namespace) resolve(p string) (string, error) {
	full, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", err
	}

	if ns.Root == "/" || ns.Root == "" {
		return full, nil
	}

	root, err := filepath.EvalSymlinks(ns.Root)
	if err != nil {
		return "", err
	}

	if rel, err := filepath.Rel(root, full); err == nil && !strings.HasPrefix(rel, "..") {
		return "/" + rel, nil
	}

	return full, nil
}

// ByHost lists the LUNs on SCSI host hostID. Entries in
// /dev/disk/by-scsibus are named <scsiid>-<host>:<bus>:<target>:<lun>.
// The bool is false when the host has no LUNs.
func (ns Namespace) ByHost(hostID string) ([]Info, bool) {
	pattern := ns.path("dev", "disk", "by-scsibus", "*-"+hostID+":*")

	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		logger.Debugf("no luns for host %s (%s): %v", hostID, pattern, err)
		return nil, false
	}

	infos := []Info{}

	for _, m := range matches {
		base := filepath.Base(m)

		dash := strings.LastIndex(base, "-")
		hbtl := strings.Split(base[dash+1:], ":")

		if dash < 1 || len(hbtl) != 4 { //nolint:gomnd
			logger.Warningf("ignoring unexpected by-scsibus entry %s", base)
			continue
		}

		dev, err := ns.resolve(m)
		if err != nil {
			logger.Warningf("failed to resolve %s: %s", m, err)
			continue
		}

		infos = append(infos, Info{SCSIID: base[:dash], LUN: hbtl[3], Device: dev})
	}

	return infos, len(infos) != 0
}

// SCSIIDOf returns the SCSI id of device.
func (ns Namespace) SCSIIDOf(device string) (string, error) {
	out, err := storcert.RunCommand(ns.Runner, ns.ScsiID, "--whitelisted", "--replace-whitespace", device)
	if err != nil {
		return "", errors.Wrapf(err, "failed to get scsi id of %s", device)
	}

	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", fmt.Errorf("empty scsi id for %s", device)
	}

	return id, nil
}

// ISCSIMap maps the LUN numbers of an iscsi session to their SCSI id and
// device, reading /dev/iscsi/<iqn>/<portal>/LUN<n>. Partition links
// (LUN0_1) are skipped. A session with no LUN directory is an empty map.
func (ns Namespace) ISCSIMap(iqn, portal string) (map[string]Info, error) {
	dir := ns.path("dev", "iscsi", iqn, portal)
	luns := map[string]Info{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debugf("failed to find any LUNs for IQN: %s and portal: %s", iqn, portal)
			return luns, nil
		}

		return luns, err
	}

	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "LUN") || strings.Contains(name, "_") {
			continue
		}

		link := filepath.Join(dir, name)

		dev, err := ns.resolve(link)
		if err != nil {
			return luns, errors.Wrapf(err, "failed to resolve %s", link)
		}

		id, err := ns.SCSIIDOf(dev)
		if err != nil {
			return luns, err
		}

		lun := strings.TrimPrefix(name, "LUN")
		luns[lun] = Info{SCSIID: id, LUN: lun, Device: dev}
	}

	return luns, nil
}

// DevicesFor lists the devices carrying scsiID from /dev/disk/by-scsid.
func (ns Namespace) DevicesFor(scsiID string) []string {
	matches, _ := filepath.Glob(ns.path("dev", "disk", "by-scsid", scsiID, "*"))
	devs := []string{}

	for _, m := range matches {
		if dev, err := ns.resolve(m); err == nil {
			devs = append(devs, dev)
		}
	}

	sort.Strings(devs)

	return devs
}

// SCSIConfig returns the udev properties that scsi_id exports for the
// first device carrying scsiID.
func (ns Namespace) SCSIConfig(scsiID string) (map[string]string, error) {
	devs := ns.DevicesFor(scsiID)
	if len(devs) == 0 {
		return nil, errors.Wrapf(storcert.ErrNoMatch, "no device for scsi id %s", scsiID)
	}

	logger.Debugf("scsi config for %s from device %s", scsiID, devs[0])

	out, err := storcert.RunCommand(ns.Runner,
		ns.ScsiID, "--replace-whitespace", "--whitelisted", "--export", devs[0])
	if err != nil {
		return nil, err
	}

	return ParseExport(out), nil
}

// ParseExport parses KEY=VALUE lines. Lines without '=' are ignored.
func ParseExport(out []byte) map[string]string {
	conf := map[string]string{}

	for _, line := range strings.Split(string(out), "\n") {
		kv := strings.SplitN(strings.TrimSpace(line), "=", 2) //nolint:gomnd
		if len(kv) != 2 || kv[0] == "" {
			continue
		}

		conf[kv[0]] = kv[1]
	}

	return conf
}

// IPForHBTL returns the portal address of the iscsi session on the SCSI
// host named in hbtl ("<host>:<bus>:<target>:<lun>").
func IPForHBTL(hostToIP map[string]string, hbtl string) (string, error) {
	host := strings.SplitN(hbtl, ":", 2)[0] //nolint:gomnd

	if ip, ok := hostToIP[host]; ok && ip != "" {
		return ip, nil
	}

	return "", fmt.Errorf("no IP for HBTL %s in %v", hbtl, hostToIP)
}

// ISCSIHostAddresses maps each iscsi SCSI host number to the portal
// address of its session, read from
// /sys/class/iscsi_host/host<N>/device/session*/connection*/iscsi_connection*/persistent_address.
// Hosts whose address can not be read are left out.
func (ns Namespace) ISCSIHostAddresses() map[string]string {
	addrs := map[string]string{}

	hosts, _ := filepath.Glob(ns.path("sys", "class", "iscsi_host", "host*"))
	for _, h := range hosts {
		host := strings.TrimPrefix(filepath.Base(h), "host")

		found, _ := filepath.Glob(filepath.Join(h, "device", "session*", "connection*",
			"iscsi_connection*", "persistent_address"))
		if len(found) == 0 {
			logger.Debugf("ignoring host %s: no iscsi connection", host)
			continue
		}

		content, err := os.ReadFile(found[0])
		if err != nil {
			logger.Warningf("ignoring host %s: %s", host, err)
			continue
		}

		addrs[host] = strings.TrimSpace(string(content))
	}

	return addrs
}

// PathIP returns the portal address the path hbtl goes through.
func (ns Namespace) PathIP(hbtl string) (string, error) {
	return IPForHBTL(ns.ISCSIHostAddresses(), hbtl)
}

// WaitForPath polls for a path matching the glob pattern until timeout
// and returns the first match.
func WaitForPath(pattern string, timeout time.Duration) (string, bool) {
	const napLen = 100 * time.Millisecond

	startTime := time.Now()
	endTime := startTime.Add(timeout)

	for {
		if matches, err := filepath.Glob(pattern); err != nil {
			logger.Warningf("bad path pattern %s: %s", pattern, err)
			return "", false
		} else if len(matches) != 0 {
			logger.Debugf("found %s after %v", matches[0], time.Since(startTime))
			return matches[0], true
		}

		if time.Now().After(endTime) {
			break
		}

		time.Sleep(napLen)
	}

	logger.Debugf("gave up waiting after %v for %s", time.Since(startTime), pattern)

	return "", false
}
