package mpath

import (
	"github.com/pkg/errors"
	"machinerun.io/storcert"
)

const (
	keyMultipathing = "multipathing"
	keyHandle       = "multipathhandle"
	handleDMP       = "dmp"
)

// Enabled - is dm multipathing switched on in the host's other-config.
func Enabled(hc storcert.HostConfig, host storcert.Ref) bool {
	conf, err := hc.HostOtherConfig(host)
	if err != nil {
		logger.Warningf("failed to read other-config of host %s: %s", host, err)
		return false
	}

	return conf[keyMultipathing] == "true" && conf[keyHandle] == handleDMP
}

// Enable switches dm multipathing on for host.
func Enable(hc storcert.HostConfig, host storcert.Ref) error {
	if err := clearSettings(hc, host); err != nil {
		return err
	}

	if err := hc.AddHostOtherConfig(host, keyMultipathing, "true"); err != nil {
		return errors.Wrapf(err, "failed to enable multipathing on %s", host)
	}

	if err := hc.AddHostOtherConfig(host, keyHandle, handleDMP); err != nil {
		return errors.Wrapf(err, "failed to set multipath handle on %s", host)
	}

	return nil
}

// Disable switches multipathing off for host.
func Disable(hc storcert.HostConfig, host storcert.Ref) error {
	if err := clearSettings(hc, host); err != nil {
		return err
	}

	return errors.Wrapf(hc.AddHostOtherConfig(host, keyMultipathing, "false"),
		"failed to disable multipathing on %s", host)
}

func clearSettings(hc storcert.HostConfig, host storcert.Ref) error {
	for _, k := range []string{keyMultipathing, keyHandle} {
		if err := hc.RemoveHostOtherConfig(host, k); err != nil {
			return errors.Wrapf(err, "failed to remove %s from %s", k, host)
		}
	}

	return nil
}
