package controlpath

import (
	"github.com/pkg/errors"
	"machinerun.io/storcert"
	"machinerun.io/storcert/lun"
)

// BlockIP drops all traffic from ip, to simulate a path failure.
func BlockIP(r storcert.Runner, ip string) error {
	_, err := storcert.RunCommand(r, "iptables", "-A", "INPUT", "-s", ip, "-j", "DROP")
	return errors.Wrapf(err, "failed to block %s", ip)
}

// UnblockIP removes the rule BlockIP added.
func UnblockIP(r storcert.Runner, ip string) error {
	_, err := storcert.RunCommand(r, "iptables", "-D", "INPUT", "-s", ip, "-j", "DROP")
	return errors.Wrapf(err, "failed to unblock %s", ip)
}

// BlockPath blocks the portal address of the iscsi path hbtl and returns it.
func BlockPath(r storcert.Runner, ns lun.Namespace, hbtl string) (string, error) {
	return pathOp(BlockIP, r, ns, hbtl)
}

// UnblockPath undoes BlockPath.
func UnblockPath(r storcert.Runner, ns lun.Namespace, hbtl string) (string, error) {
	return pathOp(UnblockIP, r, ns, hbtl)
}

func pathOp(op func(storcert.Runner, string) error, r storcert.Runner, ns lun.Namespace, hbtl string) (string, error) {
	ip, err := ns.PathIP(hbtl)
	if err != nil {
		return "", err
	}

	return ip, op(r, ip)
}
