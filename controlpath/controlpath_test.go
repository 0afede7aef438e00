package controlpath

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"machinerun.io/storcert"
	"machinerun.io/storcert/ddt"
	"machinerun.io/storcert/lun"
	"machinerun.io/storcert/mockos"
)

const (
	sr1     = storcert.Ref("OpaqueRef:sr-1")
	srSmall = storcert.Ref("OpaqueRef:sr-small")
)

func loadModel(t *testing.T, failures map[string]string) *mockos.Plane {
	t.Helper()

	content, err := os.ReadFile("../mockos/testdata/model_cp.json")
	require.NoError(t, err)

	m := mockos.Model{}
	require.NoError(t, json.Unmarshal(content, &m))

	m.Failures = failures

	return mockos.NewControlPlane(m)
}

func newTester(cp *mockos.Plane, settings storcert.Settings) (*Tester, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return New(cp, cp.Runner(), settings, out), out
}

func TestActualFreeSpace(t *testing.T) {
	assert.Equal(t, uint64(0), ActualFreeSpace(0))
	assert.Equal(t, uint64(0), ActualFreeSpace(4*storcert.Mebibyte))
	// the empty VHD metadata alone is over 4MiB.
	assert.Equal(t, uint64(0), ActualFreeSpace(8*storcert.Mebibyte))
	assert.Equal(t, uint64(58466799), ActualFreeSpace(64*storcert.Mebibyte))
	assert.Equal(t, uint64(107147992497), ActualFreeSpace(100*storcert.Gibibyte-8*storcert.Mebibyte))

	// no overflow for very large repositories.
	assert.True(t, ActualFreeSpace(1<<62) > 1<<61)
}

func TestRun(t *testing.T) {
	cp := loadModel(t, nil)
	tester, out := newTester(cp, storcert.DefaultSettings())

	checkpoints, err := tester.Run(sr1)
	require.NoError(t, err, out.String())
	assert.Equal(t, 3, checkpoints)

	assert.Contains(t, out.String(), "APPROXIMATE RUN TIME: 4 seconds.")
	assert.Contains(t, out.String(), "END TIME:")
	assert.Empty(t, cp.VDIs())
	assert.Empty(t, cp.VBDs())
	assert.Contains(t, cp.Calls, "DestroyVDI")
}

func TestRunOverBudget(t *testing.T) {
	cp := loadModel(t, nil)
	settings := storcert.DefaultSettings()
	settings.ControlPathLimit = 3 * time.Second
	tester, out := newTester(cp, settings)

	checkpoints, err := tester.Run(sr1)
	require.Error(t, err)
	assert.Equal(t, 2, checkpoints)

	var be *ddt.BudgetError
	assert.ErrorAs(t, err, &be)
	assert.NotContains(t, out.String(), "START TIME")
	assert.Empty(t, cp.VDIs())
	assert.Empty(t, cp.VBDs())
}

func TestRunSmallSR(t *testing.T) {
	cp := loadModel(t, nil)
	tester, _ := newTester(cp, storcert.DefaultSettings())

	att, err := tester.CreateMaxSizeVDI(srSmall)
	require.NoError(t, err)
	assert.Equal(t, uint64(58466799), att.Size)
	assert.True(t, att.Plugged)

	vdi := cp.VDIs()[att.VDI]
	assert.True(t, storcert.IsLabel("storcert-vdi", vdi.NameLabel), vdi.NameLabel)
	assert.Equal(t, "user", vdi.Type)

	require.NoError(t, tester.Cleanup(&att))
	assert.Empty(t, cp.VDIs())
}

func TestRunPlugFails(t *testing.T) {
	cp := loadModel(t, map[string]string{"PlugVBD": "no more devices"})
	tester, out := newTester(cp, storcert.DefaultSettings())

	checkpoints, err := tester.Run(sr1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no more devices")
	assert.Equal(t, 0, checkpoints)
	assert.Contains(t, out.String(), "FAIL")

	assert.Empty(t, cp.VDIs())
	assert.Empty(t, cp.VBDs())
	assert.NotContains(t, cp.Calls, "UnplugVBD")
}

func TestRunCleanupFails(t *testing.T) {
	cp := loadModel(t, map[string]string{"DestroyVDI": "vdi is busy"})
	tester, out := newTester(cp, storcert.DefaultSettings())

	checkpoints, err := tester.Run(sr1)
	require.Error(t, err)
	assert.Equal(t, 3, checkpoints)
	assert.Contains(t, err.Error(), "vdi is busy")
	assert.Contains(t, out.String(), "please destroy the vbd")
	assert.Len(t, cp.VDIs(), 1)
}

func TestAttachDetach(t *testing.T) {
	cp := loadModel(t, nil)
	tester, _ := newTester(cp, storcert.DefaultSettings())

	vdi, err := cp.CreateVDI(storcert.VDIArgs{SR: sr1, VirtualSize: storcert.Gibibyte})
	require.NoError(t, err)

	vbd, err := tester.AttachVDI(vdi, "OpaqueRef:vm-dom0")
	require.NoError(t, err)

	dev, err := tester.DevicePath(vbd)
	assert.NoError(t, err)
	assert.Equal(t, "/dev/xvdb", dev)

	require.NoError(t, tester.DetachVDI(vbd))
	assert.Empty(t, cp.VBDs())

	assert.Error(t, tester.DetachVDI(vbd))
}

func TestAttachNoFreeDevices(t *testing.T) {
	cp := mockos.NewControlPlane(mockos.Model{SRs: map[string]mockos.SRModel{"sr": {}}})
	tester, _ := newTester(cp, storcert.DefaultSettings())

	vdi, err := cp.CreateVDI(storcert.VDIArgs{SR: "sr"})
	require.NoError(t, err)

	_, err = tester.AttachVDI(vdi, "OpaqueRef:vm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no free devs")
}

func TestWriteVerifyVDI(t *testing.T) {
	cp := loadModel(t, nil)
	tester, _ := newTester(cp, storcert.DefaultSettings())
	tester.DevDir = t.TempDir()
	tester.Pattern.Stride = 4096

	require.NoError(t, os.WriteFile(filepath.Join(tester.DevDir, "xvdb"), make([]byte, 8*4096), 0600))

	att, err := tester.CreateMaxSizeVDI(sr1)
	require.NoError(t, err)

	require.NoError(t, tester.WriteVDI(att.VBD, 0, 7))
	assert.NoError(t, tester.VerifyVDI(att.VBD, 0, 7))

	tester.Pattern.Pattern = ddt.PatternReverse
	err = tester.VerifyVDI(att.VBD, 0, 7)
	assert.True(t, storcert.IsIntegrityError(err))
	assert.Contains(t, err.Error(), "verification of data in VDI")
}

func TestPlugUnplugPBDs(t *testing.T) {
	cp := loadModel(t, nil)
	tester, out := newTester(cp, storcert.DefaultSettings())

	done, err := tester.PlugUnplugPBDs(sr1, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, done)
	assert.Contains(t, out.String(), "0..1..2..")
	assert.True(t, cp.PBDPlugged("OpaqueRef:pbd-1"))
	assert.True(t, cp.PBDPlugged("OpaqueRef:pbd-2"))

	cp = loadModel(t, map[string]string{"PlugPBD": "host is fenced"})
	tester, _ = newTester(cp, storcert.DefaultSettings())

	done, err = tester.PlugUnplugPBDs(sr1, 3)
	assert.Error(t, err)
	assert.Equal(t, 0, done)
}

func TestDestroySR(t *testing.T) {
	cp := loadModel(t, nil)
	tester, _ := newTester(cp, storcert.DefaultSettings())

	require.NoError(t, tester.DestroySR(sr1))
	assert.Error(t, cp.ScanSR(sr1))
	assert.Error(t, tester.DestroySR(sr1))
}

func TestBlockIP(t *testing.T) {
	var calls [][]string
	r := storcert.RunnerFunc(func(args ...string) ([]byte, []byte, int) {
		calls = append(calls, args)
		return nil, nil, 0
	})

	require.NoError(t, BlockIP(r, "10.0.0.1"))
	require.NoError(t, UnblockIP(r, "10.0.0.1"))

	assert.Equal(t, [][]string{
		{"iptables", "-A", "INPUT", "-s", "10.0.0.1", "-j", "DROP"},
		{"iptables", "-D", "INPUT", "-s", "10.0.0.1", "-j", "DROP"},
	}, calls)

	failed := storcert.RunnerFunc(func(args ...string) ([]byte, []byte, int) {
		return nil, []byte("iptables: Bad rule"), 1
	})
	assert.True(t, storcert.IsToolError(UnblockIP(failed, "10.0.0.1")))
}

func TestBlockPath(t *testing.T) {
	root := t.TempDir()
	conn := filepath.Join(root, "sys/class/iscsi_host/host5/device/session2/connection2:0/iscsi_connection/connection2:0")
	require.NoError(t, os.MkdirAll(conn, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(conn, "persistent_address"), []byte("10.0.0.5\n"), 0600))

	var calls [][]string
	r := storcert.RunnerFunc(func(args ...string) ([]byte, []byte, int) {
		calls = append(calls, args)
		return nil, nil, 0
	})

	ns := lun.Namespace{Root: root}

	ip, err := BlockPath(r, ns, "5:0:0:1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", ip)

	_, err = UnblockPath(r, ns, "5:0:0:1")
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"iptables", "-A", "INPUT", "-s", "10.0.0.5", "-j", "DROP"},
		{"iptables", "-D", "INPUT", "-s", "10.0.0.5", "-j", "DROP"},
	}, calls)

	// no session behind host 6, nothing is run.
	_, err = BlockPath(r, ns, "6:0:0:1")
	assert.Error(t, err)
	assert.Len(t, calls, 2)
}
