package storcert

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestLastLine(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("4 4 0.25 0", LastLine([]byte("starting\n4 4 0.25 0\n\n")))
	assert.Equal("only", LastLine([]byte("only")))
	assert.Equal("", LastLine([]byte("")))
}

func TestRunCommand(t *testing.T) {
	ok := RunnerFunc(func(args ...string) ([]byte, []byte, int) {
		return []byte("out"), nil, 0
	})

	out, err := RunCommand(ok, "true")
	assert.NoError(t, err)
	assert.Equal(t, []byte("out"), out)

	bad := RunnerFunc(func(args ...string) ([]byte, []byte, int) {
		return []byte("o"), []byte("e"), 3
	})

	_, err = RunCommand(bad, "false", "-x")
	assert.True(t, IsToolError(err))

	te := err.(*ToolError)
	assert.Equal(t, 3, te.RC)
	assert.Contains(t, te.Error(), "false -x")
}

func TestExecRunnerMissing(t *testing.T) {
	_, _, rc := ExecRunner{}.Run("/this/command/does/not/exist")
	assert.Equal(t, NoCommandRC, rc)
}

func TestDeviceSize(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(fpath, make([]byte, 4096), 0600); err != nil {
		t.Fatal(err)
	}

	size, err := DeviceSize(fpath)
	assert.NoError(t, err)
	assert.Equal(t, uint64(4096), size)

	_, err = DeviceSize(fpath + ".missing")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to size")
	assert.True(t, os.IsNotExist(errors.Cause(err)))
}

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, PathExists(dir))
	assert.False(t, PathExists(filepath.Join(dir, "xvdq")))
}

func TestProbeResultPayload(t *testing.T) {
	ok := ProbeResult{Value: "<iscsi-target/>"}
	assert.False(t, ok.Failed())
	assert.Equal(t, "<iscsi-target/>", ok.Payload())

	failed := ProbeResult{Value: "ignored", Diagnostic: &Diagnostic{Code: "SR_BACKEND_FAILURE_96", Message: "<Adapter/>"}}
	assert.True(t, failed.Failed())
	assert.Equal(t, "<Adapter/>", failed.Payload())
}

func TestDeviceConfigHidden(t *testing.T) {
	dc := DeviceConfig{"target": "10.0.0.1", "chappassword": "s3cret"}
	hidden := dc.Hidden()

	assert.Equal(t, "******", hidden["chappassword"])
	assert.Equal(t, "10.0.0.1", hidden["target"])
	assert.Equal(t, "s3cret", dc["chappassword"])
}

func TestProbeDocumentPortals(t *testing.T) {
	doc := ProbeDocument{
		Targets: []TargetRecord{
			{IQN: "iqn.a", Portal: "10.0.0.1:3260"},
			{IQN: "iqn.b", Portal: "10.0.0.2:3260"},
			{IQN: "iqn.a", Portal: "10.0.0.3:3260"},
		},
		BlockDevices: []BlockDeviceRecord{{SCSIID: "36001", Adapter: "host3"}},
	}

	assert.Equal(t, []string{"10.0.0.1:3260", "10.0.0.3:3260"}, doc.Portals("iqn.a"))
	assert.Equal(t, []string{}, doc.Portals("iqn.c"))
	assert.Equal(t, []string{"36001"}, doc.SCSIIDs())
}
