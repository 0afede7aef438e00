package ddt

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"machinerun.io/storcert"
)

type scriptedRunner struct {
	outputs map[string]string
	rc      int
	calls   [][]string
}

func (s *scriptedRunner) Run(args ...string) ([]byte, []byte, int) {
	s.calls = append(s.calls, args)
	return []byte(s.outputs[args[1]]), []byte("stderr"), s.rc
}

func testEngine(r storcert.Runner) *Engine {
	settings := storcert.DefaultSettings()
	settings.DiskDataTest = "/bin/diskdatatest"

	return NewEngine(r, settings)
}

func TestRunClean(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]string{
		"write":  "writing\n1000 100 10.0 0\n",
		"verify": "verifying\n0 100 5.0 0\n",
	}}

	res, err := testEngine(r).Run("/dev/xvdb", 1000, DefaultSectorsPerBlock, 15*time.Second)
	require.NoError(t, err)

	assert.Equal(t, uint64(1000), res.TotalBlocks)
	assert.Equal(t, uint64(100), res.WriteBlocks)
	assert.Equal(t, 0, res.SectorErrors)

	require.Len(t, r.calls, 2)
	assert.Equal(t, []string{"/bin/diskdatatest", "write", "/dev/xvdb", "512", "1000", "15"}, r.calls[0][:6])
	// verify covers what write got through, with the same run id.
	assert.Equal(t, "100", r.calls[1][4])
	assert.Equal(t, r.calls[0][6], r.calls[1][6])

	secs, err := res.Estimate()
	assert.NoError(t, err)
	assert.InDelta(t, 150.0, secs, 0.0001)
}

func TestRunSectorErrors(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]string{
		"write":  "8 8 0.5 0",
		"verify": "0 8 0.25 3",
	}}

	res, err := testEngine(r).Run("/dev/xvdc", 8, DefaultSectorsPerBlock, 0)
	require.Error(t, err)
	assert.True(t, storcert.IsIntegrityError(err))
	assert.Contains(t, err.Error(), "3 sectors failed")
	assert.Equal(t, 3, res.SectorErrors)
	assert.Equal(t, "0", r.calls[0][5])
}

func TestRunToolFailure(t *testing.T) {
	r := &scriptedRunner{rc: 2}

	_, err := testEngine(r).Run("/dev/xvdb", 8, DefaultSectorsPerBlock, 0)
	require.Error(t, err)
	assert.True(t, storcert.IsToolError(err))
	assert.Contains(t, err.Error(), "disk test write error")
	assert.Len(t, r.calls, 1)
}

func TestRunBadSummary(t *testing.T) {
	for _, out := range []string{"", "1 2 3", "1 2 3 4 5", "a 2 0.1 0", "1 2 fast 0"} {
		r := &scriptedRunner{outputs: map[string]string{"write": out}}

		_, err := testEngine(r).Run("/dev/xvdb", 8, DefaultSectorsPerBlock, 0)

		var pe *storcert.ParseError
		assert.ErrorAs(t, err, &pe, "output %q", out)
	}
}

func TestEstimateEmptyRun(t *testing.T) {
	_, err := Result{TotalBlocks: 10}.Estimate()
	assert.Error(t, err)
}

func TestEstimateDuration(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]string{
		"write":  "4096 40 2.0 0",
		"verify": "0 40 2.0 0",
	}}

	d, res, err := testEngine(r).EstimateDuration("/dev/xvdb", 1024)
	require.NoError(t, err)

	// 1024MiB in 256KiB blocks.
	assert.Equal(t, "4096", r.calls[0][4])
	assert.Equal(t, "15", r.calls[0][5])
	assert.Equal(t, uint64(4096), res.TotalBlocks)
	assert.InDelta(t, 409.6, d.Seconds(), 0.001)
}

func TestBlocksForSize(t *testing.T) {
	assert.Equal(t, uint64(4), BlocksForSize(1, DefaultSectorsPerBlock))
	assert.Equal(t, uint64(2048), BlocksForSize(512, DefaultSectorsPerBlock))
	assert.Equal(t, uint64(0), BlocksForSize(0, DefaultSectorsPerBlock))
}

func TestSummaryPlaceholders(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]string{
		"write":  "1000 100 10.0 -",
		"verify": "- 100 5.0 0",
	}}

	res, err := testEngine(r).Run("/dev/xvdb", 1000, DefaultSectorsPerBlock, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), res.TotalBlocks)
	assert.Equal(t, uint64(100), res.VerifyBlocks)
	assert.Equal(t, 0, res.SectorErrors)

	// the fields a pass does use are still checked.
	r = &scriptedRunner{outputs: map[string]string{
		"write":  "1000 100 10.0 0",
		"verify": "0 100 5.0 -",
	}}

	_, err = testEngine(r).Run("/dev/xvdb", 1000, DefaultSectorsPerBlock, 0)

	var pe *storcert.ParseError
	assert.ErrorAs(t, err, &pe)
}

// printedRunner records what had been printed when each command started.
type printedRunner struct {
	scriptedRunner
	out     *bytes.Buffer
	printed []string
}

func (p *printedRunner) Run(args ...string) ([]byte, []byte, int) {
	p.printed = append(p.printed, p.out.String())
	return p.scriptedRunner.Run(args...)
}

func TestRunWithEstimate(t *testing.T) {
	var out bytes.Buffer

	r := &printedRunner{
		scriptedRunner: scriptedRunner{outputs: map[string]string{
			"write":  "4096 40 2.0 0",
			"verify": "0 40 2.0 0",
		}},
		out: &out,
	}

	d, res, err := testEngine(r).RunWithEstimate("/dev/xvdb", 1024, &out)
	require.NoError(t, err)
	assert.InDelta(t, 409.6, d.Seconds(), 0.001)
	assert.Equal(t, uint64(40), res.VerifyBlocks)

	require.Len(t, r.calls, 4)

	// sample first, limited to the sample time.
	assert.Equal(t, "15", r.calls[0][5])
	assert.Equal(t, "15", r.calls[1][5])
	assert.Empty(t, r.printed[0])
	assert.Empty(t, r.printed[1])

	// the full run starts unlimited, after the estimate is shown.
	assert.Equal(t, []string{"write", "/dev/xvdb", "512", "4096", "0"}, r.calls[2][1:6])
	assert.Equal(t, "0", r.calls[3][5])
	assert.Equal(t, "   APPROXIMATE RUN TIME: 6 minutes, 49 seconds.\n", r.printed[2])
}

func TestRunWithEstimateSampleFails(t *testing.T) {
	var out bytes.Buffer

	r := &scriptedRunner{rc: 1}

	_, _, err := testEngine(r).RunWithEstimate("/dev/xvdb", 1024, &out)
	require.Error(t, err)
	assert.True(t, storcert.IsToolError(err))
	assert.Len(t, r.calls, 1)
	assert.Empty(t, out.String())
}
