package ddt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"machinerun.io/storcert"
)

const ddStderr = `131072+0 records in
131072+0 records out
536870912 bytes (537 MB, 512 MiB) copied, 2.5 s, 215 MB/s
`

func TestTimeToWrite(t *testing.T) {
	var got []string
	r := storcert.RunnerFunc(func(args ...string) ([]byte, []byte, int) {
		got = args
		return nil, []byte(ddStderr), 0
	})

	secs, err := TimeToWrite(r, "/dev/xvdb", 512)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, secs, 0.0001)
	assert.Equal(t, []string{"dd", "if=/dev/zero", "of=/dev/xvdb", "bs=4096", "count=131072"}, got)
}

func TestTimeToWriteErrors(t *testing.T) {
	failed := storcert.RunnerFunc(func(args ...string) ([]byte, []byte, int) {
		return nil, []byte("dd: /dev/xvdb: No space left on device"), 1
	})

	_, err := TimeToWrite(failed, "/dev/xvdb", 512)
	assert.True(t, storcert.IsToolError(err))

	garbled := storcert.RunnerFunc(func(args ...string) ([]byte, []byte, int) {
		return nil, []byte("536870912 bytes transferred in a while"), 0
	})

	_, err = TimeToWrite(garbled, "/dev/xvdb", 512)

	var pe *storcert.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestParseDDSecondsOldFormat(t *testing.T) {
	secs, err := parseDDSeconds([]byte("536870912 bytes (537 MB) copied, 12.0417 s, 44.6 MB/s"))
	assert.NoError(t, err)
	assert.InDelta(t, 12.0417, secs, 0.00001)
}

func TestExtrapolate(t *testing.T) {
	// 512MiB in 2s is 4s per GiB.
	d, err := Extrapolate(100*storcert.Gibibyte, 512, 2, 5*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 400*time.Second, d)

	d, err = Extrapolate(10000*storcert.Gibibyte, 512, 2, 5*time.Hour)
	require.Error(t, err)
	assert.Equal(t, 40000*time.Second, d)

	var be *BudgetError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, uint64(4500*storcert.Gibibyte), be.MaxSize)
	assert.Contains(t, err.Error(), "more than 5 hours")
	assert.Contains(t, err.Error(), "4.4 TiB")

	_, err = Extrapolate(storcert.Gibibyte, 0, 2, time.Hour)
	assert.Error(t, err)
}

func TestFormatRunTime(t *testing.T) {
	assert.Equal(t, "2 hours, 3 minutes, 4 seconds", FormatRunTime(2*time.Hour+3*time.Minute+4*time.Second))
	assert.Equal(t, "1 minutes, 0 seconds", FormatRunTime(time.Minute))
	assert.Equal(t, "59 seconds", FormatRunTime(59*time.Second+500*time.Millisecond))
	assert.Equal(t, "", FormatRunTime(time.Millisecond))
}
