package mpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"machinerun.io/storcert"
)

type countingRunner struct {
	out   string
	rc    int
	calls [][]string
}

func (c *countingRunner) Run(args ...string) ([]byte, []byte, int) {
	c.calls = append(c.calls, args)
	return []byte(c.out), []byte("stderr"), c.rc
}

func TestResolveNetApp(t *testing.T) {
	tree := ParseConfig([]string{
		"devices {",
		"\tdevice {",
		"\t\tvendor \"NETAPP\"",
		"\t\tproduct \"LUN.*\"",
		"\t\tfailback immediate",
		"\t}",
		"}",
	})
	defaults := storcert.DefaultMultipathDefaults()

	dc, ok := ResolveTree(tree, defaults, "NETAPP", "LUN3700")
	require.True(t, ok)

	assert.Equal(t, "immediate", dc["failback"])
	assert.Equal(t, `"NETAPP"`, dc["vendor"])
	assert.Equal(t, `"LUN.*"`, dc["product"])
	assert.Equal(t, "failover", dc["path_grouping_policy"])
	assert.Len(t, dc, len(defaults)+2)

	// the defaults map is not touched.
	assert.Equal(t, "manual", defaults["failback"])

	dc, ok = ResolveTree(tree, defaults, "OTHER", "LUN3700")
	assert.False(t, ok)
	assert.Nil(t, dc)
}

func TestResolveFirstMatchWins(t *testing.T) {
	tree := ParseConfigText(showConfig)
	defaults := map[string]string{"failback": "manual"}

	// both NETAPP sections match "LUN C-Mode"; the first in the dump wins.
	dc, ok := ResolveTree(tree, defaults, "NETAPP", "LUN C-Mode")
	require.True(t, ok)
	assert.Equal(t, `"group_by_prio"`, dc["path_grouping_policy"])
	assert.Equal(t, `"immediate"`, dc["failback"])

	dc, ok = ResolveTree(tree, defaults, "DGC", "VRAID")
	require.True(t, ok)
	assert.Equal(t, `"1 emc"`, dc["hardware_handler"])
	assert.Equal(t, "manual", dc["failback"])
}

func TestResolveMatchWithoutOverrides(t *testing.T) {
	tree := ParseConfigText("devices {\n\tdevice {\n\t\tvendor .*\n\t\tproduct .*\n\t}\n}\n")
	dc, ok := ResolveTree(tree, map[string]string{"a": "b"}, "X", "Y")

	assert.True(t, ok)
	assert.Equal(t, DeviceConfig{"a": "b", "vendor": ".*", "product": ".*"}, dc)
}

func TestResolveSkipsIncompleteDevices(t *testing.T) {
	tree := ParseConfigText(`devices {
	device {
		vendor "ACME"
	}
	device {
		vendor "("
		product ".*"
	}
	device {
		vendor "ACME"
		product "Disk"
		prio "alua"
	}
}
`)

	dc, ok := ResolveTree(tree, map[string]string{}, "ACME", "Disk")
	require.True(t, ok)
	assert.Equal(t, `"alua"`, dc["prio"])
}

func TestResolveNoDevicesSection(t *testing.T) {
	_, ok := ResolveTree(ParseConfigText("defaults {\n\tx 1\n}\n"), nil, "a", "b")
	assert.False(t, ok)
}

func TestDaemonResolver(t *testing.T) {
	runner := &countingRunner{out: showConfig}
	settings := storcert.DefaultSettings()
	settings.Multipathd = "multipathd"

	res := NewResolver(runner, settings)

	dc, ok, err := res.Resolve("NETAPP", "LUN 2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"ontap"`, dc["prio"])

	_, ok, err = res.Resolve("IBM", "2145")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, [][]string{{"multipathd", "show", "config"}, {"multipathd", "show", "config"}},
		runner.calls)
}

func TestDaemonResolverToolFailure(t *testing.T) {
	runner := &countingRunner{rc: 1}
	_, ok, err := NewResolver(runner, storcert.DefaultSettings()).Resolve("NETAPP", "LUN")

	assert.False(t, ok)
	assert.True(t, storcert.IsToolError(err))
}

func TestCachingResolver(t *testing.T) {
	runner := &countingRunner{out: showConfig}
	res := CachingResolver(runner, storcert.DefaultSettings())

	for i := 0; i < 3; i++ {
		dc, ok, err := res.Resolve("NETAPP", "LUN 2")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `"queue"`, dc["no_path_retry"])

		// a caller scribbling on the result must not poison the cache.
		dc["no_path_retry"] = "fail"
	}

	_, ok, err := res.Resolve("IBM", "2145")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Len(t, runner.calls, 1)
}

func TestCachingResolverDoesNotCacheFailure(t *testing.T) {
	runner := &countingRunner{rc: 1}
	res := CachingResolver(runner, storcert.DefaultSettings())

	_, _, err := res.Resolve("NETAPP", "LUN")
	assert.Error(t, err)

	runner.rc = 0
	runner.out = showConfig

	_, ok, err := res.Resolve("NETAPP", "LUN")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, runner.calls, 2)
}

func TestCachingResolverKeysVendorAndProductApart(t *testing.T) {
	runner := &countingRunner{out: `devices {
	device {
		vendor "^A-B$"
		product "^C$"
		prio "alua"
	}
}
`}
	res := CachingResolver(runner, storcert.DefaultSettings())

	_, ok, err := res.Resolve("A", "B-C")
	require.NoError(t, err)
	assert.False(t, ok)

	dc, ok, err := res.Resolve("A-B", "C")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"alua"`, dc["prio"])

	assert.Len(t, runner.calls, 1)
}
