// Package islconf reads the xml array configuration file used by the
// storage link tests.
//
//	<islconfig>
//	  <adapterid>NETAPP</adapterid>
//	  <ssid>...</ssid>
//	  ...
//	</islconfig>
//
// Only the first element of each known name is used, wherever it appears.
package islconf

import (
	"encoding/xml"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/juju/loggo"
	"github.com/pkg/errors"
	"machinerun.io/storcert"
)

var logger = loggo.GetLogger("storcert.islconf")

//nolint:gochecknoglobals
var (
	// Required fields must be present.
	Required = []string{"adapterid", "ssid", "spid", "username", "password", "target"}

	// Optional fields may be left out.
	Optional = []string{"port", "protocol", "chapuser", "chappass", "lunsize", "growsize"}
)

const (
	defaultLUNSize  = "128"
	defaultGrowSize = "4"
)

// Config holds the field values by name.
type Config map[string]string

// Parse reads a configuration. A missing required field is a
// *storcert.ParseError.
func Parse(r io.Reader) (Config, error) {
	found, err := firstTexts(r)
	if err != nil {
		return nil, err
	}

	conf := Config{"lunsize": defaultLUNSize, "growsize": defaultGrowSize}

	for _, name := range Required {
		val, ok := found[name]
		if !ok {
			return nil, &storcert.ParseError{What: "isl config", Input: name,
				Err: errors.Errorf("required option %s is missing", name)}
		}

		conf[name] = val
	}

	for _, name := range Optional {
		if val, ok := found[name]; ok {
			conf[name] = val
		} else {
			logger.Debugf("optional isl option %s not set", name)
		}
	}

	return conf, nil
}

// Load reads the configuration file at path.
func Load(path string) (Config, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	conf, err := Parse(fp)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	return conf, nil
}

// firstTexts returns the leading text of the first element of each name.
// Empty elements are not recorded.
func firstTexts(r io.Reader) (map[string]string, error) {
	dec := xml.NewDecoder(r)
	found := map[string]string{}
	stack := []string{}
	seen := map[string]bool{}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, &storcert.ParseError{What: "isl config", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
		case xml.EndElement:
			seen[stack[len(stack)-1]] = true
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 {
				continue
			}

			name := stack[len(stack)-1]
			text := strings.TrimSpace(string(t))

			if text != "" && !seen[name] {
				if _, ok := found[name]; !ok {
					found[name] = text
				}
			}
		}
	}

	return found, nil
}

// Get returns the named value, "" if not set.
func (c Config) Get(name string) string {
	return c[name]
}

// LUNSize - LUN size in GiB.
func (c Config) LUNSize() (int, error) {
	return c.intValue("lunsize")
}

// GrowSize - grow step in GiB.
func (c Config) GrowSize() (int, error) {
	return c.intValue("growsize")
}

func (c Config) intValue(name string) (int, error) {
	n, err := strconv.Atoi(c[name])
	if err != nil {
		return 0, &storcert.ParseError{What: "isl option " + name, Input: c[name], Err: err}
	}

	return n, nil
}

// DeviceConfig returns the probe device config for this array.
func (c Config) DeviceConfig() storcert.DeviceConfig {
	dc := storcert.DeviceConfig{"target": c["target"]}

	if port := c["port"]; port != "" {
		dc["port"] = port
	}

	if c["chapuser"] != "" && c["chappass"] != "" {
		dc["chapuser"] = c["chapuser"]
		dc["chappassword"] = c["chappass"]
	}

	return dc
}
