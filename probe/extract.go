package probe

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/juju/loggo"
	"machinerun.io/storcert"
)

var logger = loggo.GetLogger("storcert.probe")

// preambleFields is the number of comma separated fields that precede the
// xml in a probe diagnostic: error code, object and field.
const preambleFields = 3

// ExtractXML recovers the xml document a probe left in its diagnostic
// message. The message is rendered like
//
//	['SR_BACKEND_FAILURE_96', '', 'missing target IQN', '<?xml ...>\n<iscsi-target-iqns>...']
//
// so the first three fields are dropped, the rest re-joined, the wrapping
// quote and bracket trimmed and the escaped newlines and tabs removed.
func ExtractXML(msg string) (string, error) {
	items := strings.Split(msg, ",")
	if len(items) <= preambleFields {
		return "", &storcert.ParseError{What: "probe diagnostic", Input: msg}
	}

	s := strings.Join(items[preambleFields:], ",")
	s = strings.Trim(s, ",")
	s = strings.TrimLeft(s, " \t\r\n")
	s = strings.TrimLeft(s, "'[")
	s = strings.TrimRight(s, " \t\r\n")
	s = strings.TrimRight(s, `]\`)
	s = strings.TrimRight(s, "'")
	s = strings.ReplaceAll(s, `\n`, "")
	s = strings.ReplaceAll(s, `\t`, "")

	if s == "" {
		return "", &storcert.ParseError{What: "probe diagnostic", Input: msg}
	}

	return s, nil
}

type xmlNode struct {
	XMLName xml.Name
	Content string    `xml:",chardata"`
	Nodes   []xmlNode `xml:",any"`
}

func (n xmlNode) text() string {
	return strings.TrimSpace(n.Content)
}

func (n xmlNode) child(name string) (string, bool) {
	for _, c := range n.Nodes {
		if c.XMLName.Local == name {
			return c.text(), true
		}
	}

	return "", false
}

// ParseDocument parses probe xml into a ProbeDocument. TGT, Adapter,
// BlockDevice (HBA probes) and LUN (iSCSI target probes) elements are
// collected wherever they appear in the tree. Targets with the wildcard IQN
// "*" are dropped.
func ParseDocument(doc string) (storcert.ProbeDocument, error) {
	pd := storcert.ProbeDocument{
		Targets:      []storcert.TargetRecord{},
		Adapters:     []storcert.AdapterRecord{},
		BlockDevices: []storcert.BlockDeviceRecord{},
	}

	dec := xml.NewDecoder(strings.NewReader(doc))
	elements := 0

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		} else if err != nil {
			return pd, &storcert.ParseError{What: "probe xml", Input: doc, Err: err}
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		elements++

		switch se.Name.Local {
		case "TGT", "Adapter", "BlockDevice", "LUN":
		default:
			continue
		}

		var n xmlNode
		if err := dec.DecodeElement(&n, &se); err != nil {
			return pd, &storcert.ParseError{What: "probe xml " + se.Name.Local, Input: doc, Err: err}
		}

		switch se.Name.Local {
		case "TGT":
			iqn, _ := n.child("TargetIQN")
			portal, _ := n.child("IPAddress")

			logger.Tracef("got iqn: %s, portal: %s", iqn, portal)

			if iqn == "*" {
				continue
			}

			pd.Targets = append(pd.Targets, storcert.TargetRecord{IQN: iqn, Portal: portal})
		case "Adapter":
			attrs := map[string]string{}
			for _, c := range n.Nodes {
				attrs[c.XMLName.Local] = c.text()
			}

			pd.Adapters = append(pd.Adapters, storcert.AdapterRecord{Host: attrs["host"], Attributes: attrs})
		case "BlockDevice", "LUN":
			bd := storcert.BlockDeviceRecord{}
			bd.SCSIID, _ = n.child("SCSIid")

			if adapter, ok := n.child("adapter"); ok {
				bd.Adapter = "host" + adapter
			}

			pd.BlockDevices = append(pd.BlockDevices, bd)
		}
	}

	if elements == 0 {
		return pd, &storcert.ParseError{What: "probe xml", Input: doc, Err: io.ErrUnexpectedEOF}
	}

	return pd, nil
}

// ParseResult returns the ProbeDocument carried by a probe result. A
// successful probe returns the xml itself; a failed one carries it in the
// diagnostic message.
func ParseResult(res storcert.ProbeResult) (storcert.ProbeDocument, error) {
	doc := res.Payload()

	if res.Failed() {
		var err error
		if doc, err = ExtractXML(doc); err != nil {
			return storcert.ProbeDocument{}, err
		}
	}

	logger.Debugf("got the probe xml as: %s", doc)

	return ParseDocument(doc)
}
