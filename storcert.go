// Package storcert holds the data model and collaborator contracts shared by
// the storage certification checks: probe discovery, multipath resolution,
// path topology and the disk data integrity engine.
package storcert

const (
	// Kibibyte - 1024 bytes
	Kibibyte = 1024

	// Mebibyte - 1024 Kibibytes
	Mebibyte = Kibibyte * 1024

	// Gibibyte - 1024 Mebibytes
	Gibibyte = Mebibyte * 1024

	// SectorSize512 - the sector size used by the block test tool.
	SectorSize512 = 512
)

// TargetRecord is an iSCSI target reported by a probe.
type TargetRecord struct {
	IQN    string
	Portal string
}

// AdapterRecord is an HBA reported by a probe. Attributes holds every child
// element of the Adapter node keyed by element name.
type AdapterRecord struct {
	Host       string
	Attributes map[string]string
}

// BlockDeviceRecord is a LUN reported by an HBA probe. Adapter is the host
// name derived from the adapter number ("host" + number).
type BlockDeviceRecord struct {
	SCSIID  string
	Adapter string
}

// ProbeDocument is the typed content of the xml a probe returns. Records are
// kept in document order.
type ProbeDocument struct {
	Targets      []TargetRecord
	Adapters     []AdapterRecord
	BlockDevices []BlockDeviceRecord
}

// SCSIIDs returns the SCSI ids of all block devices in document order.
func (d ProbeDocument) SCSIIDs() []string {
	ids := []string{}
	for _, bd := range d.BlockDevices {
		ids = append(ids, bd.SCSIID)
	}

	return ids
}

// Portals returns the portals of the targets whose IQN is one of iqns.
func (d ProbeDocument) Portals(iqns ...string) []string {
	portals := []string{}

	for _, t := range d.Targets {
		for _, iqn := range iqns {
			if t.IQN == iqn {
				portals = append(portals, t.Portal)
				break
			}
		}
	}

	return portals
}

// DeviceConfig is a device configuration map passed to a probe.
type DeviceConfig map[string]string

// Hidden returns a copy of the config with secrets masked, suitable for
// logging.
func (dc DeviceConfig) Hidden() DeviceConfig {
	masked := DeviceConfig{}

	for k, v := range dc {
		switch k {
		case "password", "chappassword", "chappass", "incoming_chappassword":
			masked[k] = "******"
		default:
			masked[k] = v
		}
	}

	return masked
}
