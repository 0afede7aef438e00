package storcert

// Ref is an opaque control plane object reference.
type Ref string

// Diagnostic is the failure payload of a control plane call. Probes hand
// their real result back this way: the platform refuses to probe without a
// complete configuration and puts what it found into the diagnostic.
type Diagnostic struct {
	// Code is the platform error code, for example SR_BACKEND_FAILURE_96.
	Code string `json:"code"`

	// Message is the full diagnostic text as rendered by the platform.
	Message string `json:"message"`
}

func (d Diagnostic) Error() string {
	return d.Message
}

// ProbeResult is the outcome of a probe. Exactly one of Value or Diagnostic
// is meaningful: Diagnostic is non-nil when the platform reported failure.
type ProbeResult struct {
	Value      string
	Diagnostic *Diagnostic
}

// Failed - did the probe come back as a diagnostic.
func (r ProbeResult) Failed() bool {
	return r.Diagnostic != nil
}

// Payload returns the text that carries the probe data, whichever way the
// platform delivered it.
func (r ProbeResult) Payload() string {
	if r.Diagnostic != nil {
		return r.Diagnostic.Message
	}

	return r.Value
}

// VDIArgs are the parameters for creating a virtual disk.
type VDIArgs struct {
	NameLabel   string
	SR          Ref
	VirtualSize uint64
	Type        string
	Sharable    bool
	ReadOnly    bool
}

// VBDArgs are the parameters for creating a virtual block device.
type VBDArgs struct {
	VM          Ref
	VDI         Ref
	UserDevice  string
	Mode        string
	Type        string
	Bootable    bool
	Unpluggable bool
}

// Prober runs storage probes.
type Prober interface {
	// LocalHost returns the reference of the host the harness runs on.
	LocalHost() (Ref, error)

	// Probe probes storage of srType on host with the given device config.
	// A non-nil error means the call itself could not be made; a platform
	// level failure is reported in ProbeResult.Diagnostic.
	Probe(host Ref, dc DeviceConfig, srType string) (ProbeResult, error)
}

// DiskManager creates, attaches and destroys virtual disks.
type DiskManager interface {
	// ControlDomain returns the VM reference of the control domain.
	ControlDomain() (Ref, error)

	// AllowedVBDDevices lists the free device slots on vm.
	AllowedVBDDevices(vm Ref) ([]string, error)

	CreateVDI(args VDIArgs) (Ref, error)
	DestroyVDI(vdi Ref) error

	CreateVBD(args VBDArgs) (Ref, error)
	PlugVBD(vbd Ref) error
	UnplugVBD(vbd Ref) error
	DestroyVBD(vbd Ref) error

	// VBDDevice returns the kernel device name (xvdb) of a plugged vbd.
	VBDDevice(vbd Ref) (string, error)
}

// SRManager operates on storage repositories.
type SRManager interface {
	ScanSR(sr Ref) error

	// SRSize returns the physical size and physical utilisation in bytes.
	SRSize(sr Ref) (uint64, uint64, error)

	SRPBDs(sr Ref) ([]Ref, error)
	PlugPBD(pbd Ref) error
	UnplugPBD(pbd Ref) error
	DestroySR(sr Ref) error
}

// HostConfig reads and edits a host's other-config map.
type HostConfig interface {
	HostOtherConfig(host Ref) (map[string]string, error)
	AddHostOtherConfig(host Ref, key, value string) error
	RemoveHostOtherConfig(host Ref, key string) error
}

// ControlPlane is everything the certification checks need from the
// virtualization control plane.
type ControlPlane interface {
	Prober
	DiskManager
	SRManager
	HostConfig
}
