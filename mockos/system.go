package mockos

import (
	"encoding/json"
	"fmt"
	"os"

	"machinerun.io/storcert"
)

// ProbeReply is a canned probe answer. It is chosen when SRType matches
// and every key in Match has the same value in the probe device config.
// Of several candidates the one with the most Match keys wins.
type ProbeReply struct {
	SRType     string               `json:"srType"`
	Match      map[string]string    `json:"match"`
	Value      string               `json:"value"`
	Diagnostic *storcert.Diagnostic `json:"diagnostic"`
}

// SRModel is a storage repository in the model.
type SRModel struct {
	PhysicalSize        uint64   `json:"physicalSize"`
	PhysicalUtilisation uint64   `json:"physicalUtilisation"`
	PBDs                []string `json:"pbds"`
}

// Model is the json layout of a mock control plane.
type Model struct {
	LocalHost       string                       `json:"localHost"`
	ControlDomain   string                       `json:"controlDomain"`
	AllowedDevices  []string                     `json:"allowedDevices"`
	Probes          []ProbeReply                 `json:"probes"`
	SRs             map[string]SRModel           `json:"srs"`
	HostOtherConfig map[string]map[string]string `json:"hostOtherConfig"`

	// Failures makes the named methods fail with the given message.
	Failures map[string]string `json:"failures"`

	// Runs are the host commands replayed by Runner.
	Runs []Run `json:"runs"`
}

type vbd struct {
	args    storcert.VBDArgs
	plugged bool
}

// Plane is an in-memory storcert.ControlPlane.
type Plane struct {
	model   Model
	vdis    map[storcert.Ref]storcert.VDIArgs
	vbds    map[storcert.Ref]*vbd
	plugged map[storcert.Ref]bool
	nextRef int

	// Calls lists the methods called, in order.
	Calls []string
}

// ControlPlane returns a mock control plane loaded from the json model
// file at layout.
func ControlPlane(layout string) *Plane {
	file, err := os.ReadFile(layout)
	if err != nil {
		panic(err)
	}

	m := Model{}

	if err := json.Unmarshal(file, &m); err != nil {
		panic(err)
	}

	return NewControlPlane(m)
}

// NewControlPlane returns a mock control plane for m.
func NewControlPlane(m Model) *Plane {
	if m.SRs == nil {
		m.SRs = map[string]SRModel{}
	}

	if m.HostOtherConfig == nil {
		m.HostOtherConfig = map[string]map[string]string{}
	}

	p := &Plane{
		model:   m,
		vdis:    map[storcert.Ref]storcert.VDIArgs{},
		vbds:    map[storcert.Ref]*vbd{},
		plugged: map[storcert.Ref]bool{},
	}

	for _, sr := range m.SRs {
		for _, pbd := range sr.PBDs {
			p.plugged[storcert.Ref(pbd)] = true
		}
	}

	return p
}

func (p *Plane) call(name string) error {
	p.Calls = append(p.Calls, name)

	if msg, ok := p.model.Failures[name]; ok {
		return fmt.Errorf("%s: %s", name, msg)
	}

	return nil
}

func (p *Plane) newRef(kind string) storcert.Ref {
	p.nextRef++
	return storcert.Ref(fmt.Sprintf("OpaqueRef:%s-%d", kind, p.nextRef))
}

// VDIs returns the virtual disks that currently exist.
func (p *Plane) VDIs() map[storcert.Ref]storcert.VDIArgs {
	return p.vdis
}

// VBDs returns the virtual block devices that currently exist.
func (p *Plane) VBDs() []storcert.Ref {
	refs := []storcert.Ref{}
	for r := range p.vbds {
		refs = append(refs, r)
	}

	return refs
}

// PBDPlugged - is the pbd currently plugged.
func (p *Plane) PBDPlugged(pbd storcert.Ref) bool {
	return p.plugged[pbd]
}

// LocalHost returns the model's local host.
func (p *Plane) LocalHost() (storcert.Ref, error) {
	return storcert.Ref(p.model.LocalHost), p.call("LocalHost")
}

// Probe answers with the best matching ProbeReply, or an
// SR_BACKEND_FAILURE_140 diagnostic when none matches.
func (p *Plane) Probe(host storcert.Ref, dc storcert.DeviceConfig, srType string) (storcert.ProbeResult, error) {
	if err := p.call("Probe"); err != nil {
		return storcert.ProbeResult{}, err
	}

	var best *ProbeReply

	for i := range p.model.Probes {
		reply := &p.model.Probes[i]
		if reply.SRType != srType || !matches(reply.Match, dc) {
			continue
		}

		if best == nil || len(reply.Match) > len(best.Match) {
			best = reply
		}
	}

	if best == nil {
		return storcert.ProbeResult{Diagnostic: &storcert.Diagnostic{
			Code:    "SR_BACKEND_FAILURE_140",
			Message: "['SR_BACKEND_FAILURE_140', '', 'Incorrect DNS name, unable to resolve.', '']",
		}}, nil
	}

	return storcert.ProbeResult{Value: best.Value, Diagnostic: best.Diagnostic}, nil
}

func matches(want map[string]string, dc storcert.DeviceConfig) bool {
	for k, v := range want {
		if dc[k] != v {
			return false
		}
	}

	return true
}

// ControlDomain returns the model's control domain.
func (p *Plane) ControlDomain() (storcert.Ref, error) {
	return storcert.Ref(p.model.ControlDomain), p.call("ControlDomain")
}

// AllowedVBDDevices returns the model's device slots that no vbd holds.
func (p *Plane) AllowedVBDDevices(vm storcert.Ref) ([]string, error) {
	if err := p.call("AllowedVBDDevices"); err != nil {
		return nil, err
	}

	used := map[string]bool{}
	for _, v := range p.vbds {
		if v.args.VM == vm {
			used[v.args.UserDevice] = true
		}
	}

	free := []string{}
	for _, d := range p.model.AllowedDevices {
		if !used[d] {
			free = append(free, d)
		}
	}

	return free, nil
}

// CreateVDI records a new vdi.
func (p *Plane) CreateVDI(args storcert.VDIArgs) (storcert.Ref, error) {
	if err := p.call("CreateVDI"); err != nil {
		return "", err
	}

	if _, ok := p.model.SRs[string(args.SR)]; !ok {
		return "", fmt.Errorf("sr %s does not exist", args.SR)
	}

	ref := p.newRef("vdi")
	p.vdis[ref] = args

	return ref, nil
}

// DestroyVDI removes a vdi that no vbd refers to.
func (p *Plane) DestroyVDI(vdi storcert.Ref) error {
	if err := p.call("DestroyVDI"); err != nil {
		return err
	}

	if _, ok := p.vdis[vdi]; !ok {
		return fmt.Errorf("vdi %s does not exist", vdi)
	}

	for _, v := range p.vbds {
		if v.args.VDI == vdi {
			return fmt.Errorf("vdi %s is in use", vdi)
		}
	}

	delete(p.vdis, vdi)

	return nil
}

// CreateVBD records an unplugged vbd for an existing vdi.
func (p *Plane) CreateVBD(args storcert.VBDArgs) (storcert.Ref, error) {
	if err := p.call("CreateVBD"); err != nil {
		return "", err
	}

	if _, ok := p.vdis[args.VDI]; !ok {
		return "", fmt.Errorf("vdi %s does not exist", args.VDI)
	}

	ref := p.newRef("vbd")
	p.vbds[ref] = &vbd{args: args}

	return ref, nil
}

func (p *Plane) getVBD(ref storcert.Ref) (*vbd, error) {
	v, ok := p.vbds[ref]
	if !ok {
		return nil, fmt.Errorf("vbd %s does not exist", ref)
	}

	return v, nil
}

// PlugVBD plugs an unplugged vbd.
func (p *Plane) PlugVBD(ref storcert.Ref) error {
	if err := p.call("PlugVBD"); err != nil {
		return err
	}

	v, err := p.getVBD(ref)
	if err != nil {
		return err
	}

	if v.plugged {
		return fmt.Errorf("vbd %s is already plugged", ref)
	}

	v.plugged = true

	return nil
}

// UnplugVBD unplugs a plugged vbd.
func (p *Plane) UnplugVBD(ref storcert.Ref) error {
	if err := p.call("UnplugVBD"); err != nil {
		return err
	}

	v, err := p.getVBD(ref)
	if err != nil {
		return err
	}

	if !v.plugged {
		return fmt.Errorf("vbd %s is not plugged", ref)
	}

	v.plugged = false

	return nil
}

// DestroyVBD removes an unplugged vbd.
func (p *Plane) DestroyVBD(ref storcert.Ref) error {
	if err := p.call("DestroyVBD"); err != nil {
		return err
	}

	v, err := p.getVBD(ref)
	if err != nil {
		return err
	}

	if v.plugged {
		return fmt.Errorf("vbd %s is still plugged", ref)
	}

	delete(p.vbds, ref)

	return nil
}

// VBDDevice names the device after its user device slot, 0 is xvda.
func (p *Plane) VBDDevice(ref storcert.Ref) (string, error) {
	if err := p.call("VBDDevice"); err != nil {
		return "", err
	}

	v, err := p.getVBD(ref)
	if err != nil {
		return "", err
	}

	if !v.plugged {
		return "", fmt.Errorf("vbd %s is not plugged", ref)
	}

	var slot int
	if _, err := fmt.Sscanf(v.args.UserDevice, "%d", &slot); err != nil || slot < 0 || slot > 25 {
		return "", fmt.Errorf("bad user device %q", v.args.UserDevice)
	}

	return "xvd" + string(rune('a'+slot)), nil
}

// ScanSR checks the sr exists.
func (p *Plane) ScanSR(sr storcert.Ref) error {
	if err := p.call("ScanSR"); err != nil {
		return err
	}

	if _, ok := p.model.SRs[string(sr)]; !ok {
		return fmt.Errorf("sr %s does not exist", sr)
	}

	return nil
}

// SRSize reports the sr size, counting the vdis created on it as used.
func (p *Plane) SRSize(sr storcert.Ref) (uint64, uint64, error) {
	if err := p.call("SRSize"); err != nil {
		return 0, 0, err
	}

	m, ok := p.model.SRs[string(sr)]
	if !ok {
		return 0, 0, fmt.Errorf("sr %s does not exist", sr)
	}

	used := m.PhysicalUtilisation
	for _, vdi := range p.vdis {
		if vdi.SR == sr {
			used += vdi.VirtualSize
		}
	}

	return m.PhysicalSize, used, nil
}

// SRPBDs returns the sr's pbds.
func (p *Plane) SRPBDs(sr storcert.Ref) ([]storcert.Ref, error) {
	if err := p.call("SRPBDs"); err != nil {
		return nil, err
	}

	m, ok := p.model.SRs[string(sr)]
	if !ok {
		return nil, fmt.Errorf("sr %s does not exist", sr)
	}

	refs := []storcert.Ref{}
	for _, pbd := range m.PBDs {
		refs = append(refs, storcert.Ref(pbd))
	}

	return refs, nil
}

func (p *Plane) setPBD(name string, pbd storcert.Ref, plugged bool) error {
	if err := p.call(name); err != nil {
		return err
	}

	if _, ok := p.plugged[pbd]; !ok {
		return fmt.Errorf("pbd %s does not exist", pbd)
	}

	p.plugged[pbd] = plugged

	return nil
}

// PlugPBD marks pbd plugged.
func (p *Plane) PlugPBD(pbd storcert.Ref) error {
	return p.setPBD("PlugPBD", pbd, true)
}

// UnplugPBD marks pbd unplugged.
func (p *Plane) UnplugPBD(pbd storcert.Ref) error {
	return p.setPBD("UnplugPBD", pbd, false)
}

// DestroySR removes an sr whose pbds are all unplugged.
func (p *Plane) DestroySR(sr storcert.Ref) error {
	if err := p.call("DestroySR"); err != nil {
		return err
	}

	m, ok := p.model.SRs[string(sr)]
	if !ok {
		return fmt.Errorf("sr %s does not exist", sr)
	}

	for _, pbd := range m.PBDs {
		if p.plugged[storcert.Ref(pbd)] {
			return fmt.Errorf("sr %s has plugged pbd %s", sr, pbd)
		}
	}

	for _, pbd := range m.PBDs {
		delete(p.plugged, storcert.Ref(pbd))
	}

	delete(p.model.SRs, string(sr))

	return nil
}

// HostOtherConfig returns a copy of the host's other-config.
func (p *Plane) HostOtherConfig(host storcert.Ref) (map[string]string, error) {
	if err := p.call("HostOtherConfig"); err != nil {
		return nil, err
	}

	conf := map[string]string{}
	for k, v := range p.model.HostOtherConfig[string(host)] {
		conf[k] = v
	}

	return conf, nil
}

// AddHostOtherConfig adds key, failing with MAP_DUPLICATE_KEY if it is set.
func (p *Plane) AddHostOtherConfig(host storcert.Ref, key, value string) error {
	if err := p.call("AddHostOtherConfig"); err != nil {
		return err
	}

	conf, ok := p.model.HostOtherConfig[string(host)]
	if !ok {
		conf = map[string]string{}
		p.model.HostOtherConfig[string(host)] = conf
	}

	if _, ok := conf[key]; ok {
		return fmt.Errorf("MAP_DUPLICATE_KEY: %s", key)
	}

	conf[key] = value

	return nil
}

// RemoveHostOtherConfig deletes key.
func (p *Plane) RemoveHostOtherConfig(host storcert.Ref, key string) error {
	if err := p.call("RemoveHostOtherConfig"); err != nil {
		return err
	}

	delete(p.model.HostOtherConfig[string(host)], key)

	return nil
}

// String summarises the live objects, for test failure messages.
func (p *Plane) String() string {
	return fmt.Sprintf("vdis=%d vbds=%d", len(p.vdis), len(p.vbds))
}
