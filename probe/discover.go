package probe

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"machinerun.io/storcert"
)

const (
	// SRTypeISCSI is the storage type probed for iSCSI targets.
	SRTypeISCSI = "lvmoiscsi"

	// SRTypeHBA is the storage type probed for fibre channel and SAS HBAs.
	SRTypeHBA = "lvmohba"
)

// CHAP credentials for iSCSI probes.
type CHAP struct {
	User     string
	Password string
}

// ItemResult is the discovery outcome for one item of a batch, for example
// one target IQN.
type ItemResult struct {
	Item     string
	Document storcert.ProbeDocument
	Err      error
}

// Batch accumulates per item results. A failed item does not stop the batch.
type Batch []ItemResult

// Failed returns the items that failed.
func (b Batch) Failed() []ItemResult {
	failed := []ItemResult{}

	for _, r := range b {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}

	return failed
}

// Err summarizes the failed items, nil when none failed.
func (b Batch) Err() error {
	failed := b.Failed()
	if len(failed) == 0 {
		return nil
	}

	msgs := make([]string, len(failed))
	for i, r := range failed {
		msgs[i] = fmt.Sprintf("%s: %s", r.Item, r.Err)
	}

	return fmt.Errorf("%d of %d items failed: %s", len(failed), len(b), strings.Join(msgs, "; "))
}

// ISCSIResult is what an iSCSI target exposes for a set of IQNs.
type ISCSIResult struct {
	Portals []string
	SCSIIDs []string
	Batch   Batch
}

// HBAResult is what the host HBAs expose.
type HBAResult struct {
	Adapters []storcert.AdapterRecord
	SCSIIDs  []string
	Batch    Batch
}

// Discoverer discovers storage through control plane probes.
type Discoverer struct {
	prober storcert.Prober
}

// NewDiscoverer returns a Discoverer using p.
func NewDiscoverer(p storcert.Prober) *Discoverer {
	return &Discoverer{prober: p}
}

func (d *Discoverer) probe(dc storcert.DeviceConfig, srType string) (storcert.ProbeDocument, error) {
	host, err := d.prober.LocalHost()
	if err != nil {
		return storcert.ProbeDocument{}, errors.Wrap(err, "failed to find local host")
	}

	logger.Debugf("probing %s with device config: %v", srType, dc.Hidden())

	res, err := d.prober.Probe(host, dc, srType)
	if err != nil {
		return storcert.ProbeDocument{}, errors.Wrapf(err, "%s probe failed", srType)
	}

	if res.Failed() {
		logger.Debugf("got the probe data as: %s", res.Diagnostic.Message)
	}

	return ParseResult(res)
}

// ISCSITargets probes server for the portals of the given IQNs and then
// probes each IQN for the SCSI ids it exposes.
//
// The first probe failing to produce targets is fatal. A failure for an
// individual IQN is logged and recorded in the Batch, and the SCSI ids of the
// other IQNs are still returned.
func (d *Discoverer) ISCSITargets(server string, iqns []string, chap *CHAP) (ISCSIResult, error) {
	result := ISCSIResult{Portals: []string{}, SCSIIDs: []string{}, Batch: Batch{}}

	dc := storcert.DeviceConfig{"target": server}
	if chap != nil {
		dc["chapuser"] = chap.User
		dc["chappassword"] = chap.Password
	}

	doc, err := d.probe(dc, SRTypeISCSI)
	if err != nil {
		return result, errors.Wrapf(err, "the target %s did not return any IQNs on probe", server)
	}

	result.Portals = doc.Portals(iqns...)
	logger.Debugf("portals for %v on %s: %v", iqns, server, result.Portals)

	for _, iqn := range iqns {
		iqnDC := storcert.DeviceConfig{}
		for k, v := range dc {
			iqnDC[k] = v
		}

		iqnDC["targetIQN"] = iqn

		doc, err := d.probe(iqnDC, SRTypeISCSI)
		result.Batch = append(result.Batch, ItemResult{Item: iqn, Document: doc, Err: err})

		if err != nil {
			logger.Warningf("the IQN %s did not return any SCSI IDs on probe: %s", iqn, err)
			continue
		}

		ids := doc.SCSIIDs()
		logger.Debugf("got the SCSI ids for iqn %s as %v", iqn, ids)
		result.SCSIIDs = append(result.SCSIIDs, ids...)
	}

	return result, nil
}

// HBA probes the host bus adapters of srType. Only adapters named in filter
// (host names such as "host3") and their block devices are returned; an
// empty filter returns everything. A probe that cannot be parsed gives an
// empty result with the failure in the Batch.
func (d *Discoverer) HBA(srType string, filter []string) (HBAResult, error) {
	result := HBAResult{Adapters: []storcert.AdapterRecord{}, SCSIIDs: []string{}, Batch: Batch{}}

	allowed := map[string]bool{}
	for _, hba := range filter {
		allowed[hba] = true
	}

	host, err := d.prober.LocalHost()
	if err != nil {
		return result, errors.Wrap(err, "failed to find local host")
	}

	res, err := d.prober.Probe(host, storcert.DeviceConfig{}, srType)
	if err != nil {
		return result, errors.Wrapf(err, "%s probe failed", srType)
	}

	doc, err := ParseResult(res)
	result.Batch = append(result.Batch, ItemResult{Item: srType, Document: doc, Err: err})

	if err != nil {
		logger.Warningf("failed to parse %s probe xml: %s", srType, err)
		return result, nil
	}

	for _, a := range doc.Adapters {
		if len(allowed) == 0 || allowed[a.Host] {
			result.Adapters = append(result.Adapters, a)
		}
	}

	for _, bd := range doc.BlockDevices {
		if len(allowed) == 0 || allowed[bd.Adapter] {
			result.SCSIIDs = append(result.SCSIIDs, bd.SCSIID)
		}
	}

	logger.Debugf("HBA information: adapters %v, scsi ids %v", result.Adapters, result.SCSIIDs)

	return result, nil
}

// SplitList splits a comma separated list, dropping empty entries.
func SplitList(s string) []string {
	items := []string{}

	for _, i := range strings.Split(s, ",") {
		if i = strings.TrimSpace(i); i != "" {
			items = append(items, i)
		}
	}

	return items
}
