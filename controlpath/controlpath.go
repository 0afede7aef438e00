// Package controlpath exercises a storage repository through the control
// plane: it creates and attaches the largest test disk the repository
// allows, writes through it within a time budget and cycles the
// repository's physical block devices.
package controlpath

import (
	"fmt"
	"io"
	"math/bits"
	"path/filepath"
	"time"

	"github.com/juju/loggo"
	"github.com/pkg/errors"
	"machinerun.io/storcert"
	"machinerun.io/storcert/ddt"
)

var logger = loggo.GetLogger("storcert.controlpath")

const (
	// lvmSizeIncrement is the LVM extent rounding of a new volume.
	lvmSizeIncrement = 4 * storcert.Mebibyte

	// vhdBlockSize is the VHD data block size.
	vhdBlockSize = 2 * storcert.Mebibyte

	// vhdEmptyOverhead is the metadata of an empty VHD sized for the 2TiB
	// fast resize ceiling: 3KiB of footers and header, a 4 byte BAT entry
	// per 2MiB block rounded to 512, then a 1 bit BATMAP entry per block
	// rounded to 4KiB.
	vhdEmptyOverhead = 4329472

	// vhdBitmapSize is the per block sector bitmap.
	vhdBitmapSize = 4096

	vdiLabelPrefix = "storcert-vdi"
)

// ActualFreeSpace returns the largest virtual size of a VHD that fits in
// free bytes of a thick provisioned LVM repository.
func ActualFreeSpace(free uint64) uint64 {
	reserved := uint64(lvmSizeIncrement + vhdBitmapSize + vhdEmptyOverhead)
	if free <= reserved {
		return 0
	}

	hi, lo := bits.Mul64(free-reserved, vhdBlockSize)
	quo, _ := bits.Div64(hi, lo, vhdBitmapSize+vhdBlockSize)

	return quo
}

// Attachment is a test disk and where it is plugged. Fields are set as the
// objects are created so a partial attachment can be cleaned up.
type Attachment struct {
	VDI     storcert.Ref
	VBD     storcert.Ref
	Plugged bool
	Size    uint64
}

// Tester runs control path checks.
type Tester struct {
	cp       storcert.ControlPlane
	runner   storcert.Runner
	settings storcert.Settings
	out      io.Writer

	// DevDir is where plugged block devices appear.
	DevDir string

	// Pattern is used by WriteVDI and VerifyVDI.
	Pattern ddt.PatternTest
}

// New returns a Tester. Operator progress is written to out.
func New(cp storcert.ControlPlane, r storcert.Runner, settings storcert.Settings, out io.Writer) *Tester {
	return &Tester{
		cp:       cp,
		runner:   r,
		settings: settings,
		out:      out,
		DevDir:   "/dev",
		Pattern:  ddt.DefaultPatternTest(),
	}
}

func (t *Tester) printf(format string, a ...interface{}) {
	fmt.Fprintf(t.out, format, a...)
}

func status(ok bool) string {
	if ok {
		return "PASS"
	}

	return "FAIL"
}

// AttachVDI plugs vdi into vm on the first free device slot.
func (t *Tester) AttachVDI(vdi, vm storcert.Ref) (storcert.Ref, error) {
	att := Attachment{VDI: vdi}
	err := t.attach(&att, vm)

	return att.VBD, err
}

func (t *Tester) attach(att *Attachment, vm storcert.Ref) error {
	free, err := t.cp.AllowedVBDDevices(vm)
	if err != nil {
		return errors.Wrapf(err, "failed to list free devices of %s", vm)
	}

	if len(free) == 0 {
		return fmt.Errorf("no free devs found for VM: %s", vm)
	}

	logger.Debugf("allowed devs: %v (using %s)", free, free[0])

	args := storcert.VBDArgs{
		VM:          vm,
		VDI:         att.VDI,
		UserDevice:  free[0],
		Mode:        "RW",
		Type:        "Disk",
		Bootable:    false,
		Unpluggable: true,
	}

	if att.VBD, err = t.cp.CreateVBD(args); err != nil {
		return errors.Wrapf(err, "failed to create vbd on %s", vm)
	}

	logger.Debugf("created new VBD %s", att.VBD)

	if err = t.cp.PlugVBD(att.VBD); err != nil {
		return errors.Wrapf(err, "failed to plug vbd %s into %s", att.VBD, vm)
	}

	att.Plugged = true

	return nil
}

// DetachVDI unplugs and destroys vbd.
func (t *Tester) DetachVDI(vbd storcert.Ref) error {
	return t.detach(&Attachment{VBD: vbd, Plugged: true})
}

func (t *Tester) detach(att *Attachment) error {
	if att.Plugged {
		if err := t.cp.UnplugVBD(att.VBD); err != nil {
			return errors.Wrap(err, "VDI detach failed")
		}

		att.Plugged = false

		logger.Debugf("unplugged VBD %s", att.VBD)
	}

	if err := t.cp.DestroyVBD(att.VBD); err != nil {
		return errors.Wrap(err, "VDI detach failed")
	}

	logger.Debugf("destroyed VBD %s", att.VBD)
	att.VBD = ""

	return nil
}

// CreateMaxSizeVDI creates the largest test disk the repository can hold,
// capped at the configured maximum, and plugs it into the control domain.
// On error the returned Attachment holds what was created.
func (t *Tester) CreateMaxSizeVDI(sr storcert.Ref) (Attachment, error) {
	att := Attachment{}

	t.printf("   Create a VDI on the SR of the maximum available size.\n")

	if err := t.cp.ScanSR(sr); err != nil {
		return att, errors.Wrapf(err, "failed to scan sr %s", sr)
	}

	psize, putil, err := t.cp.SRSize(sr)
	if err != nil {
		return att, errors.Wrapf(err, "failed to size sr %s", sr)
	}

	var free uint64
	if psize > putil {
		free = ActualFreeSpace(psize - putil)
	}

	att.Size = free
	if t.settings.MaxVDISize < att.Size {
		att.Size = t.settings.MaxVDISize
	}

	logger.Debugf("actual SR free space: %d, and used VDI size %d", free, att.Size)

	if att.Size == 0 {
		return att, fmt.Errorf("sr %s has no free space", sr)
	}

	args := storcert.VDIArgs{
		NameLabel:   storcert.NewLabel(vdiLabelPrefix),
		SR:          sr,
		VirtualSize: att.Size,
		Type:        "user",
	}

	if att.VDI, err = t.cp.CreateVDI(args); err != nil {
		return att, errors.Wrapf(err, "failed to create vdi on %s", sr)
	}

	logger.Debugf("created new VDI %s (%s)", att.VDI, args.NameLabel)

	t.printf("   Create a VBD on this VDI and plug it into the control domain.\n")

	vm, err := t.cp.ControlDomain()
	if err != nil {
		return att, errors.Wrap(err, "failed to find the control domain")
	}

	return att, t.attach(&att, vm)
}

// Cleanup detaches and destroys what CreateMaxSizeVDI created.
func (t *Tester) Cleanup(att *Attachment) error {
	if att.VBD != "" {
		if err := t.detach(att); err != nil {
			return err
		}
	}

	if att.VDI != "" {
		if err := t.cp.DestroyVDI(att.VDI); err != nil {
			return errors.Wrapf(err, "failed to destroy vdi %s", att.VDI)
		}

		logger.Debugf("destroyed VDI %s", att.VDI)
		att.VDI = ""
	}

	return nil
}

// DevicePath returns the block device of a plugged vbd.
func (t *Tester) DevicePath(vbd storcert.Ref) (string, error) {
	name, err := t.cp.VBDDevice(vbd)
	if err != nil {
		return "", errors.Wrapf(err, "failed to find the device of %s", vbd)
	}

	return filepath.Join(t.DevDir, name), nil
}

func (t *Tester) zeroOut(device string, size uint64) error {
	const blockSize = 4096

	_, err := storcert.RunCommand(t.runner, "dd", "if=/dev/zero", "of="+device,
		fmt.Sprintf("bs=%d", blockSize), fmt.Sprintf("count=%d", size/blockSize))

	return errors.Wrapf(err, "could not write through the allocated disk space on %s", device)
}

// Run is the control path stress test. It creates and attaches a maximum
// size disk, times a sample write, and if writing the whole disk fits the
// configured limit, writes through it. The disk is always cleaned up; a
// cleanup failure is reported with the objects left behind.
//
// The returned count is the number of checkpoints passed, 3 for a full run.
func (t *Tester) Run(sr storcert.Ref) (int, error) {
	checkpoints := 0

	att, err := t.CreateMaxSizeVDI(sr)
	if err == nil {
		checkpoints += 2
		err = t.writeThrough(att)
	}

	if err == nil {
		checkpoints++
	} else {
		t.printf("   There was an exception performing control path stress tests. Exception: %s\n", err)
	}

	t.printf("   %s\n", status(err == nil))

	if cerr := t.Cleanup(&att); cerr != nil {
		t.printf("   Could not clean up the objects created during testing, "+
			"please destroy the vbd %s and vdi %s manually.\n", att.VBD, att.VDI)

		if err == nil {
			err = cerr
		}
	}

	return checkpoints, err
}

func (t *Tester) writeThrough(att Attachment) error {
	t.printf("   Now attempt to write the maximum number of bytes on this newly plugged device.\n")

	device, err := t.DevicePath(att.VBD)
	if err != nil {
		return err
	}

	secs, err := ddt.TimeToWrite(t.runner, device, t.settings.SampleMiB)
	if err != nil {
		return err
	}

	estimate, err := ddt.Extrapolate(att.Size, t.settings.SampleMiB, secs, t.settings.ControlPathLimit)
	if err != nil {
		return err
	}

	t.printf("   START TIME: %s\n", time.Now().Format(time.ANSIC))

	if rt := ddt.FormatRunTime(estimate); rt != "" {
		t.printf("   APPROXIMATE RUN TIME: %s.\n", rt)
	}

	if err := t.zeroOut(device, att.Size); err != nil {
		return err
	}

	t.printf("   END TIME: %s\n", time.Now().Format(time.ANSIC))

	return nil
}

// PlugUnplugPBDs unplugs and replugs every pbd of sr count times. It
// returns the number of completed iterations.
func (t *Tester) PlugUnplugPBDs(sr storcert.Ref, count int) (int, error) {
	t.printf("      Unplugging and plugging PBDs over %d iterations. Iteration number: ", count)

	done := 0

	for ; done < count; done++ {
		t.printf("%d..", done)

		pbds, err := t.cp.SRPBDs(sr)
		if err != nil {
			t.printf("\n      %s\n", status(false))
			return done, errors.Wrapf(err, "failed to list pbds of %s", sr)
		}

		for _, pbd := range pbds {
			if err := t.cp.UnplugPBD(pbd); err != nil {
				t.printf("\n      %s\n", status(false))
				return done, errors.Wrapf(err, "failed to unplug pbd %s", pbd)
			}

			if err := t.cp.PlugPBD(pbd); err != nil {
				t.printf("\n      %s\n", status(false))
				return done, errors.Wrapf(err, "failed to plug pbd %s", pbd)
			}
		}
	}

	t.printf("\n      %s\n", status(true))

	return done, nil
}

// DestroySR unplugs every pbd of sr and destroys it.
func (t *Tester) DestroySR(sr storcert.Ref) error {
	pbds, err := t.cp.SRPBDs(sr)
	if err != nil {
		return errors.Wrapf(err, "failed to list pbds of %s", sr)
	}

	logger.Debugf("got the list of pbds for the sr %s as %v", sr, pbds)

	for _, pbd := range pbds {
		if err := t.cp.UnplugPBD(pbd); err != nil {
			return errors.Wrapf(err, "failed to unplug pbd %s", pbd)
		}
	}

	if err := t.cp.DestroySR(sr); err != nil {
		return errors.Wrapf(err, "failed to destroy sr %s", sr)
	}

	return nil
}

// WriteVDI writes the test pattern to the device of vbd at pattern indexes
// start through end.
func (t *Tester) WriteVDI(vbd storcert.Ref, start, end int64) error {
	device, err := t.DevicePath(vbd)
	if err != nil {
		return err
	}

	return errors.Wrapf(t.Pattern.Write(device, start, end), "writing data into VDI %s failed", vbd)
}

// VerifyVDI checks the pattern written by WriteVDI.
func (t *Tester) VerifyVDI(vbd storcert.Ref, start, end int64) error {
	device, err := t.DevicePath(vbd)
	if err != nil {
		return err
	}

	return errors.Wrapf(t.Pattern.Verify(device, start, end), "verification of data in VDI %s failed", vbd)
}
