package ddt

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"machinerun.io/storcert"
)

// PatternLen is the length of a sector pattern.
const PatternLen = 512

//nolint:gochecknoglobals
var (
	// Pattern is the bytes 0 to 255, twice.
	Pattern = makePattern(false)

	// PatternReverse is the bytes 255 down to 0, twice.
	PatternReverse = makePattern(true)
)

func makePattern(reverse bool) []byte {
	buf := make([]byte, PatternLen)

	for i := range buf {
		if reverse {
			buf[i] = byte(255 - i%256) //nolint:gomnd
		} else {
			buf[i] = byte(i % 256) //nolint:gomnd
		}
	}

	return buf
}

// PatternTest writes a pattern at every Stride bytes of a device and reads
// it back.
type PatternTest struct {
	Pattern []byte
	Stride  int64
}

// DefaultPatternTest writes Pattern once per GiB.
func DefaultPatternTest() PatternTest {
	return PatternTest{Pattern: Pattern, Stride: storcert.Gibibyte}
}

func lockDevice(fp *os.File, how int) error {
	if err := unix.Flock(int(fp.Fd()), how); err != nil {
		return errors.Wrapf(err, "failed to lock %s", fp.Name())
	}

	return nil
}

// Write writes the pattern at offsets start*Stride through end*Stride
// inclusive. The device is overwritten at those offsets.
func (pt PatternTest) Write(device string, start, end int64) error {
	logger.Debugf("writing pattern to %s, sectors %d-%d, stride %d", device, start, end, pt.Stride)

	fp, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrapf(err, "writing data into %s failed", device)
	}
	defer fp.Close()

	if err := lockDevice(fp, unix.LOCK_EX); err != nil {
		return err
	}

	for sect := start; sect <= end; sect++ {
		if _, err := fp.WriteAt(pt.Pattern, sect*pt.Stride); err != nil {
			return errors.Wrapf(err, "writing data into %s failed at sector %d", device, sect)
		}
	}

	if err := unix.Fdatasync(int(fp.Fd())); err != nil {
		return errors.Wrapf(err, "failed to sync %s", device)
	}

	return nil
}

// Verify reads back what Write wrote. The first mismatch is returned as an
// *storcert.IntegrityError carrying the expected and actual bytes.
func (pt PatternTest) Verify(device string, start, end int64) error {
	logger.Debugf("verifying pattern on %s, sectors %d-%d, stride %d", device, start, end, pt.Stride)

	fp, err := os.Open(device)
	if err != nil {
		return errors.Wrapf(err, "verification of data in %s failed", device)
	}
	defer fp.Close()

	if err := lockDevice(fp, unix.LOCK_SH); err != nil {
		return err
	}

	actual := make([]byte, len(pt.Pattern))

	for sect := start; sect <= end; sect++ {
		offset := sect * pt.Stride

		n, err := fp.ReadAt(actual, offset)
		if err != nil && err != io.EOF {
			return errors.Wrapf(err, "verification of data in %s failed at sector %d", device, sect)
		}

		if !bytes.Equal(actual[:n], pt.Pattern) {
			return &storcert.IntegrityError{
				Device:   device,
				Offset:   offset,
				Expected: append([]byte{}, pt.Pattern...),
				Actual:   append([]byte{}, actual[:n]...),
			}
		}
	}

	return nil
}

// MaxSector returns the last pattern index that fits a device of size bytes,
// or -1 if not even one fits.
func (pt PatternTest) MaxSector(size uint64) int64 {
	if size < uint64(len(pt.Pattern)) {
		return -1
	}

	return int64((size - uint64(len(pt.Pattern))) / uint64(pt.Stride))
}
