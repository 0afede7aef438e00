package ddt

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rekby/gpt"
	"github.com/rekby/mbr"
)

// TableType names the partition table found on a device.
type TableType string

const (
	// TableNone - no partition table.
	TableNone TableType = ""

	// TableGPT - a GUID partition table.
	TableGPT TableType = "GPT"

	// TableMBR - a DOS partition table with at least one partition.
	TableMBR TableType = "MBR"
)

func readGPT(fp io.ReadSeeker) (bool, error) {
	const noGptFound = "Bad GPT signature"

	for _, size := range []uint64{512, 4096} {
		// consider seek failure to be fatal
		if _, err := fp.Seek(int64(size), io.SeekStart); err != nil {
			return false, err
		}

		if _, err := gpt.ReadTable(fp, size); err != nil {
			if err.Error() == noGptFound || err == io.EOF || err == io.ErrUnexpectedEOF {
				continue
			}

			return false, err
		}

		return true, nil
	}

	return false, nil
}

func readMBR(fp io.ReadSeeker) (bool, error) {
	if _, err := fp.Seek(0, io.SeekStart); err != nil {
		return false, err
	}

	mbrTable, err := mbr.Read(fp)
	if err == mbr.ErrorBadMbrSign || err == io.EOF || err == io.ErrUnexpectedEOF {
		return false, nil
	} else if err != nil {
		return false, err
	}

	for _, p := range mbrTable.GetAllPartitions() {
		if !p.IsEmpty() {
			return true, nil
		}
	}

	return false, nil
}

// PartitionTable reports the partition table on device. Destructive tests
// use it to refuse devices that look like they are in use.
func PartitionTable(device string) (TableType, error) {
	fp, err := os.Open(device)
	if err != nil {
		return TableNone, err
	}
	defer fp.Close()

	found, err := readGPT(fp)
	if err != nil {
		return TableNone, errors.Wrapf(err, "failed to read gpt from %s", device)
	} else if found {
		return TableGPT, nil
	}

	found, err = readMBR(fp)
	if err != nil {
		return TableNone, errors.Wrapf(err, "failed to read mbr from %s", device)
	} else if found {
		return TableMBR, nil
	}

	return TableNone, nil
}
