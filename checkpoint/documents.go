package checkpoint

import (
	"encoding/json"
	"os"

	"github.com/Codadillo/simple-sls/errors"
	"github.com/Codadillo/simple-sls/procfs"
	"github.com/Codadillo/simple-sls/regs"
)

func writeDocument(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrIo, "encode document")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrIo, "write document")
	}
	return nil
}

func readDocument(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrIo, "read document")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.WrapWithDetail(err, errors.ErrDecode, "decode document", path)
	}
	return nil
}

func writeRegs(root string, seq uint64, bank regs.RegisterBank) error {
	return writeDocument(RegsPath(root, seq), bank)
}

func readRegs(root string, seq uint64) (regs.RegisterBank, error) {
	var bank regs.RegisterBank
	err := readDocument(RegsPath(root, seq), &bank)
	return bank, err
}

func writeMaps(root string, seq uint64, regions []procfs.RegionDescriptor) error {
	return writeDocument(MapsPath(root, seq), regions)
}

func readMaps(root string, seq uint64) ([]procfs.RegionDescriptor, error) {
	var regions []procfs.RegionDescriptor
	if err := readDocument(MapsPath(root, seq), &regions); err != nil {
		return nil, err
	}
	return regions, nil
}

func writeFiles(root string, seq uint64, files []procfs.FileDescriptorRecord) error {
	return writeDocument(FilesPath(root, seq), files)
}

func readFiles(root string, seq uint64) ([]procfs.FileDescriptorRecord, error) {
	var files []procfs.FileDescriptorRecord
	if err := readDocument(FilesPath(root, seq), &files); err != nil {
		return nil, err
	}
	return files, nil
}

// ReadRegs, ReadMaps, and ReadFiles expose the checkpoint documents for
// sequence seq to other packages (the restore bootstrapper, in
// particular), keeping the checkpoint directory's on-disk format owned by
// this package.
func ReadRegs(root string, seq uint64) (regs.RegisterBank, error) { return readRegs(root, seq) }

func ReadMaps(root string, seq uint64) ([]procfs.RegionDescriptor, error) { return readMaps(root, seq) }

func ReadFiles(root string, seq uint64) ([]procfs.FileDescriptorRecord, error) {
	return readFiles(root, seq)
}
