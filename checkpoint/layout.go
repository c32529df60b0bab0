package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Codadillo/simple-sls/errors"
)

// BootstrapGUID is the compile-time-fixed name the restore bootstrapper's
// generated executable is written under. It is owned by this package (not
// the bootstrap package) because recognizing and dropping the
// bootstrapper's own mapped pages during the next checkpoint pass is a
// checkpoint-directory convention, not a bootstrapper implementation
// detail.
const BootstrapGUID = "sls-bootstrap-7f3a9c21"

// SeqPath returns the path to the sequence pointer file under root.
func SeqPath(root string) string {
	return filepath.Join(root, "seq")
}

// CheckpointDir returns the path to the checkpoint directory for sequence
// number seq under root.
func CheckpointDir(root string, seq uint64) string {
	return filepath.Join(root, strconv.FormatUint(seq, 10))
}

// RegionPath returns the path to region index i's raw bytes within the
// checkpoint directory for seq.
func RegionPath(root string, seq uint64, i int) string {
	return filepath.Join(CheckpointDir(root, seq), strconv.Itoa(i))
}

// RegsPath returns the path to the serialized RegisterBank document for
// seq.
func RegsPath(root string, seq uint64) string {
	return filepath.Join(CheckpointDir(root, seq), "regs")
}

// MapsPath returns the path to the serialized region-list document for
// seq.
func MapsPath(root string, seq uint64) string {
	return filepath.Join(CheckpointDir(root, seq), "maps")
}

// FilesPath returns the path to the serialized file-descriptor-list
// document for seq.
func FilesPath(root string, seq uint64) string {
	return filepath.Join(CheckpointDir(root, seq), "files")
}

// BootstrapPath returns the path the restore bootstrapper's generated
// executable is written to for seq.
func BootstrapPath(root string, seq uint64) string {
	return filepath.Join(CheckpointDir(root, seq), BootstrapGUID)
}

// ReadSeq reads the sequence pointer. A missing file means no checkpoint
// has ever been taken, so the sequence starts at 0, per spec.
func ReadSeq(root string) (uint64, error) {
	data, err := os.ReadFile(SeqPath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, errors.ErrIo, "read seq")
	}

	seq, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, errors.WrapWithDetail(err, errors.ErrDecode, "parse seq", fmt.Sprintf("contents: %q", data))
	}
	return seq, nil
}

// WriteSeq atomically replaces the sequence pointer with seq: write to a
// temp file in the same directory, fsync it, then rename over the
// original. The rename is the durability boundary — a checkpoint is only
// "taken" once this returns successfully.
func WriteSeq(root string, seq uint64) error {
	tmp := SeqPath(root) + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.ErrIo, "create seq tmp")
	}

	if _, err := f.WriteString(strconv.FormatUint(seq, 10)); err != nil {
		f.Close()
		return errors.Wrap(err, errors.ErrIo, "write seq tmp")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, errors.ErrIo, "fsync seq tmp")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrIo, "close seq tmp")
	}

	if err := os.Rename(tmp, SeqPath(root)); err != nil {
		return errors.Wrap(err, errors.ErrIo, "rename seq")
	}
	return nil
}
