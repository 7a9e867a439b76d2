package standalone

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
)

// ErrNotStandalone means path has no trailing standalone signature: an
// ordinary runtime invocation, not a built executable.
var ErrNotStandalone = errors.New("standalone: binary has no embedded script")

// Payload is an embedded script recovered from a standalone binary's
// trailing footer.
type Payload struct {
	FileCount uint64
	Source    []byte
}

// Detect inspects path (normally the running executable, os.Args[0] or
// os.Executable()) for the trailing footer and, if present, returns the
// embedded script source.
func Detect(path string) (*Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size < footerSize {
		return nil, ErrNotStandalone
	}

	footer := make([]byte, footerSize)
	if _, err := f.ReadAt(footer, size-footerSize); err != nil {
		return nil, err
	}
	if !bytes.Equal(footer[24:32], Signature[:]) {
		return nil, ErrNotStandalone
	}

	fileCount := binary.LittleEndian.Uint64(footer[0:8])
	bytecodeSize := binary.LittleEndian.Uint64(footer[8:16])
	bytecodeOffset := binary.LittleEndian.Uint64(footer[16:24])

	source := make([]byte, bytecodeSize)
	if _, err := f.ReadAt(source, int64(bytecodeOffset)); err != nil {
		return nil, err
	}
	return &Payload{FileCount: fileCount, Source: source}, nil
}
