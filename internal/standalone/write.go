package standalone

import (
	"encoding/binary"
	"os"
)

// Build writes outputPath as a copy of the binary at runtimePath with
// source appended, followed by the footer spec.md §6 describes. fileCount
// is normally 1: the entry script's own source (this implementation does
// not bundle transitively-required modules into the standalone binary;
// `require` on a standalone-run script still reads sibling files off
// disk, same as an ordinary `corvid run`).
func Build(runtimePath, outputPath string, source []byte, fileCount uint64) error {
	runtime, err := os.ReadFile(runtimePath)
	if err != nil {
		return err
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.Write(runtime); err != nil {
		return err
	}
	offset := uint64(len(runtime))
	if _, err := out.Write(source); err != nil {
		return err
	}

	var footer [footerSize]byte
	binary.LittleEndian.PutUint64(footer[0:8], fileCount)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(len(source)))
	binary.LittleEndian.PutUint64(footer[16:24], offset)
	copy(footer[24:32], Signature[:])
	_, err = out.Write(footer[:])
	return err
}
