package emulator

import (
	"encoding/binary"
	"io"

	"github.com/petrouvik/shelfctl/pkg/asmerr"
	"github.com/petrouvik/shelfctl/pkg/utils"
)

// ReadHexImage reads the flat (4-byte little-endian address, 1-byte value) stream that
// pkg/linker's LinkHex produces, the same record shape the reference emulator's readFile
// parses out of its own .hex input, and returns it as the (address -> byte) map LoadImage
// expects. A duplicate address is rejected exactly as the reference loader rejects one.
func ReadHexImage(r io.Reader) (map[uint32]byte, error) {
	out := make(map[uint32]byte)
	var rec [5]byte
	for {
		_, err := io.ReadFull(r, rec[:])
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		addr := binary.LittleEndian.Uint32(rec[0:4])
		if _, exists := out[addr]; exists {
			return nil, utils.MakeError(asmerr.ErrInvalidObject, "duplicate address 0x%08X in hex image", addr)
		}
		out[addr] = rec[4]
	}
}
