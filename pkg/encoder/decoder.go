package encoder

import (
	"github.com/petrouvik/shelfctl/pkg/asmerr"
	"github.com/petrouvik/shelfctl/pkg/utils"
)

// Decoded is the fully unpacked form of a single 4-byte instruction word: exactly the
// fields makeWord packs, recovered bit-for-bit. Multi-word emitters in encoder.go (call, jmp,
// branches, ld/st through a literal) are sequences of individually-decodable words plus a
// literal; the emulator's fetch loop and this Decoder both operate one word at a time,
// which is the granularity at which Encoder and Decoder are required to be inverses.
type Decoded struct {
	Opcode Opcode
	Mod    uint8
	A      uint8
	B      uint8
	C      uint8
	Disp   int32
}

// Decode unpacks a single instruction word. It never rejects a bit pattern on its own —
// any nibble combination round-trips losslessly — rejecting semantically illegal
// (opcode, mod) combinations is the executor's job (§4.6), since "illegal" is defined in
// terms of instruction semantics, not bit-packing.
func Decode(w Word) Decoded {
	byte0 := uint32(w[0])
	view0 := utils.CreateBitView(&byte0)

	d := Decoded{
		Opcode: Opcode(view0.Read(4, 4)),
		Mod:    uint8(view0.Read(0, 4)),
		A:      w[1] >> 4,
		B:      w[1] & 0x0F,
		C:      w[2] >> 4,
	}

	raw12 := (uint16(w[2]&0x0F) << 8) | uint16(w[3])
	// sign-extend the 12-bit field to int32
	if raw12&0x0800 != 0 {
		d.Disp = int32(raw12) - 0x1000
	} else {
		d.Disp = int32(raw12)
	}

	return d
}

// DecodeBytes decodes the first 4 bytes of b as a single instruction word.
func DecodeBytes(b []byte) (Decoded, error) {
	if len(b) < 4 {
		return Decoded{}, utils.MakeError(asmerr.ErrMemoryBoundary, "instruction word needs 4 bytes, got %d", len(b))
	}
	var w Word
	copy(w[:], b[:4])
	return Decode(w), nil
}

// Encode repacks a Decoded value back into a Word, the precise inverse of Decode. It is
// exposed mainly so tests can assert the encode/decode round trip directly without going
// through a specific mnemonic emitter.
func (d Decoded) Encode() (Word, error) {
	return makeWord(d.Opcode, d.Mod, d.A, d.B, d.C, d.Disp)
}
