package linker

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/petrouvik/shelfctl/pkg/shelf"
)

// LinkHex runs the full hex-mode pipeline (resolve globals, merge section sizes, place
// sections, apply relocations) and writes the result as a flat stream of (4-byte
// little-endian address, 1 byte value) pairs, one per populated byte, in ascending
// address order — the format the emulator's loader and `shelfctl dump` both understand.
func (l *Linker) LinkHex(w io.Writer) error {
	if err := l.resolveUndefinedSymbols(); err != nil {
		return err
	}
	l.computeMergedSectionSizes()
	if err := l.computeSectionAddresses(); err != nil {
		return err
	}
	if err := l.assignFinalSectionAddresses(); err != nil {
		return err
	}
	if err := l.applyRelocations(); err != nil {
		return err
	}

	order := make([]int, 0, len(l.sectionHeaders))
	for i, sh := range l.sectionHeaders {
		if sh.Type == shelf.ShelfProgbits {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return l.sectionHeaders[order[a]].Address < l.sectionHeaders[order[b]].Address
	})

	var pair [5]byte
	for _, i := range order {
		sh := l.sectionHeaders[i]
		content := l.sectionContents[i]
		for j, b := range content {
			addr := sh.Address + uint32(j)
			binary.LittleEndian.PutUint32(pair[0:4], addr)
			pair[4] = b
			if _, err := w.Write(pair[:]); err != nil {
				return err
			}
		}
	}
	return nil
}
