// Package asmerr holds the shared error taxonomy used by the assembler, the linker, the
// SHELF codec and the emulator, so every layer can errors.Is against the same identities
// regardless of which package ultimately constructed the wrapped error.
package asmerr

import "errors"

var (
	// ErrSyntax marks a malformed directive/instruction/expression fed to the assembler.
	ErrSyntax = errors.New("syntax error")

	// ErrInvalidObject marks a SHELF file that fails magic or bounds validation.
	ErrInvalidObject = errors.New("invalid object file")

	// ErrUndefinedSymbol marks a symbol referenced but never defined where a definition is required.
	ErrUndefinedSymbol = errors.New("undefined symbol")

	// ErrRedefined marks a label or EQU symbol defined more than once.
	ErrRedefined = errors.New("symbol redefined")

	// ErrDuplicateGlobal marks two or more GLOBAL symbols across inputs sharing a name.
	ErrDuplicateGlobal = errors.New("duplicate global symbol")

	// ErrOutOfRangeDisp marks a displacement or register index outside its encodable range.
	ErrOutOfRangeDisp = errors.New("displacement out of range")

	// ErrDispRequiresAbsolute marks a DISP-typed reference to a non-absolute symbol.
	ErrDispRequiresAbsolute = errors.New("displacement reference requires an absolute symbol")

	// ErrUnresolvedEqu marks EQU expressions still pending after the fix-point resolver converges.
	ErrUnresolvedEqu = errors.New("unresolved EQU expression")

	// ErrAddressOverlap marks two sections claiming overlapping address ranges at link time.
	ErrAddressOverlap = errors.New("address range overlap")

	// ErrUnknownSection marks a reference to a section that was never created.
	ErrUnknownSection = errors.New("unknown section")

	// ErrRelocationOutOfBounds marks a relocation whose patch site falls outside its section's contents.
	ErrRelocationOutOfBounds = errors.New("relocation offset out of bounds")

	// ErrMemoryBoundary marks an emulator memory access that falls outside the addressable word bound.
	ErrMemoryBoundary = errors.New("memory access out of bounds")

	// ErrInvalidMmioAccess marks an illegal access (wrong width, wrong direction, or unmapped address) to the MMIO region.
	ErrInvalidMmioAccess = errors.New("invalid memory-mapped I/O access")

	// ErrDivideByZero marks a division instruction with a zero divisor; it surfaces to the emulator as IllegalInstruction.
	ErrDivideByZero = errors.New("divide by zero")

	// ErrIllegalInstruction marks any instruction encoding the decoder or executor rejects.
	ErrIllegalInstruction = errors.New("illegal instruction")

	// ErrInternalInvariant marks a violated invariant that indicates a bug in this toolchain, not bad input.
	ErrInternalInvariant = errors.New("internal invariant violated")
)
