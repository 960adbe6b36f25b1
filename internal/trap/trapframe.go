// Package trap implements the EL0<->EL1 trap frame ABI and the
// synchronous-exception dispatcher: ESR_EL1 decoding, the fixed set of
// Kinds the kernel understands (Brk/Svc/WfiWfe plus a generic Fault),
// and the registered-handler indirection that routes a decoded
// exception to the scheduler/syscall/debugshell packages without
// creating an import cycle back through internal/process.
package trap

// Uint128 holds one 128-bit SIMD/FP register's raw bits. Go has no
// native 128-bit integer; Lo/Hi (each a uint64, 8-byte aligned) give
// the same 16-byte size and alignment the assembly trampoline expects
// at each Q-register slot.
type Uint128 struct {
	Lo, Hi uint64
}

// TrapFrame is the canonical EL0/EL1 register-save record (spec §3:
// "a fixed C-layout record ... This layout is a hard ABI: the
// assembly save/restore trampoline depends on it bit-exactly"). Field
// order and therefore byte offset must never change without updating
// asm_arm64.s's EnterUserMode in lockstep — see the offset table at
// the top of that file.
type TrapFrame struct {
	Tpidr uint64     // 0:   pid, also loaded into TPIDR_EL0
	Sp    uint64     // 8:   user stack pointer (SP_EL0)
	Spsr  uint64     // 16:  saved program status (SPSR_EL1)
	Elr   uint64     // 24:  return address (ELR_EL1)
	Ttbr0 uint64     // 32:  kernel page table base
	Ttbr1 uint64     // 40:  user page table base
	Q     [32]Uint128 // 48:  SIMD/FP registers q0..q31 (512 bytes)
	X     [32]uint64  // 560: general-purpose registers x0..x31 (256 bytes)
}

// FrameSize is the hard-ABI byte size the assembly trampoline assumes:
// 48 (scalar header) + 512 (Q bank) + 256 (X bank) = 816.
const FrameSize = 816

// SpsrEL0t is the SPSR value a freshly loaded user process starts with
// (spec §6 User ABI: "D, A, F masked; I unmasked; mode EL0t").
const SpsrEL0t = 0x340

// Source identifies which of the four AArch64 exception-vector slots
// was taken — spec §4.5: "the exception vector demultiplexes on
// (Source, Kind)".
type Source int

const (
	SourceCurrentELSP0 Source = iota
	SourceCurrentELSPx
	SourceLowerELAArch64
	SourceLowerELAArch32
)

// Kind is the decoded synchronous-exception category the kernel
// actually discriminates on (spec §4.5: "The kernel handles exactly
// three synchronous Kinds from a lower EL: Brk(n), Svc(n), WfiWfe ...
// All other exceptions are fatal").
type Kind int

const (
	KindBrk Kind = iota
	KindSvc
	KindWfiWfe
	KindFault
	KindOther
)

// ecBrk64, ecSvc64, ecWfx, ecDataAbortLower/ecDataAbortSame,
// ecInstrAbortLower/ecInstrAbortSame are the ESR_EL1 EC field values
// (bits [31:26]) this kernel recognizes (ARMv8 D1.10.4, matching the
// teacher's own exceptions.go EC_* constant table, trimmed to the
// subset spec §4.5 actually dispatches on).
const (
	ecWfx             = 0b000001
	ecSvc64           = 0b010101
	ecInstrAbortLower = 0b100000
	ecInstrAbortSame  = 0b100001
	ecDataAbortLower  = 0b100100
	ecDataAbortSame   = 0b100101
	ecBrk64           = 0b111100
)

// Syndrome carries the decoded ESR_EL1 fields a caller needs to act on
// a given Kind: the low-16-bit immediate for Brk/Svc, or the ISS fault
// code for a Fault.
type Syndrome struct {
	Kind      Kind
	Immediate uint16 // valid for KindBrk, KindSvc
	ISS       uint32 // valid for KindFault: low bits of the instruction-specific syndrome
	EC        uint8
}

// DecodeESR extracts EC (bits 31:26) and routes to the matching Kind,
// per spec §4.5: "EC = esr[31:26] selects the syndrome; the 16 low
// bits carry the immediate for Brk/Svc/Hvc/Smc; data/instruction
// aborts decode a Fault kind from the low 6 bits of the ISS."
func DecodeESR(esr uint64) Syndrome {
	ec := uint8((esr >> 26) & 0x3F)
	switch ec {
	case ecBrk64:
		return Syndrome{Kind: KindBrk, Immediate: uint16(esr & 0xFFFF), EC: ec}
	case ecSvc64:
		return Syndrome{Kind: KindSvc, Immediate: uint16(esr & 0xFFFF), EC: ec}
	case ecWfx:
		return Syndrome{Kind: KindWfiWfe, EC: ec}
	case ecDataAbortLower, ecDataAbortSame, ecInstrAbortLower, ecInstrAbortSame:
		return Syndrome{Kind: KindFault, ISS: uint32(esr & 0x3F), EC: ec}
	default:
		return Syndrome{Kind: KindOther, ISS: uint32(esr & 0xFFFFFF), EC: ec}
	}
}
