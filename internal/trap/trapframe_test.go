package trap

import (
	"testing"
	"unsafe"
)

func TestTrapFrameLayoutMatchesHardABI(t *testing.T) {
	var f TrapFrame
	cases := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"Tpidr", unsafe.Offsetof(f.Tpidr), 0},
		{"Sp", unsafe.Offsetof(f.Sp), 8},
		{"Spsr", unsafe.Offsetof(f.Spsr), 16},
		{"Elr", unsafe.Offsetof(f.Elr), 24},
		{"Ttbr0", unsafe.Offsetof(f.Ttbr0), 32},
		{"Ttbr1", unsafe.Offsetof(f.Ttbr1), 40},
		{"Q", unsafe.Offsetof(f.Q), 48},
		{"X", unsafe.Offsetof(f.X), 560},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("offset of %s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if size := unsafe.Sizeof(f); size != FrameSize {
		t.Errorf("sizeof(TrapFrame) = %d, want %d", size, FrameSize)
	}
}

func TestDecodeESR(t *testing.T) {
	mkESR := func(ec uint8, low16 uint16) uint64 {
		return uint64(ec)<<26 | uint64(low16)
	}

	cases := []struct {
		name string
		esr  uint64
		want Syndrome
	}{
		{"brk #7", mkESR(ecBrk64, 7), Syndrome{Kind: KindBrk, Immediate: 7, EC: ecBrk64}},
		{"svc #3", mkESR(ecSvc64, 3), Syndrome{Kind: KindSvc, Immediate: 3, EC: ecSvc64}},
		{"wfx", mkESR(ecWfx, 0), Syndrome{Kind: KindWfiWfe, EC: ecWfx}},
		{"data abort lower EL", mkESR(ecDataAbortLower, 0x15), Syndrome{Kind: KindFault, ISS: 0x15, EC: ecDataAbortLower}},
		{"instr abort same EL", mkESR(ecInstrAbortSame, 0x04), Syndrome{Kind: KindFault, ISS: 0x04, EC: ecInstrAbortSame}},
		{"unrecognized EC", mkESR(0b000111, 0), Syndrome{Kind: KindOther, ISS: 0, EC: 0b000111}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := DecodeESR(c.esr)
			if got != c.want {
				t.Errorf("DecodeESR(%#x) = %+v, want %+v", c.esr, got, c.want)
			}
		})
	}
}

func TestDispatchRoutesToRegisteredHandlers(t *testing.T) {
	var gotBrk, gotSvc uint16
	BrkHandler = func(frame *TrapFrame, imm uint16) { gotBrk = imm }
	SvcHandler = func(frame *TrapFrame, n uint16) { gotSvc = n }
	t.Cleanup(func() {
		BrkHandler = nil
		SvcHandler = nil
	})

	// Dispatch itself reads ESR via asm.ReadEsrEl1, which is an
	// unimplemented-on-host assembly stub; routing logic is exercised
	// directly here instead via the same decode+dispatch the
	// function performs, keeping this test host-runnable.
	syn := DecodeESR(uint64(ecBrk64) << 26 | 9)
	if syn.Kind == KindBrk && BrkHandler != nil {
		BrkHandler(&TrapFrame{}, syn.Immediate)
	}
	if gotBrk != 9 {
		t.Fatalf("BrkHandler immediate = %d, want 9", gotBrk)
	}

	syn = DecodeESR(uint64(ecSvc64)<<26 | 5)
	if syn.Kind == KindSvc && SvcHandler != nil {
		SvcHandler(&TrapFrame{}, syn.Immediate)
	}
	if gotSvc != 5 {
		t.Fatalf("SvcHandler syscall number = %d, want 5", gotSvc)
	}
}
