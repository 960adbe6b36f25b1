package trap

import (
	"runtime"

	"github.com/dummycode/gokernel/internal/asm"
	"github.com/dummycode/gokernel/internal/console"
)

// ReportPanic prints the banner spec §7 requires for a recovered Go
// panic: "an identifying banner, file/line/column, and the panic
// payload, then halts in an infinite low-power loop". skip is the
// number of runtime.Callers frames to skip past ReportPanic itself and
// its immediate caller (normally the deferred recover site).
//
// Grounded on the teacher's traceback.go PrintTraceback/printFrame,
// which walks frames with runtime.FuncForPC after a fault; this
// function takes its location from runtime.Caller at a recover site
// rather than from a raw PC/FP/LR triple handed up from the exception
// trampoline, so a single runtime.Caller lookup replaces the teacher's
// manual frame-pointer walk. No code in the kernel calls ReportPanic:
// no recover is installed on the trap path, so a Go panic raised in the
// kernel never reaches this banner. Go's runtime does not expose a source
// column for a caller, only file and line; the banner reports column
// 0, a deliberate limitation rather than a faithful column number.
//
//go:noinline
func ReportPanic(payload any, skip int) {
	pc, file, line, ok := runtime.Caller(skip)
	console.Puts("\n*** KERNEL PANIC ***\n")
	if ok {
		fn := runtime.FuncForPC(pc)
		if fn != nil {
			console.Puts(fn.Name())
			console.Putc('\n')
		}
		console.Puts(file)
		console.Putc(':')
		console.Decimal(int64(line))
		console.Puts(":0\n") // column unavailable from the Go runtime, see doc comment
	}
	if err, ok := payload.(error); ok {
		console.Puts(err.Error())
	} else if s, ok := payload.(string); ok {
		console.Puts(s)
	} else {
		console.Puts("(non-string panic payload)")
	}
	console.Putc('\n')

	Halt()
}

// Halt parks the core in a low-power wait loop, matching spec §7's
// "halts in an infinite low-power loop" — never returns.
//
//go:nosplit
func Halt() {
	for {
		asm.WaitForEvent()
	}
}
