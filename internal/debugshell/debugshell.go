// Package debugshell implements the tiny `brk`-triggered command loop
// spec §11's supplement calls for: "help, echo, panic", reachable only
// from the synchronous Brk exception path (the interactive FAT32-backed
// shell itself is out of scope — spec §1's Non-goals exclude it). It is
// wired as trap.BrkHandler by cmd/kernel.
//
// Grounded on the original Rust source's shell.rs: Command::parse's
// whitespace-splitting argument parser and the Shell's read-a-line-then-
// dispatch loop, reduced to the three commands this kernel's debug
// collaborator needs rather than the original's full cd/pwd/cat/ls set
// (which depend on the FAT32 directory-listing operation spec §6 itself
// declares out of scope for the core: "open directory not needed by the
// core; only by the shell").
package debugshell

import (
	"strings"

	"github.com/dummycode/gokernel/internal/console"
	"github.com/dummycode/gokernel/internal/trap"
)

// byteReader is the one primitive this package needs from the UART:
// block for the next received byte. internal/bsp.UART.GetByte satisfies
// this.
type byteReader interface {
	GetByte() byte
}

// Shell owns nothing but its input source; it has no current-directory
// state the way shell.rs's Shell does, since none of its three commands
// are path-relative.
type Shell struct {
	in byteReader
}

// New wraps uart, the real source of input bytes.
func New(uart byteReader) *Shell {
	return &Shell{in: uart}
}

// HandleBrk is installed as trap.BrkHandler: it prints a prompt, reads
// one line, parses it the way shell.rs's Command::parse does (split on
// spaces, drop empty fields), and dispatches. On return, trap.Dispatch
// advances ELR by 4, so the interrupted context resumes at the
// instruction after the `brk`; none of the three commands below resume
// execution elsewhere.
func (s *Shell) HandleBrk(frame *trap.TrapFrame, immediate uint16) {
	console.Puts("\n(debug) ")
	line := s.readLine()
	args := parseCommand(line)
	if len(args) == 0 {
		return
	}

	switch args[0] {
	case "help":
		s.help()
	case "echo":
		s.echo(args[1:])
	case "panic":
		s.panic(args[1:])
	default:
		console.Puts("unknown command: ")
		console.Puts(args[0])
		console.Putc('\n')
	}
}

// readLine blocks byte by byte until a carriage return or newline,
// mirroring the teacher's own nosplit-friendly style of avoiding any
// dynamically-growing buffer in a hot path — this one isn't nosplit
// (string concatenation allocates) but keeps the same one-byte-at-a-time
// shape as console's Puts/Putc.
func (s *Shell) readLine() string {
	var sb strings.Builder
	for {
		b := s.in.GetByte()
		if b == '\r' || b == '\n' {
			console.Putc('\n')
			return sb.String()
		}
		sb.WriteByte(b)
		console.Putc(b)
	}
}

// parseCommand splits s on spaces and drops empty fields, the same
// shape shell.rs's Command::parse uses.
func parseCommand(s string) []string {
	fields := strings.Split(s, " ")
	args := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			args = append(args, f)
		}
	}
	return args
}

func (s *Shell) help() {
	console.Puts("commands: help, echo <text>, panic <message>\n")
}

func (s *Shell) echo(args []string) {
	console.Puts(strings.Join(args, " "))
	console.Putc('\n')
}

// panic deliberately triggers the kernel panic path (spec §7) so a
// developer at the UART can exercise it on demand, the same role
// shell.rs's commands play in letting a developer poke the running
// kernel without rebuilding it.
func (s *Shell) panic(args []string) {
	msg := strings.Join(args, " ")
	if msg == "" {
		msg = "debugshell panic command"
	}
	panic(msg)
}
