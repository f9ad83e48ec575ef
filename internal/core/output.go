package core

import (
	"io"
	"os"
	"syscall"
)

// Output says where a child command's combined stdout/stderr goes. It is a
// closed set of variants; the executor routes through a pipe whenever the
// variant (or prefixing/buffering) requires it, and otherwise lets the child
// inherit our own descriptors.
type Output interface {
	sinkVariant()
}

// Callback delivers each line (or, in buffered mode, the whole output) to a
// function.
type Callback func(text string)

func (Callback) sinkVariant() {}

// WriterOutput delivers output to an io.Writer.
type WriterOutput struct {
	W io.Writer
}

func (WriterOutput) sinkVariant() {}

// DescriptorOutput delivers output to a raw file descriptor.
type DescriptorOutput struct {
	Fd uintptr
}

func (DescriptorOutput) sinkVariant() {}

// InheritOutput passes the child's output through to our own
// stdout/stderr. With a prefix or buffering configured the output is still
// piped, and lands on our stdout.
type InheritOutput struct{}

func (InheritOutput) sinkVariant() {}

// writerFor resolves an Output variant to a write function. Inherit resolves
// to our stdout, for the piped cases only.
func writerFor(out Output) func(string) {
	switch o := out.(type) {
	case Callback:
		return o
	case WriterOutput:
		return func(s string) { _, _ = io.WriteString(o.W, s) }
	case DescriptorOutput:
		// Raw writes only: wrapping the fd in an os.File would hand its
		// lifetime to the garbage collector, closing a descriptor the
		// caller still owns.
		return func(s string) {
			b := []byte(s)
			for len(b) > 0 {
				n, err := syscall.Write(int(o.Fd), b)
				if err != nil {
					return
				}
				b = b[n:]
			}
		}
	default:
		return func(s string) { _, _ = os.Stdout.WriteString(s) }
	}
}
