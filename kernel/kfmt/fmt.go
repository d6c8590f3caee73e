// Package kfmt provides formatted output primitives that are safe to use
// from any point in the kernel's lifetime, including the early boot stages
// where the Go allocator is not yet available.
package kfmt

import "io"

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numFmtBuf [maxBufSize]byte

	// singleByte is a shared buffer for emitting one character at a time.
	// Writing sub-slices of the format string directly would trigger a
	// memory allocation which must be avoided before the allocator is up.
	singleByte = []byte(" ")

	// earlyPrintBuffer buffers Printf output generated before an output
	// sink is registered.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where Printf sends its output. While
	// nil, output is redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and drains any data
// accumulated in the early print buffer into it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf formats its arguments and writes the result to the registered
// output sink. It supports a subset of the fmt verbs:
//
//	%s	string or byte slice
//	%o	integer, base 8
//	%d	integer, base 10
//	%x	integer, base 16 with lower-case letters
//	%t	"true" or "false"
//
// An optional decimal width may precede the verb. Strings and base-10 values
// shorter than the width are left-padded with spaces; base-8 and base-16
// values are left-padded with zeroes. Printf performs no memory allocations
// so it is usable before the Go runtime is fully bootstrapped; for the same
// reason pointer verbs are not supported (formatting a pointer would require
// reflect and with it the Go allocator).
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but writes the formatted output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextArg int
		i       int
		fmtLen  = len(format)
	)

	for i < fmtLen {
		if format[i] != '%' {
			emitByte(w, format[i])
			i++
			continue
		}

		// scan the optional width until we hit a verb
		i++
		padLen := 0
	parseVerb:
		for ; i < fmtLen; i++ {
			ch := format[i]
			switch {
			case ch == '%':
				emitByte(w, '%')
				break parseVerb
			case ch >= '0' && ch <= '9':
				padLen = (padLen * 10) + int(ch-'0')
				continue
			case ch == 'o' || ch == 'd' || ch == 'x' || ch == 's' || ch == 't':
				if nextArg >= len(args) {
					doWrite(w, errMissingArg)
					break parseVerb
				}

				switch ch {
				case 'o':
					fmtInt(w, args[nextArg], 8, padLen)
				case 'd':
					fmtInt(w, args[nextArg], 10, padLen)
				case 'x':
					fmtInt(w, args[nextArg], 16, padLen)
				case 's':
					fmtString(w, args[nextArg], padLen)
				case 't':
					fmtBool(w, args[nextArg])
				}

				nextArg++
				break parseVerb
			default:
				doWrite(w, errNoVerb)
				break parseVerb
			}
		}
		i++
	}

	for ; nextArg < len(args); nextArg++ {
		doWrite(w, errExtraArg)
	}
}

// fmtBool emits a formatted version of the boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	bVal, isBool := v.(bool)
	if !isBool {
		doWrite(w, errWrongArgType)
		return
	}

	if bVal {
		doWrite(w, trueValue)
	} else {
		doWrite(w, falseValue)
	}
}

// fmtString emits a formatted version of the string or byte slice v,
// left-padding with spaces up to padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	switch sVal := v.(type) {
	case string:
		emitPad(w, ' ', padLen-len(sVal))
		for i := 0; i < len(sVal); i++ {
			emitByte(w, sVal[i])
		}
	case []byte:
		emitPad(w, ' ', padLen-len(sVal))
		doWrite(w, sVal)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtInt emits a formatted version of v in the requested base, applying the
// padding specified by padLen. All built-in signed and unsigned integer types
// are supported.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		uval  uint64
		sval  int64
		padCh byte = ' '
	)

	if base != 10 {
		padCh = '0'
	}

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	switch val := v.(type) {
	case uint8:
		uval = uint64(val)
	case uint16:
		uval = uint64(val)
	case uint32:
		uval = uint64(val)
	case uint64:
		uval = val
	case uint:
		uval = uint64(val)
	case uintptr:
		uval = uint64(val)
	case int8:
		sval = int64(val)
	case int16:
		sval = int64(val)
	case int32:
		sval = int64(val)
	case int64:
		sval = val
	case int:
		sval = int64(val)
	default:
		doWrite(w, errWrongArgType)
		return
	}

	negative := sval < 0
	if negative {
		uval = uint64(-sval)
	} else if sval > 0 {
		uval = uint64(sval)
	}

	// render the digits in reverse order
	digits := 0
	for {
		remainder := uval % uint64(base)
		if remainder < 10 {
			numFmtBuf[digits] = byte(remainder) + '0'
		} else {
			numFmtBuf[digits] = byte(remainder-10) + 'a'
		}
		digits++

		uval /= uint64(base)
		if uval == 0 {
			break
		}
	}

	if negative {
		numFmtBuf[digits] = '-'
		digits++
	}

	emitPad(w, padCh, padLen-digits)
	for digits--; digits >= 0; digits-- {
		emitByte(w, numFmtBuf[digits])
	}
}

// emitPad writes count bytes with value ch; a non-positive count is a no-op.
func emitPad(w io.Writer, ch byte, count int) {
	for i := 0; i < count; i++ {
		emitByte(w, ch)
	}
}

// emitByte writes a single byte through the shared single-byte buffer.
func emitByte(w io.Writer, ch byte) {
	singleByte[0] = ch
	doWrite(w, singleByte)
}

// doWrite sends p to w, or to the early print buffer while no sink has been
// registered.
func doWrite(w io.Writer, p []byte) {
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}
