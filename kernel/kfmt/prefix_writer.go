package kfmt

import "io"

// PrefixWriter is an io.Writer that inserts a prefix at the beginning of
// each line it emits to the underlying Sink.
type PrefixWriter struct {
	// Sink is the io.Writer where all writes are redirected.
	Sink io.Writer

	// Prefix is emitted at the start of every line.
	Prefix []byte

	bytesAfterPrefix int
}

// Write writes the contents of p to the underlying sink, emitting the
// configured prefix at the start of each line.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var (
		written int
		start   int
	)

	if w.bytesAfterPrefix == 0 && len(p) != 0 {
		w.Sink.Write(w.Prefix)
	}

	for i := 0; i < len(p); i++ {
		if p[i] != '\n' {
			continue
		}

		n, err := w.Sink.Write(p[start : i+1])
		written += n
		if err != nil {
			return written, err
		}

		start = i + 1
		w.bytesAfterPrefix = 0

		if start < len(p) {
			w.Sink.Write(w.Prefix)
		}
	}

	if start < len(p) {
		n, err := w.Sink.Write(p[start:])
		written += n
		w.bytesAfterPrefix += n
		if err != nil {
			return written, err
		}
	}

	return written, nil
}
