package catalog

import (
	"context"
	"errors"
	"io"
)

// ChunkSize bounds how often byte-granular transfers report progress.
const ChunkSize = 4 * 1024 * 1024

// LargeTransferThreshold is the total above which an initial (0, total)
// pair is reported even for a single item.
const LargeTransferThreshold = 4 * 1024 * 1024

// Meter accumulates completed work against a fixed total and forwards each
// new pair to a ProgressFunc.
type Meter struct {
	fn        ProgressFunc
	completed int64
	total     int64
	finished  bool
}

// NewMeter creates a meter for total units. A nil fn discards progress.
func NewMeter(total int64, fn ProgressFunc) *Meter {
	return &Meter{fn: fn, total: total}
}

// Begin reports (0, total) when the batch is large or has several items.
func (m *Meter) Begin(items int) {
	if m.total > LargeTransferThreshold || items > 1 {
		m.emit()
	}
}

// Add records n completed units and reports the new pair.
func (m *Meter) Add(n int64) {
	m.completed += n
	m.emit()
}

// Finish reports (total, total) once, for batches whose last chunk did not
// land exactly on the total (empty files, item-granular deletes).
func (m *Meter) Finish() {
	if m.finished {
		return
	}
	m.completed = m.total
	m.emit()
}

// Completed returns the completed units.
func (m *Meter) Completed() int64 {
	return m.completed
}

// Total returns the fixed total.
func (m *Meter) Total() int64 {
	return m.total
}

func (m *Meter) emit() {
	if m.completed >= m.total {
		m.finished = true
	}
	if m.fn != nil {
		m.fn(m.completed, m.total)
	}
}

// CopyChunks copies src to dst through buf, calling onChunk with each chunk
// length after it is written. ctx is checked before every chunk.
func CopyChunks(ctx context.Context, dst io.Writer, src io.Reader, buf []byte, onChunk func(n int)) (int64, error) {
	if len(buf) == 0 {
		buf = make([]byte, ChunkSize)
	}
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, rerr := io.ReadFull(src, buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
			if onChunk != nil {
				onChunk(nr)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
				return written, nil
			}
			return written, rerr
		}
	}
}
