package pump

import (
	"bufio"
	"errors"
	"io"
	"os"
)

// ErrWriteZero is reported as a writer failure when a write accepts fewer
// bytes than it was given with no error (zero bytes being the usual case;
// bufio.Writer's Flush reports this as io.ErrShortWrite) — a protocol
// violation by the writer that must not be retried indefinitely (§4.1,
// "no write-zero loop").
var ErrWriteZero = errors.New("write returned zero bytes without error")

// flushWriter is the subset of *bufio.Writer the half-copier needs.
type flushWriter interface {
	io.Writer
	Flush() error
}

// outcome classifies the result of one halfCopier.step call.
type outcome int

const (
	pending outcome = iota
	eof
	failure
)

// failureSide says which end of this direction's copy caused the failure,
// independent of whether that end is ultimately the source or the target —
// the caller (pump.go) applies the asymmetric A/B mapping from §4.2.
type failureSide int

const (
	noFailure failureSide = iota
	readerSide
	writerSide
)

// stepResult is the outcome of advancing a halfCopier by one task.
type stepResult struct {
	outcome     outcome
	transferred int64 // bytes written to the target during this step
	totalAmt    int64 // HalfCopyState.amt, valid when outcome == eof
	side        failureSide
	err         error
}

// halfCopier is one direction's HalfCopyState plus the reader/writer pair it
// copies between (§3, §4.1). Buffer invariant: 0 <= pos <= cap <= len(buf).
type halfCopier struct {
	buf       []byte
	pos       int
	cap       int
	amt       int64
	readDone  bool
	needFlush bool

	reader      io.Reader
	writer      flushWriter
	closeWriter CloseWriter // half-closed once source EOF has been fully flushed downstream
}

func newHalfCopier(bufSize int, reader io.Reader, dst io.Writer, closeWriter CloseWriter) *halfCopier {
	return &halfCopier{
		buf:         make([]byte, bufSize),
		reader:      reader,
		writer:      bufio.NewWriterSize(dst, bufSize),
		closeWriter: closeWriter,
	}
}

func isDeadlineExceeded(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// step advances the copy exactly as far as the current Refill/Drain/
// Completion cycle permits before blocking would occur or the step
// completes (§4.1). The caller (the worker goroutine) calls step once per
// released task; the connection's read/write deadlines bound how long a
// single Refill or Drain can block, which is how "would block" is observed
// in a synchronous implementation (see DESIGN.md).
func (h *halfCopier) step() stepResult {
	if h.pos == h.cap && !h.readDone {
		if h.needFlush {
			if err := h.writer.Flush(); err != nil {
				if isDeadlineExceeded(err) {
					return stepResult{outcome: pending}
				}
				if errors.Is(err, io.ErrShortWrite) {
					err = ErrWriteZero
				}
				return stepResult{outcome: failure, side: writerSide, err: err}
			}
			h.needFlush = false
		}

		n, err := h.reader.Read(h.buf)
		if err != nil && !errors.Is(err, io.EOF) {
			if isDeadlineExceeded(err) {
				return stepResult{outcome: pending}
			}
			return stepResult{outcome: failure, side: readerSide, err: err}
		}
		if n > 0 {
			h.pos, h.cap = 0, n
		}
		if n == 0 || errors.Is(err, io.EOF) {
			h.readDone = true
		}
	}

	var transferred int64
	for h.pos < h.cap {
		n, err := h.writer.Write(h.buf[h.pos:h.cap])
		if err != nil {
			if isDeadlineExceeded(err) {
				h.needFlush = true
				return stepResult{outcome: pending, transferred: transferred}
			}
			return stepResult{outcome: failure, side: writerSide, err: err, transferred: transferred}
		}
		if n == 0 {
			return stepResult{outcome: failure, side: writerSide, err: ErrWriteZero, transferred: transferred}
		}
		h.pos += n
		h.amt += int64(n)
		transferred += int64(n)
		h.needFlush = true
	}

	if h.pos == h.cap && h.readDone {
		if err := h.writer.Flush(); err != nil {
			if isDeadlineExceeded(err) {
				return stepResult{outcome: pending, transferred: transferred}
			}
			if errors.Is(err, io.ErrShortWrite) {
				err = ErrWriteZero
			}
			return stepResult{outcome: failure, side: writerSide, err: err, transferred: transferred}
		}
		h.needFlush = false
		if err := h.closeWriter.CloseWrite(); err != nil {
			return stepResult{outcome: failure, side: writerSide, err: err, transferred: transferred}
		}
		return stepResult{outcome: eof, totalAmt: h.amt, transferred: transferred}
	}

	return stepResult{outcome: pending, transferred: transferred}
}
