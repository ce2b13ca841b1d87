package pump

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// nopCloseWriter is a CloseWriter fixture that records whether CloseWrite
// was invoked, for tests that don't need a live connection.
type nopCloseWriter struct {
	closed bool
	err    error
}

func (c *nopCloseWriter) CloseWrite() error {
	c.closed = true
	return c.err
}

func TestHalfCopierCopiesAllBytesThenReportsEOF(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 1024) // 8 KiB, exceeds a small buffer many times over
	src := bytes.NewReader(payload)
	dst := &bytes.Buffer{}
	cw := &nopCloseWriter{}

	h := newHalfCopier(256, src, dst, cw)

	var result stepResult
	for i := 0; i < 1000; i++ {
		result = h.step()
		if result.outcome != pending {
			break
		}
	}

	require.Equal(t, eof, result.outcome)
	require.Equal(t, int64(len(payload)), result.totalAmt)
	require.Equal(t, payload, dst.Bytes())
	require.True(t, cw.closed)
}

type zeroByteWriter struct{}

func (zeroByteWriter) Write(b []byte) (int, error) { return 0, nil }

func TestHalfCopierReportsWriterFailureOnWriteZero(t *testing.T) {
	src := bytes.NewReader([]byte("hello"))
	cw := &nopCloseWriter{}
	h := newHalfCopier(64, src, zeroByteWriter{}, cw)

	result := h.step()
	require.Equal(t, failure, result.outcome)
	require.Equal(t, writerSide, result.side)
	require.ErrorIs(t, result.err, ErrWriteZero)
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestHalfCopierReportsReaderFailure(t *testing.T) {
	boom := errors.New("boom")
	h := newHalfCopier(64, failingReader{err: boom}, &bytes.Buffer{}, &nopCloseWriter{})

	result := h.step()
	require.Equal(t, failure, result.outcome)
	require.Equal(t, readerSide, result.side)
	require.ErrorIs(t, result.err, boom)
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestHalfCopierReportsWriterFailure(t *testing.T) {
	boom := errors.New("boom")
	src := bytes.NewReader([]byte("hello"))
	h := newHalfCopier(64, src, failingWriter{err: boom}, &nopCloseWriter{})

	result := h.step()
	require.Equal(t, failure, result.outcome)
	require.Equal(t, writerSide, result.side)
	require.ErrorIs(t, result.err, boom)
}

func TestHalfCopierReportsCloseWriteFailureAsWriterFailure(t *testing.T) {
	src := bytes.NewReader([]byte("hi"))
	boom := errors.New("close write boom")
	h := newHalfCopier(64, src, &bytes.Buffer{}, &nopCloseWriter{err: boom})

	result := h.step()
	require.Equal(t, failure, result.outcome)
	require.Equal(t, writerSide, result.side)
	require.ErrorIs(t, result.err, boom)
}

// deadlineExceededReader reports os.ErrDeadlineExceeded for its first
// afterCalls invocations, then yields payload followed by EOF.
type deadlineExceededReader struct {
	afterCalls int
	calls      int
	payload    []byte
	delivered  bool
}

func (r *deadlineExceededReader) Read(b []byte) (int, error) {
	r.calls++
	if r.calls <= r.afterCalls {
		return 0, os.ErrDeadlineExceeded
	}
	if !r.delivered {
		r.delivered = true
		return copy(b, r.payload), nil
	}
	return 0, io.EOF
}

func TestHalfCopierReportsPendingWhenReadWouldBlock(t *testing.T) {
	r := &deadlineExceededReader{afterCalls: 3, payload: []byte("hi")}
	h := newHalfCopier(64, r, &bytes.Buffer{}, &nopCloseWriter{})

	for i := 0; i < 3; i++ {
		result := h.step()
		require.Equal(t, pending, result.outcome)
		require.Equal(t, int64(0), result.transferred)
	}
}

// stallingWriter returns os.ErrDeadlineExceeded on its first Write, then
// succeeds, standing in for a target conn whose write briefly races its
// deadline during bufio's Flush.
type stallingWriter struct {
	calls int
	buf   bytes.Buffer
}

func (w *stallingWriter) Write(b []byte) (int, error) {
	w.calls++
	if w.calls == 1 {
		return 0, os.ErrDeadlineExceeded
	}
	return w.buf.Write(b)
}

func TestHalfCopierFlushOnStallRetriesAfterDeadlineExceeded(t *testing.T) {
	src := bytes.NewReader([]byte("hello"))
	w := &stallingWriter{}
	cw := &nopCloseWriter{}
	h := newHalfCopier(64, src, w, cw)

	// Step 1: reads "hello" into the buffer, drains it into bufio's
	// internal buffer (too small to force a direct write-through), and
	// reports pending because read_done hasn't been observed yet.
	result := h.step()
	require.Equal(t, pending, result.outcome)
	require.True(t, h.needFlush)

	// Step 2: read_done still false, so Refill's proactive flush runs
	// first; the underlying writer reports a deadline exceeded, which
	// must surface as pending, not a failure, and must leave need_flush
	// set so the next step retries the same flush.
	result = h.step()
	require.Equal(t, pending, result.outcome)
	require.True(t, h.needFlush)
	require.False(t, cw.closed)

	// Step 3: the flush now succeeds, the reader reports EOF, and the
	// half-copier completes with the accumulated byte count.
	result = h.step()
	require.Equal(t, eof, result.outcome)
	require.Equal(t, int64(5), result.totalAmt)
	require.Equal(t, "hello", w.buf.String())
	require.True(t, cw.closed)
}

func TestHalfCopierBufferInvariantHolds(t *testing.T) {
	payload := bytes.Repeat([]byte("z"), 1000)
	h := newHalfCopier(32, bytes.NewReader(payload), &bytes.Buffer{}, &nopCloseWriter{})

	for i := 0; i < 1000; i++ {
		require.True(t, h.pos >= 0 && h.pos <= h.cap && h.cap <= len(h.buf))
		if h.step().outcome == eof {
			break
		}
	}
}
