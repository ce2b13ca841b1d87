package pump

import (
	"errors"
	"io"
	"net"
	"time"
)

// pipeConn is a DuplexConn built from two independent net.Pipe connections,
// one per direction, so that CloseWrite on one endpoint only signals EOF to
// its peer's Read without affecting the reverse direction — real TCP
// half-close semantics, which a single net.Pipe cannot express on its own.
type pipeConn struct {
	r net.Conn // reads arrive here
	w net.Conn // writes leave from here
}

func (c *pipeConn) Read(b []byte) (int, error)  { return c.r.Read(b) }
func (c *pipeConn) Write(b []byte) (int, error) { return c.w.Write(b) }

func (c *pipeConn) Close() error {
	rErr := c.r.Close()
	wErr := c.w.Close()
	if rErr != nil {
		return rErr
	}
	return wErr
}

func (c *pipeConn) CloseWrite() error { return c.w.Close() }

func (c *pipeConn) LocalAddr() net.Addr  { return c.r.LocalAddr() }
func (c *pipeConn) RemoteAddr() net.Addr { return c.r.RemoteAddr() }

// SetDeadline sets t on both pipes. A net.Pipe refuses deadlines with
// io.ErrClosedPipe once either of its ends is closed, whereas a TCP conn
// still accepts them after either side's CloseWrite, so that error is
// ignored here (after a full Close as well).
func (c *pipeConn) SetDeadline(t time.Time) error {
	if err := c.r.SetDeadline(t); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	if err := c.w.SetDeadline(t); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

func (c *pipeConn) SetReadDeadline(t time.Time) error  { return c.r.SetReadDeadline(t) }
func (c *pipeConn) SetWriteDeadline(t time.Time) error { return c.w.SetWriteDeadline(t) }

var _ DuplexConn = (*pipeConn)(nil)

// newPipeConnPair returns two DuplexConn endpoints, left and right, such
// that bytes left.Write'd are observed by right.Read (and vice versa), with
// each direction independently half-closable via CloseWrite.
func newPipeConnPair() (*pipeConn, *pipeConn) {
	leftToRightW, leftToRightR := net.Pipe()
	rightToLeftW, rightToLeftR := net.Pipe()

	left := &pipeConn{r: rightToLeftR, w: leftToRightW}
	right := &pipeConn{r: leftToRightR, w: rightToLeftW}
	return left, right
}
