package memcache

import (
	"bufio"
	"net"
	"time"

	"github.com/gomemcache/metaclient/meta"
)

// DefaultReadBufferSize is the default bufio.Reader size for a
// Connection, per spec §6's read_buffer_size default.
const DefaultReadBufferSize = 4096

// Connection wraps a single socket to one memcached server with a
// reusable read buffer and a poisoned flag. Once poisoned, a Connection
// must never be returned to its pool's idle set (invariant I2/I5).
type Connection struct {
	netConn net.Conn
	Reader  *bufio.Reader
	Writer  *bufio.Writer

	recvTimeout time.Duration
	poisoned    bool
}

// NewConnection wraps netConn with the default read buffer size and no
// recv timeout. Use NewConnectionWithOptions to configure either.
func NewConnection(netConn net.Conn) *Connection {
	return NewConnectionWithOptions(netConn, DefaultReadBufferSize, 0)
}

// NewConnectionWithOptions wraps netConn with the given read buffer size
// and per-read timeout (0 disables the deadline).
func NewConnectionWithOptions(netConn net.Conn, readBufferSize int, recvTimeout time.Duration) *Connection {
	if readBufferSize <= 0 {
		readBufferSize = DefaultReadBufferSize
	}
	return &Connection{
		netConn:     netConn,
		Reader:      bufio.NewReaderSize(netConn, readBufferSize),
		Writer:      bufio.NewWriter(netConn),
		recvTimeout: recvTimeout,
	}
}

// Send writes req and reads back a single reply, respecting the
// configured recv timeout. It does not inspect no_reply: callers that
// set the q flag should use SendNoReply instead, since memcached sends
// no bytes at all for a quiet success.
func (c *Connection) Send(req *meta.Request) (*meta.Response, error) {
	if err := meta.WriteRequest(c.Writer, req); err != nil {
		c.Poison()
		return nil, err
	}
	if err := c.Writer.Flush(); err != nil {
		c.Poison()
		return nil, err
	}
	return c.readResponse()
}

// SendNoReply writes req and returns immediately without reading,
// assuming the caller has set the protocol's q (quiet) flag.
func (c *Connection) SendNoReply(req *meta.Request) error {
	if err := meta.WriteRequest(c.Writer, req); err != nil {
		c.Poison()
		return err
	}
	if err := c.Writer.Flush(); err != nil {
		c.Poison()
		return err
	}
	return nil
}

func (c *Connection) readResponse() (*meta.Response, error) {
	if c.recvTimeout > 0 {
		_ = c.netConn.SetReadDeadline(time.Now().Add(c.recvTimeout))
	}
	resp, err := meta.ReadResponse(c.Reader)
	if err != nil {
		c.Poison()
		return nil, err
	}
	if resp.HasError() && meta.ShouldCloseConnection(resp.Error) {
		c.Poison()
	}
	return resp, nil
}

// Poison marks the connection unreusable. Poisoned connections are
// closed by the pool on release rather than returned to the idle set.
func (c *Connection) Poison() {
	c.poisoned = true
}

// IsPoisoned reports whether Poison has been called on this connection.
func (c *Connection) IsPoisoned() bool {
	return c.poisoned
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	return c.netConn.Close()
}
