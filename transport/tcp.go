package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"golang.org/x/net/netutil"

	"hotstuff/configs"
)

// maxInboundConns caps concurrent inbound connections the same way the
// teacher's MaxConnectionHandler bounds participant connection fan-in.
const maxInboundConns = 16

// TCPTransport is a length-prefixed, persistent-connection Transport:
// reliable in-order per-connection delivery, matching §6's "TCP-like"
// contract literally.
type TCPTransport struct {
	self uint64
	ln   net.Listener

	mu    sync.Mutex
	conns map[uint64]net.Conn
	addrs map[uint64]string

	inbox chan Envelope
}

func NewTCPTransport(self uint64, listenAddr string, peerAddrs map[uint64]string) (*TCPTransport, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	limited := netutil.LimitListener(ln, maxInboundConns)
	t := &TCPTransport{
		self:  self,
		ln:    limited,
		conns: make(map[uint64]net.Conn),
		addrs: peerAddrs,
		inbox: make(chan Envelope, 4096),
	}
	go t.acceptLoop()
	return t, nil
}

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			return
		}
		go t.readLoop(conn)
	}
}

func (t *TCPTransport) readLoop(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		var srcBuf [8]byte
		if _, err := io.ReadFull(r, srcBuf[:]); err != nil {
			return
		}
		src := binary.BigEndian.Uint64(srcBuf[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return
		}
		t.inbox <- Envelope{From: src, Payload: payload}
	}
}

func (t *TCPTransport) dial(dest uint64) (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[dest]; ok {
		return c, nil
	}
	addr, ok := t.addrs[dest]
	if !ok {
		return nil, io.ErrClosedPipe
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	t.conns[dest] = conn
	return conn, nil
}

func (t *TCPTransport) Send(dest uint64, data []byte) error {
	conn, err := t.dial(dest)
	if err != nil {
		configs.Warn(false, "transport: send to unreachable peer dropped")
		return nil
	}
	frame := make([]byte, 4+8+len(data))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(data)))
	binary.BigEndian.PutUint64(frame[4:12], t.self)
	copy(frame[12:], data)
	if _, err := conn.Write(frame); err != nil {
		t.mu.Lock()
		delete(t.conns, dest)
		t.mu.Unlock()
	}
	return nil
}

func (t *TCPTransport) Broadcast(data []byte) error {
	for dest := range t.addrs {
		_ = t.Send(dest, data)
	}
	return nil
}

func (t *TCPTransport) Recv(ctx context.Context) ([]Envelope, error) {
	select {
	case e := <-t.inbox:
		out := []Envelope{e}
		for {
			select {
			case more := <-t.inbox:
				out = append(out, more)
			default:
				return out, nil
			}
		}
	case <-ctx.Done():
		return nil, nil
	}
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.conns {
		_ = c.Close()
	}
	return t.ln.Close()
}
