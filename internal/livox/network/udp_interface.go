package network

import (
	"net"
	"sync"
	"time"
)

// UDPSocket is the subset of *net.UDPConn the drivers use, so they can be
// tested without real sockets.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory creates UDP sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenUDP.
type RealUDPSocketFactory struct{}

func NewRealUDPSocketFactory() *RealUDPSocketFactory {
	return &RealUDPSocketFactory{}
}

func (f *RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPSocket implements UDPSocket for testing. Packets queued with Deliver
// are returned by ReadFromUDP in order; an empty queue reads as a timeout.
// It is safe for a reader goroutine and a test goroutine to share.
type MockUDPSocket struct {
	mu             sync.Mutex
	queue          []MockUDPPacket
	written        []MockUDPPacket
	closed         bool
	readBufferSize int
	localAddr      *net.UDPAddr

	// WriteError is returned by WriteToUDP if set.
	WriteError error
	// OnWrite, if set, is called after every successful write.
	OnWrite func(data []byte, addr *net.UDPAddr)
}

// MockUDPPacket is one datagram seen by a MockUDPSocket.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// NewMockUDPSocket creates a mock bound to 127.0.0.1:port.
func NewMockUDPSocket(port int) *MockUDPSocket {
	return &MockUDPSocket{
		localAddr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port},
	}
}

// Deliver queues a datagram from addr for the reader.
func (m *MockUDPSocket) Deliver(data []byte, addr *net.UDPAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, MockUDPPacket{Data: append([]byte(nil), data...), Addr: addr})
}

// Pending returns the number of queued datagrams not yet read.
func (m *MockUDPSocket) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Written returns a copy of every datagram sent through WriteToUDP.
func (m *MockUDPSocket) Written() []MockUDPPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockUDPPacket, len(m.written))
	copy(out, m.written)
	return out
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	if len(m.queue) == 0 {
		m.mu.Unlock()
		// Stand in for a short read deadline so pollers do not spin.
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: &timeoutError{}}
	}
	pkt := m.queue[0]
	m.queue = m.queue[1:]
	m.mu.Unlock()
	return copy(b, pkt.Data), pkt.Addr, nil
}

func (m *MockUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, net.ErrClosed
	}
	if m.WriteError != nil {
		err := m.WriteError
		m.mu.Unlock()
		return 0, err
	}
	data := append([]byte(nil), b...)
	m.written = append(m.written, MockUDPPacket{Data: data, Addr: addr})
	hook := m.OnWrite
	m.mu.Unlock()

	if hook != nil {
		hook(data, addr)
	}
	return len(b), nil
}

func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBufferSize = bytes
	return nil
}

func (m *MockUDPSocket) SetReadDeadline(time.Time) error { return nil }

func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockUDPSocket) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockUDPSocket) LocalAddr() net.Addr { return m.localAddr }

// MockUDPSocketFactory hands out MockUDPSockets keyed by listen port.
type MockUDPSocketFactory struct {
	mu      sync.Mutex
	sockets map[int]*MockUDPSocket

	// Error is returned by ListenUDP if set.
	Error error
	// ListenCalls records all ListenUDP calls.
	ListenCalls []MockListenCall
}

// MockListenCall records a call to ListenUDP.
type MockListenCall struct {
	Network string
	Addr    *net.UDPAddr
}

func NewMockUDPSocketFactory() *MockUDPSocketFactory {
	return &MockUDPSocketFactory{sockets: make(map[int]*MockUDPSocket)}
}

// Socket returns the mock for port, creating it if needed.
func (f *MockUDPSocketFactory) Socket(port int) *MockUDPSocket {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sockets[port]
	if !ok {
		s = NewMockUDPSocket(port)
		f.sockets[port] = s
	}
	return s
}

func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.mu.Lock()
	f.ListenCalls = append(f.ListenCalls, MockListenCall{Network: network, Addr: laddr})
	err := f.Error
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Socket(laddr.Port), nil
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
