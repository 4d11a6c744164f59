package network

import (
	"net"
	"sync"

	"github.com/banshee-data/livox.bridge/internal/livox"
)

// DevTypeMid360 is the vendor device type code reported with callbacks.
const DevTypeMid360 uint8 = 9

// passiveSerial is reported for sensors identified only by their traffic.
const passiveSerial = "unknown"

// Dispatcher turns raw point datagrams into SDK callbacks. It filters by
// source address, announces each new source once through InfoChange and
// holds delivery until a point cloud hook is registered.
type Dispatcher struct {
	mu       sync.Mutex
	handlers livox.Handlers
	armed    chan struct{}
	expected map[string]bool
	known    map[uint32]bool
	stats    PacketStatsInterface
	serial   string
}

// NewDispatcher reports serial in the DeviceInfo of every new source. A nil
// stats counts nothing.
func NewDispatcher(stats PacketStatsInterface, serial string) *Dispatcher {
	if stats == nil {
		stats = noopStats{}
	}
	return &Dispatcher{
		armed:  make(chan struct{}),
		known:  make(map[uint32]bool),
		stats:  stats,
		serial: serial,
	}
}

// Reset prepares for a new Init. An empty expected list accepts any source.
func (d *Dispatcher) Reset(expected []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expected = make(map[string]bool, len(expected))
	for _, ip := range expected {
		if parsed := net.ParseIP(ip); parsed != nil {
			d.expected[parsed.String()] = true
		}
	}
	d.known = make(map[uint32]bool)
	d.armed = make(chan struct{})
	if d.handlers.PointCloud != nil {
		close(d.armed)
	}
}

func (d *Dispatcher) Register(h livox.Handlers) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = h
	if h.PointCloud != nil {
		select {
		case <-d.armed:
		default:
			close(d.armed)
		}
	}
}

// Ready is closed once a point cloud hook has been registered.
func (d *Dispatcher) Ready() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

func (d *Dispatcher) Current() livox.Handlers {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers
}

// Deliver processes one datagram payload received from src. The payload is
// only valid for the duration of the call.
func (d *Dispatcher) Deliver(src net.IP, payload []byte) {
	d.stats.AddPacket(len(payload))

	pkt, err := livox.DecodeEthernetPacket(payload)
	if err != nil {
		d.stats.AddDropped()
		return
	}

	d.mu.Lock()
	if len(d.expected) > 0 && !d.expected[src.String()] {
		d.mu.Unlock()
		d.stats.AddDropped()
		return
	}
	handle := livox.HandleFromIP(src)
	first := !d.known[handle]
	d.known[handle] = true
	h := d.handlers
	d.mu.Unlock()

	if first && h.InfoChange != nil {
		h.InfoChange(handle, livox.DeviceInfo{DevType: DevTypeMid360, Serial: d.serial, IP: src.String()})
	}
	if pkt.DataType.Cartesian() {
		d.stats.AddPoints(int(pkt.DotNum))
	}
	if h.PointCloud != nil {
		h.PointCloud(handle, DevTypeMid360, pkt)
	}
}

// Info forwards a text message to the registered hook.
func (d *Dispatcher) Info(handle uint32, text string) {
	if h := d.Current().Info; h != nil {
		h(handle, DevTypeMid360, text)
	}
}
