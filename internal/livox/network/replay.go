package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/livox.bridge/internal/livox"
	"github.com/banshee-data/livox.bridge/internal/monitoring"
	"github.com/banshee-data/livox.bridge/internal/timeutil"
)

const replaySerial = "replay"

// pcapngMagic is the section header block type that starts a pcapng file.
var pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

// ReplayConfig configures a ReplaySDK.
type ReplayConfig struct {
	// Path is the capture file (pcap or pcapng).
	Path string
	// SpeedMultiplier scales inter-packet delays: 1.0 is real time, 2.0 twice
	// as fast. Values <= 0 mean 1.0.
	SpeedMultiplier float64
	// Loop restarts the capture from the beginning when it ends.
	Loop bool
	// PointPort overrides the UDP destination port to replay. Zero uses the
	// host point_data_port from the sensor config.
	PointPort int
	// Stats collects datagram counters. Optional.
	Stats PacketStatsInterface
	// Clock paces the replay. Defaults to the real clock.
	Clock timeutil.Clock
}

// packetReader is satisfied by both pcapgo.Reader and pcapgo.NgReader.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// ReplaySDK is a livox.SDK that replays point datagrams from a capture file
// with their original timing. Work mode requests are acknowledged since the
// capture was recorded in normal mode; data type changes are not supported.
type ReplaySDK struct {
	cfg  ReplayConfig
	disp *Dispatcher

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	err     error
	packets int
}

// NewReplaySDK creates an uninitialised replay driver.
func NewReplaySDK(cfg ReplayConfig) *ReplaySDK {
	if cfg.SpeedMultiplier <= 0 {
		cfg.SpeedMultiplier = 1.0
	}
	if cfg.Stats == nil {
		cfg.Stats = noopStats{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	done := make(chan struct{})
	close(done)
	return &ReplaySDK{
		cfg:  cfg,
		disp: NewDispatcher(cfg.Stats, replaySerial),
		done: done,
	}
}

// Init opens the capture and starts replaying once handlers are registered.
func (r *ReplaySDK) Init(configPath string) error {
	sdkCfg, err := livox.LoadSDKConfig(configPath)
	if err != nil {
		return err
	}
	port := r.cfg.PointPort
	if port == 0 {
		port = sdkCfg.PrimaryHost().PointDataPort
	}

	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open capture %s: %w", r.cfg.Path, err)
	}
	if _, err := openCapture(f); err != nil {
		f.Close()
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		f.Close()
		return fmt.Errorf("replay driver: %w", livox.ErrAlreadyInitialized)
	}
	r.disp.Reset(sdkCfg.ExpectedLidarIPs())
	r.running = true
	r.err = nil
	r.packets = 0
	r.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.run(ctx, f, port, r.done)

	monitoring.Logf("PCAP replay of %s on port %d (speed: %.1fx, loop: %v)", r.cfg.Path, port, r.cfg.SpeedMultiplier, r.cfg.Loop)
	return nil
}

// Uninit stops the replay and waits for it to finish.
func (r *ReplaySDK) Uninit() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *ReplaySDK) Register(h livox.Handlers) {
	r.disp.Register(h)
}

func (r *ReplaySDK) SetWorkMode(handle uint32, mode livox.WorkMode, cb livox.ControlCallback) livox.Status {
	if mode != livox.WorkModeNormal {
		return livox.StatusNotSupported
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return livox.StatusNotConnected
	}
	if cb != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			cb(livox.StatusSuccess, handle, &livox.ControlResponse{})
		}()
	}
	return livox.StatusSuccess
}

func (r *ReplaySDK) SetPointDataType(uint32, livox.DataType, livox.ControlCallback) livox.Status {
	return livox.StatusNotSupported
}

// Done is closed when the current replay ends, by reaching the end of a
// non-looping capture, by error, or by Uninit.
func (r *ReplaySDK) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Err returns the error that ended the last replay, if any.
func (r *ReplaySDK) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Packets returns how many datagrams the current replay has delivered.
func (r *ReplaySDK) Packets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.packets
}

func (r *ReplaySDK) run(ctx context.Context, f *os.File, port int, done chan struct{}) {
	defer r.wg.Done()
	defer close(done)
	defer f.Close()

	select {
	case <-ctx.Done():
		return
	case <-r.disp.Ready():
	}

	for {
		err := r.replayOnce(ctx, f, port)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				monitoring.Logf("PCAP replay stopped: %v", err)
				r.mu.Lock()
				r.err = err
				r.mu.Unlock()
			}
			return
		}
		if !r.cfg.Loop {
			monitoring.Logf("PCAP replay complete: %d packets", r.Packets())
			return
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
			return
		}
	}
}

// replayOnce plays the capture from the current file position to EOF.
func (r *ReplaySDK) replayOnce(ctx context.Context, f *os.File, port int) error {
	reader, err := openCapture(f)
	if err != nil {
		return err
	}

	var lastCapture time.Time
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read capture: %w", err)
		}

		if !lastCapture.IsZero() {
			delay := time.Duration(float64(ci.Timestamp.Sub(lastCapture)) / r.cfg.SpeedMultiplier)
			if delay > 0 {
				timer := r.cfg.Clock.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C():
				}
			}
		}
		lastCapture = ci.Timestamp

		src, payload, ok := extractUDP(data, reader.LinkType(), port)
		if !ok {
			continue
		}
		r.mu.Lock()
		r.packets++
		r.mu.Unlock()
		r.disp.Deliver(src, payload)
	}
}

// openCapture rewinds f and returns a reader for its format.
func openCapture(f *os.File) (packetReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if bytes.Equal(magic, pcapngMagic) {
		r, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng: %w", err)
		}
		return r, nil
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	return r, nil
}

// extractUDP returns the source address and payload of a UDP datagram sent
// to port, decoding the frame with gopacket.
func extractUDP(data []byte, link layers.LinkType, port int) (net.IP, []byte, bool) {
	pkt := gopacket.NewPacket(data, link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok || int(udp.DstPort) != port || len(udp.Payload) == 0 {
		return nil, nil, false
	}
	var src net.IP
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		src = ip.SrcIP
	case *layers.IPv6:
		src = ip.SrcIP
	default:
		return nil, nil, false
	}
	return src, udp.Payload, true
}
