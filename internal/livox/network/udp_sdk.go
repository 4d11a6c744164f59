package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/livox.bridge/internal/livox"
	"github.com/banshee-data/livox.bridge/internal/monitoring"
)

const (
	defaultAckTimeout  = 2 * time.Second
	defaultLogInterval = time.Minute
	readPollInterval   = 100 * time.Millisecond
	maxDatagramSize    = 2048
)

// UDPConfig configures a UDPSDK.
type UDPConfig struct {
	// Factory creates the sockets. Defaults to real sockets.
	Factory UDPSocketFactory
	// BindIP overrides the address the host ports are bound on. Empty binds
	// all interfaces.
	BindIP string
	// RcvBuf is the requested kernel receive buffer for the point socket.
	RcvBuf int
	// Stats collects datagram counters. Optional.
	Stats PacketStatsInterface
	// LogInterval is how often Stats are logged. Defaults to one minute.
	LogInterval time.Duration
	// AckTimeout bounds how long a control request waits for the sensor.
	AckTimeout time.Duration
}

type pendingCommand struct {
	handle   uint32
	deadline time.Time
	cb       livox.ControlCallback
}

// UDPSDK is a livox.SDK that speaks the sensor's UDP protocol directly: it
// receives point datagrams on the host point port and sends parameter
// writes from the host command port.
type UDPSDK struct {
	cfg  UDPConfig
	disp *Dispatcher

	mu           sync.Mutex
	running      bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	pointSock    UDPSocket
	cmdSock      UDPSocket
	lidarCmdPort int
	seq          uint32
	pending      map[uint32]pendingCommand
}

// NewUDPSDK creates an uninitialised UDP driver.
func NewUDPSDK(cfg UDPConfig) *UDPSDK {
	if cfg.Factory == nil {
		cfg.Factory = NewRealUDPSocketFactory()
	}
	if cfg.Stats == nil {
		cfg.Stats = noopStats{}
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = defaultLogInterval
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	return &UDPSDK{
		cfg:     cfg,
		disp:    NewDispatcher(cfg.Stats, passiveSerial),
		pending: make(map[uint32]pendingCommand),
	}
}

// Init reads the sensor config, binds the host point and command ports and
// starts the receive goroutines.
func (s *UDPSDK) Init(configPath string) error {
	sdkCfg, err := livox.LoadSDKConfig(configPath)
	if err != nil {
		return err
	}
	host := sdkCfg.PrimaryHost()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("udp driver: %w", livox.ErrAlreadyInitialized)
	}

	bindIP := net.ParseIP(s.cfg.BindIP)
	pointSock, err := s.cfg.Factory.ListenUDP("udp", &net.UDPAddr{IP: bindIP, Port: host.PointDataPort})
	if err != nil {
		return fmt.Errorf("failed to listen on point port %d: %w", host.PointDataPort, err)
	}
	cmdSock, err := s.cfg.Factory.ListenUDP("udp", &net.UDPAddr{IP: bindIP, Port: host.CmdDataPort})
	if err != nil {
		pointSock.Close()
		return fmt.Errorf("failed to listen on command port %d: %w", host.CmdDataPort, err)
	}
	if s.cfg.RcvBuf > 0 {
		if err := pointSock.SetReadBuffer(s.cfg.RcvBuf); err != nil {
			monitoring.Logf("Warning: failed to set UDP receive buffer size to %d: %v", s.cfg.RcvBuf, err)
		}
	}

	s.disp.Reset(sdkCfg.ExpectedLidarIPs())
	s.pointSock = pointSock
	s.cmdSock = cmdSock
	s.lidarCmdPort = sdkCfg.Mid360.LidarNetInfo.CmdDataPort
	s.pending = make(map[uint32]pendingCommand)
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(3)
	go s.pointLoop(ctx, pointSock)
	go s.commandLoop(ctx, cmdSock)
	go s.statsLoop(ctx)

	monitoring.Logf("UDP driver listening on point port %d, command port %d", host.PointDataPort, host.CmdDataPort)
	return nil
}

// Uninit stops the goroutines and closes both sockets. Outstanding control
// requests are abandoned without a callback.
func (s *UDPSDK) Uninit() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	pointSock, cmdSock := s.pointSock, s.cmdSock
	s.pending = make(map[uint32]pendingCommand)
	s.mu.Unlock()

	pointSock.Close()
	cmdSock.Close()
	s.wg.Wait()
	s.cfg.Stats.LogStats()
}

func (s *UDPSDK) Register(h livox.Handlers) {
	s.disp.Register(h)
}

func (s *UDPSDK) SetWorkMode(handle uint32, mode livox.WorkMode, cb livox.ControlCallback) livox.Status {
	return s.sendParameter(handle, KeyWorkMode, []byte{uint8(mode)}, cb)
}

func (s *UDPSDK) SetPointDataType(handle uint32, t livox.DataType, cb livox.ControlCallback) livox.Status {
	return s.sendParameter(handle, KeyPointDataType, []byte{uint8(t)}, cb)
}

func (s *UDPSDK) sendParameter(handle uint32, key uint16, value []byte, cb livox.ControlCallback) livox.Status {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return livox.StatusNotConnected
	}
	if handle == 0 {
		s.mu.Unlock()
		return livox.StatusInvalidHandle
	}
	s.seq++
	seq := s.seq
	sock := s.cmdSock
	dst := &net.UDPAddr{IP: livox.IPFromHandle(handle), Port: s.lidarCmdPort}
	s.pending[seq] = pendingCommand{handle: handle, deadline: time.Now().Add(s.cfg.AckTimeout), cb: cb}
	s.mu.Unlock()

	frame, err := ControlFrame{
		Seq:        seq,
		CmdID:      CmdParameterConfig,
		CmdType:    CmdTypeRequest,
		SenderType: SenderHost,
		Data:       ParameterWrite(key, value),
	}.MarshalBinary()
	if err == nil {
		_, err = sock.WriteToUDP(frame, dst)
	}
	if err != nil {
		s.mu.Lock()
		delete(s.pending, seq)
		s.mu.Unlock()
		monitoring.Logf("UDP driver: control send to %s failed: %v", dst, err)
		return livox.StatusSendFailed
	}
	return livox.StatusSuccess
}

func (s *UDPSDK) pointLoop(ctx context.Context, sock UDPSocket) {
	defer s.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-s.disp.Ready():
	}

	buf := make([]byte, maxDatagramSize)
	for {
		if ctx.Err() != nil {
			return
		}
		sock.SetReadDeadline(time.Now().Add(readPollInterval))
		n, addr, err := sock.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}
		s.disp.Deliver(addr.IP, buf[:n])
	}
}

func (s *UDPSDK) commandLoop(ctx context.Context, sock UDPSocket) {
	defer s.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		if ctx.Err() != nil {
			return
		}
		s.expirePending(time.Now())

		sock.SetReadDeadline(time.Now().Add(readPollInterval))
		n, addr, err := sock.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			monitoring.Logf("UDP command read error: %v", err)
			continue
		}
		s.handleControl(addr, buf[:n])
	}
}

func (s *UDPSDK) handleControl(addr *net.UDPAddr, b []byte) {
	frame, err := DecodeControlFrame(b)
	if err != nil {
		monitoring.Logf("UDP driver: dropping control frame from %s: %v", addr, err)
		return
	}
	if frame.CmdType != CmdTypeAck {
		// Sensor-initiated messages are surfaced as info text.
		s.disp.Info(livox.HandleFromIP(addr.IP), fmt.Sprintf("cmd 0x%04x from %s (%d bytes)", frame.CmdID, addr.IP, len(frame.Data)))
		return
	}

	s.mu.Lock()
	p, ok := s.pending[frame.Seq]
	delete(s.pending, frame.Seq)
	s.mu.Unlock()
	if !ok {
		return
	}

	resp, err := DecodeAck(frame.Data)
	if err != nil {
		if p.cb != nil {
			p.cb(livox.StatusFailure, p.handle, nil)
		}
		return
	}
	if p.cb != nil {
		p.cb(livox.StatusSuccess, p.handle, resp)
	}
}

func (s *UDPSDK) expirePending(now time.Time) {
	var expired []pendingCommand
	s.mu.Lock()
	for seq, p := range s.pending {
		if now.After(p.deadline) {
			expired = append(expired, p)
			delete(s.pending, seq)
		}
	}
	s.mu.Unlock()

	for _, p := range expired {
		if p.cb != nil {
			p.cb(livox.StatusTimeout, p.handle, nil)
		}
	}
}

func (s *UDPSDK) statsLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cfg.Stats.LogStats()
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
