// Package discovery implements the UDP broadcast/listen/timeout loops
// and mDNS registration from SPEC_FULL.md §4.4, grounded on the
// teacher's internal/network/discovery.go (mDNS registration via
// grandcat/zeroconf, broadcast-address enumeration) generalized to the
// port-fallback, compat-broadcast, and timeout-sweep behavior
// documented in original_source's
// cosmic-ext-connect-protocol/src/discovery/service.rs.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/events"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/registry"
)

const mdnsServiceType = "_kdeconnect._udp"

// Service runs the discovery broadcaster, listener, and stale-device
// sweep for one local identity.
type Service struct {
	cfg Config
	reg *registry.Registry
	bus *events.Bus
	log *zap.Logger

	// OnSweep, if set, is invoked at the end of every timeout-sweep
	// tick. Wiring internal/pairing's SweepTimeouts here lets the
	// 30s pairing-pending timeout ride the same ticker that prunes
	// stale discoveries, without discovery importing pairing.
	OnSweep func(now time.Time)

	mu        sync.Mutex
	conn      *net.UDPConn
	boundPort int
	lastSeen  map[string]time.Time
}

// New constructs a Service. Call Start to bind sockets and launch its
// goroutines.
func New(cfg Config, reg *registry.Registry, bus *events.Bus, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		reg:      reg,
		bus:      bus,
		log:      log,
		lastSeen: make(map[string]time.Time),
	}
}

// Start binds the discovery socket (trying PrimaryPort, then the
// fallback range), then launches the listener, broadcaster,
// timeout-sweep, and mDNS registration goroutines. All goroutines exit
// when ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	conn, port, err := s.bindSocket()
	if err != nil {
		return errors.Wrap(err, "bind discovery socket")
	}
	s.mu.Lock()
	s.conn = conn
	s.boundPort = port
	s.mu.Unlock()

	go s.listenLoop(ctx)
	go s.broadcastLoop(ctx)
	go s.sweepLoop(ctx)
	go s.registerMDNS(ctx)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return nil
}

// BoundPort reports the UDP port the listener ended up on, useful for
// diagnostics when the primary port was already taken.
func (s *Service) BoundPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundPort
}

func (s *Service) bindSocket() (*net.UDPConn, int, error) {
	ports := append([]int{s.cfg.PrimaryPort}, fallbackRange(s.cfg)...)
	var lastErr error
	for _, port := range ports {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
		if err == nil {
			return conn, port, nil
		}
		lastErr = err
	}
	return nil, 0, errors.Wrap(lastErr, "no discovery port available")
}

func fallbackRange(cfg Config) []int {
	var ports []int
	for p := cfg.FallbackPortMin; p <= cfg.FallbackPortMax; p++ {
		if p == cfg.PrimaryPort {
			continue
		}
		ports = append(ports, p)
	}
	return ports
}

func (s *Service) listenLoop(ctx context.Context) {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue // read timeout, loop to re-check ctx
		}

		p, err := protocol.DecodeLine(buf[:n])
		if err != nil || !protocol.IsIdentityType(p.Type) {
			continue
		}

		var info protocol.DeviceInfo
		if err := p.DecodeBody(&info); err != nil {
			continue
		}
		if info.DeviceID == "" || info.DeviceID == s.reg.OwnIdentity().DeviceID {
			continue
		}

		s.handleIdentity(info, remote.IP.String())
	}
}

func (s *Service) handleIdentity(info protocol.DeviceInfo, host string) {
	_, existed := s.reg.Get(info.DeviceID)
	s.reg.UpsertDiscovered(info, host, info.TCPPort)

	s.mu.Lock()
	s.lastSeen[info.DeviceID] = time.Now()
	s.mu.Unlock()

	if existed {
		s.bus.Publish(DeviceUpdated{Info: info, Host: host, Port: info.TCPPort})
	} else {
		s.bus.Publish(DeviceDiscovered{Info: info, Host: host, Port: info.TCPPort})
	}
}

func (s *Service) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		s.broadcastOnce()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) broadcastOnce() {
	identity := s.reg.OwnIdentity()
	pkt, err := protocol.New(protocol.IdentityKDE, identity)
	if err != nil {
		return
	}
	data, err := protocol.EncodeLine(pkt)
	if err != nil {
		return
	}

	addrs := s.targetAddresses()
	ports := []int{s.cfg.PrimaryPort, s.cfg.CompatPort}

	for _, addr := range addrs {
		for _, port := range ports {
			s.sendTo(addr, port, data)
		}
	}
}

func (s *Service) sendTo(ip string, port int, data []byte) {
	udpAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(ip, fmt.Sprintf("%d", port)))
	if err != nil {
		return
	}
	conn, err := net.DialUDP("udp4", nil, udpAddr)
	if err != nil {
		return // includes network-unreachable: absorbed silently, matching the original
	}
	defer conn.Close()

	if _, err := conn.Write(data); err != nil && !isNetworkUnreachable(err) {
		s.log.Debug("discovery broadcast write failed", zap.String("addr", ip), zap.Int("port", port), zap.Error(err))
	}
}

func isNetworkUnreachable(err error) bool {
	return strings.Contains(err.Error(), "unreachable")
}

func (s *Service) targetAddresses() []string {
	addrs, err := broadcastAddresses()
	if err != nil {
		addrs = []string{"255.255.255.255"}
	}
	return append(addrs, s.cfg.AdditionalBroadcastAddrs...)
}

func broadcastAddresses() ([]string, error) {
	var out []string
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			ip := ipnet.IP.To4()
			mask := ipnet.Mask
			broadcast := make(net.IP, len(ip))
			for i := range ip {
				broadcast[i] = ip[i] | ^mask[i]
			}
			out = append(out, broadcast.String())
		}
	}
	out = append(out, "255.255.255.255")
	return out, nil
}

func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Service) sweepOnce() {
	now := time.Now()

	s.mu.Lock()
	var expired []string
	for id, seen := range s.lastSeen {
		if now.Sub(seen) > s.cfg.DeviceTimeout {
			expired = append(expired, id)
			delete(s.lastSeen, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.bus.Publish(DeviceTimedOut{DeviceID: id})
	}

	if s.OnSweep != nil {
		s.OnSweep(now)
	}
}

func (s *Service) registerMDNS(ctx context.Context) {
	identity := s.reg.OwnIdentity()
	server, err := zeroconf.Register(
		identity.DeviceID,
		mdnsServiceType,
		"local.",
		identity.TCPPort,
		[]string{
			"id=" + identity.DeviceID,
			"name=" + identity.DeviceName,
			"type=" + string(identity.DeviceType),
			fmt.Sprintf("protocol=%d", identity.ProtocolVersion),
		},
		nil,
	)
	if err != nil {
		s.log.Warn("mDNS registration failed", zap.Error(err))
		return
	}
	<-ctx.Done()
	server.Shutdown()
}
