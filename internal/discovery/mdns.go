// ABOUTME: mDNS service discovery for netaudio broadcasters
// ABOUTME: Broadcasters advertise _netaudio._tcp; receivers browse for the first one found
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

const (
	ServiceType = "_netaudio._tcp"
	Domain      = "local"

	DefaultQueryTimeout = 3 * time.Second
)

// ErrNoAddresses is returned by Advertise when no usable interface exists.
var ErrNoAddresses = errors.New("discovery: no non-loopback IPv4 addresses")

// Config holds discovery configuration
type Config struct {
	ServiceName  string
	Port         int
	QueryTimeout time.Duration
	Logger       *zap.Logger
}

// ServerInfo describes a discovered broadcaster
type ServerInfo struct {
	Name string
	Host string
	Port int
}

// Addr returns host:port for dialing.
func (s ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	logger *zap.Logger

	mu     sync.Mutex
	server *mdns.Server
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = DefaultQueryTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Manager{
		config: config,
		logger: config.Logger.Named("discovery"),
	}
}

// Advertise announces the broadcaster until Stop is called.
func (m *Manager) Advertise() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		return nil
	}

	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}
	if len(ips) == 0 {
		return ErrNoAddresses
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"format=pcm16"},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.server = server

	m.logger.Info("advertising mDNS service",
		zap.String("name", m.config.ServiceName), zap.Int("port", m.config.Port), zap.String("type", ServiceType))
	return nil
}

// Stop withdraws the advertisement.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server == nil {
		return
	}
	if err := m.server.Shutdown(); err != nil {
		m.logger.Debug("mdns shutdown", zap.Error(err))
	}
	m.server = nil
}

// Browse queries repeatedly until a broadcaster answers or ctx ends.
func (m *Manager) Browse(ctx context.Context) (ServerInfo, error) {
	for {
		if err := ctx.Err(); err != nil {
			return ServerInfo{}, err
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		found := make(chan ServerInfo, 1)
		go func() {
			for entry := range entries {
				info, ok := toServerInfo(entry)
				if !ok {
					continue
				}
				select {
				case found <- info:
				default:
				}
			}
		}()

		params := mdns.DefaultParams(ServiceType)
		params.Domain = Domain
		params.Timeout = m.config.QueryTimeout
		params.Entries = entries
		params.DisableIPv6 = true

		err := mdns.Query(params)
		close(entries)
		if err != nil {
			m.logger.Debug("mdns query failed", zap.Error(err))
		}

		select {
		case info := <-found:
			m.logger.Info("discovered broadcaster",
				zap.String("name", info.Name), zap.String("addr", info.Addr()))
			return info, nil
		case <-ctx.Done():
			return ServerInfo{}, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func toServerInfo(entry *mdns.ServiceEntry) (ServerInfo, bool) {
	if entry == nil || entry.AddrV4 == nil || entry.Port == 0 {
		return ServerInfo{}, false
	}
	if !strings.Contains(entry.Name, ServiceType) {
		return ServerInfo{}, false
	}
	return ServerInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+"."+Domain+"."),
		Host: entry.AddrV4.String(),
		Port: entry.Port,
	}, true
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}

	return ips, nil
}
