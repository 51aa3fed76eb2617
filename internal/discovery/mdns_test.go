// ABOUTME: Tests for mDNS discovery
// ABOUTME: Covers defaults, entry filtering and browse cancellation
package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Living Room", Port: 1250})
	require.NotNil(t, mgr)
	assert.Equal(t, DefaultQueryTimeout, mgr.config.QueryTimeout)
	assert.NotNil(t, mgr.logger)

	// Stop without Advertise is a no-op.
	mgr.Stop()
}

func TestToServerInfo(t *testing.T) {
	tests := []struct {
		name  string
		entry *mdns.ServiceEntry
		want  ServerInfo
		ok    bool
	}{
		{"nil", nil, ServerInfo{}, false},
		{
			"valid",
			&mdns.ServiceEntry{Name: "Kitchen._netaudio._tcp.local.", AddrV4: net.IPv4(192, 168, 1, 20), Port: 1250},
			ServerInfo{Name: "Kitchen", Host: "192.168.1.20", Port: 1250},
			true,
		},
		{
			"other service",
			&mdns.ServiceEntry{Name: "Printer._ipp._tcp.local.", AddrV4: net.IPv4(192, 168, 1, 30), Port: 631},
			ServerInfo{}, false,
		},
		{
			"no address",
			&mdns.ServiceEntry{Name: "Kitchen._netaudio._tcp.local.", Port: 1250},
			ServerInfo{}, false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toServerInfo(tt.entry)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServerInfoAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.5:1250", ServerInfo{Host: "10.0.0.5", Port: 1250}.Addr())
}

func TestBrowseHonoursCancelledContext(t *testing.T) {
	mgr := NewManager(Config{QueryTimeout: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mgr.Browse(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
