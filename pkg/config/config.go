package config

import (
	"dominicbreuker/kcpnet/pkg/arq"
	"dominicbreuker/kcpnet/pkg/protocol"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config tunes a Server or Client. The zero value is not usable, start from
// Default().
type Config struct {
	// DualMode binds IPv4 and IPv6 on one socket.
	DualMode bool `yaml:"dual_mode"`
	// RecvBufferSize bounds the bytes drained from the socket per tick and
	// sizes the kernel receive buffer.
	RecvBufferSize int `yaml:"recv_buffer_size"`
	// SendBufferSize bounds the bytes written per tick and sizes the kernel
	// send buffer.
	SendBufferSize int `yaml:"send_buffer_size"`
	// MTU is the largest datagram sent, headers included.
	MTU int `yaml:"mtu"`

	NoDelay           bool          `yaml:"no_delay"`
	Interval          time.Duration `yaml:"interval"`
	FastResend        int           `yaml:"fast_resend"`
	CongestionWindow  bool          `yaml:"congestion_window"`
	SendWindowSize    int           `yaml:"send_window_size"`
	ReceiveWindowSize int           `yaml:"receive_window_size"`

	// Timeout is the inactivity period after which a connection is dropped.
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetransmits is how often a reliable segment may be resent before
	// the connection fails.
	MaxRetransmits int `yaml:"max_retransmits"`
	// IsReliablePing sends keepalive pings through the reliable channel.
	IsReliablePing bool `yaml:"is_reliable_ping"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DualMode:          false,
		RecvBufferSize:    7 * 1024 * 1024,
		SendBufferSize:    7 * 1024 * 1024,
		MTU:               1200,
		NoDelay:           true,
		Interval:          10 * time.Millisecond,
		FastResend:        0,
		CongestionWindow:  false,
		SendWindowSize:    32,
		ReceiveWindowSize: 128,
		Timeout:           2000 * time.Millisecond,
		MaxRetransmits:    20,
		IsReliablePing:    true,
	}
}

// Load reads a YAML file on top of Default(). Durations are written as
// strings such as "10ms".
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("os.ReadFile(%s): %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("yaml.Unmarshal(%s): %w", path, err)
	}

	return cfg, nil
}

// minimal MTU that leaves room for one byte of reliable payload in a segment
const minMTU = protocol.Overhead + 50

// maxMTU is the largest UDP payload over IPv4.
const maxMTU = 65507

// Validate checks every option and returns all problems found.
func (c *Config) Validate() []error {
	var errors []error

	if c.MTU < minMTU || c.MTU > maxMTU {
		errors = append(errors, fmt.Errorf("mtu: %d not in [%d, %d]", c.MTU, minMTU, maxMTU))
	}
	if c.RecvBufferSize < c.MTU {
		errors = append(errors, fmt.Errorf("recv_buffer_size: %d smaller than mtu", c.RecvBufferSize))
	}
	if c.SendBufferSize < c.MTU {
		errors = append(errors, fmt.Errorf("send_buffer_size: %d smaller than mtu", c.SendBufferSize))
	}
	if c.Interval <= 0 {
		errors = append(errors, fmt.Errorf("interval: must be positive"))
	}
	if c.Timeout <= c.Interval {
		errors = append(errors, fmt.Errorf("timeout: %s must exceed interval %s", c.Timeout, c.Interval))
	}
	if c.FastResend < 0 {
		errors = append(errors, fmt.Errorf("fast_resend: %d is negative", c.FastResend))
	}
	if c.SendWindowSize < 1 {
		errors = append(errors, fmt.Errorf("send_window_size: %d must be at least 1", c.SendWindowSize))
	}
	if c.ReceiveWindowSize < 1 {
		errors = append(errors, fmt.Errorf("receive_window_size: %d must be at least 1", c.ReceiveWindowSize))
	}
	if c.MaxRetransmits < 1 {
		errors = append(errors, fmt.Errorf("max_retransmits: %d must be at least 1", c.MaxRetransmits))
	}

	return errors
}

// PingInterval is how often a connected peer is pinged.
func (c *Config) PingInterval() time.Duration {
	d := 100 * c.Interval
	if half := c.Timeout / 2; half < d {
		d = half
	}
	return d
}

// HelloInterval is how often a client repeats its handshake message.
func (c *Config) HelloInterval() time.Duration {
	return 10 * c.Interval
}

// QueueLimit is the number of unsent segments at which reliable sends
// start failing.
func (c *Config) QueueLimit() int {
	limit := c.SendWindowSize * 4
	if byBuffer := c.SendBufferSize / c.MTU; byBuffer > limit {
		limit = byBuffer
	}
	return limit
}

// ARQOptions translates the reliable channel settings.
func (c *Config) ARQOptions() arq.Options {
	return arq.Options{
		MTU:              protocol.SegmentMTU(c.MTU),
		NoDelay:          c.NoDelay,
		Interval:         c.Interval,
		FastResend:       c.FastResend,
		CongestionWindow: c.CongestionWindow,
		SendWindow:       c.SendWindowSize,
		ReceiveWindow:    c.ReceiveWindowSize,
		MaxRetransmits:   c.MaxRetransmits,
		QueueLimit:       c.QueueLimit(),
	}
}

// Network returns the socket network to bind. Without DualMode the family
// follows the address the socket is used with.
func (c *Config) Network(ipv6 bool) string {
	switch {
	case c.DualMode:
		return "udp"
	case ipv6:
		return "udp6"
	default:
		return "udp4"
	}
}
