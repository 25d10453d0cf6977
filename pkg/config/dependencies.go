package config

import (
	"crypto/rand"
	"dominicbreuker/kcpnet/pkg/transport"
	"dominicbreuker/kcpnet/pkg/transport/udp"
	"io"
	"os"
	"time"
)

// Dependencies contains injectable dependencies for testing and customization.
// All fields are optional and will use default implementations if nil.
type Dependencies struct {
	PacketListener PacketListenerFunc
	Now            NowFunc
	Rand           io.Reader // tests use crypto.SeededReader
	Stdin          StdinFunc
	Stdout         StdoutFunc
}

// PacketListenerFunc is a function that binds a datagram socket.
// It returns a transport.PacketConn to allow for mock implementations.
type PacketListenerFunc func(network, address string) (transport.PacketConn, error)

// NowFunc returns the current time.
type NowFunc func() time.Time

// StdinFunc is a function that returns a reader for stdin.
// It returns an io.Reader to allow for mock implementations.
type StdinFunc func() io.Reader

// StdoutFunc is a function that returns a writer for stdout.
// It returns an io.Writer to allow for mock implementations.
type StdoutFunc func() io.Writer

// GetPacketListenerFunc returns the packet listener function from dependencies, or a default implementation.
// If deps is nil or deps.PacketListener is nil, returns a function that uses udp.Listen.
func GetPacketListenerFunc(deps *Dependencies) PacketListenerFunc {
	if deps != nil && deps.PacketListener != nil {
		return deps.PacketListener
	}
	return func(network, address string) (transport.PacketConn, error) {
		return udp.Listen(network, address)
	}
}

// GetNowFunc returns the clock from dependencies, or time.Now.
func GetNowFunc(deps *Dependencies) NowFunc {
	if deps != nil && deps.Now != nil {
		return deps.Now
	}
	return time.Now
}

// GetRandReader returns the randomness source from dependencies, or crypto/rand.
func GetRandReader(deps *Dependencies) io.Reader {
	if deps != nil && deps.Rand != nil {
		return deps.Rand
	}
	return rand.Reader
}

// GetStdinFunc returns the stdin function from dependencies, or a default implementation.
// If deps is nil or deps.Stdin is nil, returns a function that uses os.Stdin.
func GetStdinFunc(deps *Dependencies) StdinFunc {
	if deps != nil && deps.Stdin != nil {
		return deps.Stdin
	}
	return func() io.Reader {
		return os.Stdin
	}
}

// GetStdoutFunc returns the stdout function from dependencies, or a default implementation.
// If deps is nil or deps.Stdout is nil, returns a function that uses os.Stdout.
func GetStdoutFunc(deps *Dependencies) StdoutFunc {
	if deps != nil && deps.Stdout != nil {
		return deps.Stdout
	}
	return func() io.Writer {
		return os.Stdout
	}
}
