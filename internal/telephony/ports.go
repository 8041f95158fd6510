package telephony

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

// PortPool hands out even RTP ports from a fixed range. The odd port above
// each one is left for RTCP.
type PortPool struct {
	mu        sync.Mutex
	minPort   int
	maxPort   int
	free      []int
	allocated map[int]bool
}

// NewPortPool creates a pool over [minPort, maxPort].
func NewPortPool(minPort, maxPort int) *PortPool {
	if minPort%2 != 0 {
		minPort++
	}

	free := make([]int, 0, (maxPort-minPort)/2+1)
	for port := minPort; port < maxPort; port += 2 {
		free = append(free, port)
	}

	return &PortPool{
		minPort:   minPort,
		maxPort:   maxPort,
		free:      free,
		allocated: make(map[int]bool),
	}
}

// Allocate returns the next free RTP port. Released ports go to the back of
// the queue so a port is not reused right after a call ends.
func (p *PortPool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return 0, fmt.Errorf("no ports available in pool (range %d-%d)", p.minPort, p.maxPort)
	}
	port := p.free[0]
	p.free = p.free[1:]
	p.allocated[port] = true
	return port, nil
}

// Release returns a port to the pool.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.allocated[port] {
		delete(p.allocated, port)
		p.free = append(p.free, port)
	}
}

// Listen allocates a port and binds a UDP socket on it. Ports that fail to
// bind are skipped and kept out of the pool.
func (p *PortPool) Listen(host string) (net.PacketConn, int, error) {
	attempts := p.Available()
	var lastErr error
	for i := 0; i < attempts; i++ {
		port, err := p.Allocate()
		if err != nil {
			return nil, 0, err
		}
		conn, err := net.ListenPacket("udp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return conn, port, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no ports available in pool (range %d-%d)", p.minPort, p.maxPort)
	}
	return nil, 0, fmt.Errorf("failed to bind RTP port: %w", lastErr)
}

// Available returns the number of free ports.
func (p *PortPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Allocated returns the number of ports in use.
func (p *PortPool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocated)
}
