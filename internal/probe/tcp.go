package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TCPProber succeeds when a TCP connection to Address can be opened.
type TCPProber struct {
	Address string
	dialer  func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewTCP constructs a prober dialing address.
func NewTCP(address string) (*TCPProber, error) {
	if address == "" {
		return nil, errors.New("tcp probe requires an address")
	}
	return &TCPProber{
		Address: address,
		dialer:  (&net.Dialer{}).DialContext,
	}, nil
}

func (p *TCPProber) Probe(ctx context.Context) error {
	conn, err := p.dialer(ctx, "tcp", p.Address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.Address, err)
	}
	return conn.Close()
}
