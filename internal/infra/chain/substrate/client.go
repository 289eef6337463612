// Package substrate implements the chain data source on top of JSON-RPC
// gateways that serve decoded substrate blocks. Finalized blocks are
// obtained by polling the finalized head and back-filling every height
// between two polls.
package substrate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gabapcia/xcmwatch/internal/chainstream"
	"github.com/gabapcia/xcmwatch/internal/pkg/transport/jsonrpc"
)

// ErrChainMismatch is returned when a gateway serves another parachain than
// the one it is configured for.
var ErrChainMismatch = errors.New("gateway serves a different chain")

const (
	// blocksBufferSize is the buffer of every finalized block stream.
	blocksBufferSize = 32

	// averageBlockTime is the default delay between two finalized head polls.
	averageBlockTime = 6 * time.Second
)

// gateway implements chainstream.Source and chainstream.Queries for every
// configured chain.
type gateway struct {
	conns        map[string]jsonrpc.Client
	pollInterval time.Duration

	// resume holds, per chain, the last block streamed before an error ended
	// the stream. The next stream of the chain consumes it.
	mu     sync.Mutex
	resume map[string]uint64
}

var (
	_ chainstream.Source  = (*gateway)(nil)
	_ chainstream.Queries = (*gateway)(nil)
)

func (g *gateway) conn(chainID string) (jsonrpc.Client, error) {
	c, ok := g.conns[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chainstream.ErrUnknownChain, chainID)
	}
	return c, nil
}

// takeResume returns and forgets the height a failed stream of chainID
// stopped at.
func (g *gateway) takeResume(chainID string) (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.resume[chainID]
	delete(g.resume, chainID)
	return n, ok
}

func (g *gateway) keepResume(chainID string, number uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resume[chainID] = number
}

type config struct {
	pollInterval time.Duration
}

// Option configures a gateway built by New.
type Option func(*config)

// WithPollInterval sets the delay between two finalized head polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		c.pollInterval = d
	}
}

// New returns a data source talking to the gateway of every chain id in conns.
func New(conns map[string]jsonrpc.Client, opts ...Option) *gateway {
	cfg := config{pollInterval: averageBlockTime}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &gateway{
		conns:        conns,
		pollInterval: cfg.pollInterval,
		resume:       make(map[string]uint64),
	}
}
