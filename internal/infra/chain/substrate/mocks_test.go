package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gabapcia/xcmwatch/internal/chainstream"
	"github.com/gabapcia/xcmwatch/internal/pkg/transport/jsonrpc"
	"github.com/gabapcia/xcmwatch/internal/pkg/types"
)

func hashOf(number uint64) string {
	return fmt.Sprintf("0x%04x", number)
}

// fakeChain is a gateway of one chain whose finalized head can be moved.
type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	failing  map[string]error
	calls    map[string]int
	storage  map[string]*string
	messages map[string][]chainstream.OutboundMessage
	params   map[string][]any
}

var _ jsonrpc.Client = (*fakeChain)(nil)

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{
		head:     head,
		failing:  make(map[string]error),
		calls:    make(map[string]int),
		storage:  make(map[string]*string),
		messages: make(map[string][]chainstream.OutboundMessage),
		params:   make(map[string][]any),
	}
}

func (c *fakeChain) setHead(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = n
}

func (c *fakeChain) fail(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		delete(c.failing, method)
		return
	}
	c.failing[method] = err
}

func (c *fakeChain) callsOf(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *fakeChain) lastParams(method string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params[method]
}

func (c *fakeChain) Fetch(_ context.Context, method string, params ...any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[method]++
	c.params[method] = params

	if err := c.failing[method]; err != nil {
		return nil, err
	}

	var result any
	switch method {
	case "chain_getFinalizedHead":
		result = hashOf(c.head)
	case "chain_getHeader":
		n, err := strconv.ParseUint(strings.TrimPrefix(params[0].(string), "0x"), 16, 64)
		if err != nil {
			return nil, err
		}
		result = HeaderResponse{Number: types.HexFromUint64(n), ParentHash: hashOf(n - 1)}
	case "chain_getBlockHash":
		n := params[0].(uint64)
		if n > c.head {
			result = nil
		} else {
			result = hashOf(n)
		}
	case "gateway_getBlock":
		hash := params[0].(string)
		n, _ := strconv.ParseUint(strings.TrimPrefix(hash, "0x"), 16, 64)
		result = BlockResponse{
			Number:     types.HexFromUint64(n),
			Hash:       hash,
			ParentHash: hashOf(n - 1),
			Events:     []chainstream.Event{{Index: 0, Section: "system", Method: "ExtrinsicSuccess"}},
		}
	case "state_getStorage":
		result = c.storage[params[0].(string)]
	default:
		result = c.messages[method]
	}

	return json.Marshal(result)
}
