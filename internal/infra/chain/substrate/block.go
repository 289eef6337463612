package substrate

import (
	"context"
	"fmt"
	"time"

	"github.com/gabapcia/xcmwatch/internal/chainstream"
	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
	"github.com/gabapcia/xcmwatch/internal/pkg/transport/jsonrpc"
	"github.com/gabapcia/xcmwatch/internal/pkg/types"
	"github.com/gabapcia/xcmwatch/internal/pkg/x/chflow"
)

type (
	// HeaderResponse is the subset of a substrate header used to follow the chain.
	HeaderResponse struct {
		ParentHash string    `json:"parentHash"`
		Number     types.Hex `json:"number"`
	}

	// BlockResponse is a block decoded by the gateway.
	BlockResponse struct {
		Number     types.Hex               `json:"number"`
		Hash       string                  `json:"hash"`
		ParentHash string                  `json:"parentHash"`
		Extrinsics []chainstream.Extrinsic `json:"extrinsics"`
		Events     []chainstream.Event     `json:"events"`
	}
)

// toBlock converts a BlockResponse of chainID to a chainstream.Block.
func (b BlockResponse) toBlock(chainID string) chainstream.Block {
	return chainstream.Block{
		ChainID:    chainID,
		Number:     b.Number.Uint64(),
		Hash:       b.Hash,
		ParentHash: b.ParentHash,
		Extrinsics: b.Extrinsics,
		Events:     b.Events,
	}
}

// finalizedNumber returns the height of the finalized head.
func finalizedNumber(ctx context.Context, conn jsonrpc.Client) (uint64, error) {
	hash, err := jsonrpc.Call[string](ctx, conn, "chain_getFinalizedHead")
	if err != nil {
		return 0, err
	}

	header, err := jsonrpc.Call[HeaderResponse](ctx, conn, "chain_getHeader", hash)
	if err != nil {
		return 0, err
	}

	return header.Number.Uint64(), nil
}

// blockAt fetches the decoded block at height number.
func blockAt(ctx context.Context, conn jsonrpc.Client, chainID string, number uint64) (chainstream.Block, error) {
	hash, err := jsonrpc.Call[string](ctx, conn, "chain_getBlockHash", number)
	if err != nil {
		return chainstream.Block{}, err
	}

	if hash == "" {
		return chainstream.Block{}, fmt.Errorf("no block hash at height %d", number)
	}

	res, err := jsonrpc.Call[BlockResponse](ctx, conn, "gateway_getBlock", hash)
	if err != nil {
		return chainstream.Block{}, err
	}

	block := res.toBlock(chainID)
	if block.Hash == "" {
		block.Hash = hash
	}
	if block.Number == 0 {
		block.Number = number
	}

	return block, nil
}

// pollNewBlocks emits every finalized block after from, in height order, and
// returns the height of the last block emitted. The first error is emitted
// and ends the poll.
func (g *gateway) pollNewBlocks(ctx context.Context, conn jsonrpc.Client, chainID string, from uint64, eventsCh chan<- chainstream.BlockEvent) (uint64, error) {
	latest, err := finalizedNumber(ctx, conn)
	if err != nil {
		return from, err
	}

	for number := from + 1; number <= latest; number++ {
		block, err := blockAt(ctx, conn, chainID, number)
		if err != nil {
			return from, err
		}

		if !chflow.Send(ctx, eventsCh, chainstream.BlockEvent{Block: block}) {
			return from, ctx.Err()
		}

		from = number
	}

	return from, nil
}

// FinalizedBlocks implements chainstream.Source. A stream opened after an
// error resumes after the last block the failed stream sent; any other
// stream starts at the current finalized head. The channel is closed when
// ctx is done or after an error event.
func (g *gateway) FinalizedBlocks(ctx context.Context, chainID string) (<-chan chainstream.BlockEvent, error) {
	conn, err := g.conn(chainID)
	if err != nil {
		return nil, err
	}

	from, ok := g.takeResume(chainID)
	if !ok {
		head, err := finalizedNumber(ctx, conn)
		if err != nil {
			return nil, err
		}
		if head > 0 {
			from = head - 1
		}
	}

	logger.Debug(ctx, "streaming finalized blocks", "chain.id", chainID, "block.from", from+1)

	eventsCh := make(chan chainstream.BlockEvent, blocksBufferSize)
	go func() {
		defer close(eventsCh)

		for {
			var err error
			if from, err = g.pollNewBlocks(ctx, conn, chainID, from, eventsCh); err != nil {
				if ctx.Err() == nil {
					g.keepResume(chainID, from)
					chflow.Send(ctx, eventsCh, chainstream.BlockEvent{Err: err})
				}
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(g.pollInterval):
			}
		}
	}()

	return eventsCh, nil
}
