// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"context"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/ethclient"
	"github.com/luxfi/geth/log"
	"github.com/luxfi/geth/rpc"

	"github.com/luxfi/backrun/state"
)

const (
	pollInterval = 1 * time.Second
	traceTimeout = 30 * time.Second
	fetchTimeout = 10 * time.Second
)

// tracerConfig asks for the prestate tracer in diff mode.
var tracerConfig = map[string]interface{}{
	"tracer":       "prestateTracer",
	"tracerConfig": map[string]interface{}{"diffMode": true},
}

// Poller implements the ingestion contract over plain JSON-RPC: it polls
// for new heads and publishes header, block, logs and the diff-mode
// block trace on the feed.
type Poller struct {
	client *ethclient.Client
	raw    *rpc.Client
	feed   *Feed

	lastSeen uint64
	wg       sync.WaitGroup
}

// NewPoller wraps an RPC connection.
func NewPoller(raw *rpc.Client, feed *Feed) *Poller {
	return &Poller{client: ethclient.NewClient(raw), raw: raw, feed: feed}
}

// Client exposes the typed client for collaborators sharing the
// connection.
func (p *Poller) Client() *ethclient.Client { return p.client }

// Start launches the polling loop.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.poll(ctx)
			}
		}
	}()
}

// Wait blocks until the polling loop exits.
func (p *Poller) Wait() { p.wg.Wait() }

func (p *Poller) poll(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	number, err := p.client.BlockNumber(callCtx)
	cancel()
	if err != nil {
		log.Warn("Head poll failed", "err", err)
		return
	}
	if p.lastSeen == 0 && number > 0 {
		p.lastSeen = number - 1
	}
	for n := p.lastSeen + 1; n <= number; n++ {
		p.publishBlock(ctx, n)
	}
	p.lastSeen = number
}

// publishBlock fetches and fans out everything known about one height.
func (p *Poller) publishBlock(ctx context.Context, number uint64) {
	callCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	block, err := p.client.BlockByNumber(callCtx, new(big.Int).SetUint64(number))
	if err != nil {
		log.Warn("Block fetch failed", "number", number, "err", err)
		return
	}
	p.feed.Headers.Send(block.Header())
	p.feed.Blocks.Send(block)

	hash := block.Hash()
	logs, err := p.client.FilterLogs(callCtx, ethereum.FilterQuery{BlockHash: &hash})
	if err != nil {
		log.Warn("Log fetch failed", "block", hash, "err", err)
	} else {
		p.feed.Logs.Send(BlockLogs{Hash: hash, Logs: logs})
	}

	diffs, err := p.TraceBlock(ctx, hash)
	if err != nil {
		log.Warn("Block trace failed", "block", hash, "err", err)
		return
	}
	p.feed.StateUpdates.Send(BlockStateUpdate{Hash: hash, Diffs: diffs})
}

// TraceBlock runs the diff-mode prestate tracer over a block, returning
// one post-state update per transaction.
func (p *Poller) TraceBlock(ctx context.Context, hash common.Hash) ([]state.GethStateUpdate, error) {
	callCtx, cancel := context.WithTimeout(ctx, traceTimeout)
	defer cancel()

	var results []struct {
		Result TraceDiff `json:"result"`
	}
	if err := p.raw.CallContext(callCtx, &results, "debug_traceBlockByHash", hash, tracerConfig); err != nil {
		return nil, err
	}
	out := make([]state.GethStateUpdate, 0, len(results))
	for i := range results {
		out = append(out, results[i].Result.PostState())
	}
	return out, nil
}

// TraceCall runs the diff-mode prestate tracer over a pending tx for
// mempool enrichment.
func (p *Poller) TraceCall(ctx context.Context, tx *types.Transaction) (*TraceDiff, error) {
	callCtx, cancel := context.WithTimeout(ctx, traceTimeout)
	defer cancel()

	var result TraceDiff
	call := map[string]interface{}{
		"to":    tx.To(),
		"data":  hexutil.Encode(tx.Data()),
		"gas":   hexutil.Uint64(tx.Gas()),
		"value": (*hexutil.Big)(tx.Value()),
	}
	if err := p.raw.CallContext(callCtx, &result, "debug_traceCall", call, "latest", tracerConfig); err != nil {
		return nil, err
	}
	return &result, nil
}
