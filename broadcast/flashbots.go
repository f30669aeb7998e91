// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package broadcast

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/luxfi/geth/accounts"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/crypto"
	"github.com/luxfi/geth/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/luxfi/backrun/event"
)

const relayTimeout = 10 * time.Second

// Relay is one configured bundle endpoint.
type Relay struct {
	URL string
	// NoSign skips the signature header for relays that ignore it.
	NoSign bool
}

// bundleParams is the eth_sendBundle parameter object.
type bundleParams struct {
	Txs          []hexutil.Bytes `json:"txs"`
	BlockNumber  hexutil.Uint64  `json:"blockNumber"`
	MinTimestamp *uint64         `json:"minTimestamp,omitempty"`
	MaxTimestamp *uint64         `json:"maxTimestamp,omitempty"`
}

// simulateParams extends the bundle shape for eth_callBundle.
type simulateParams struct {
	bundleParams
	StateBlockNumber string `json:"stateBlockNumber"`
}

type jsonrpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// Broadcaster signs Ready messages and pushes the bundle at every relay
// in parallel.
type Broadcaster struct {
	signers *SignerSet
	relays  []Relay
	client  *http.Client

	in *event.Subscription[*event.Compose]

	bundlesSent   prometheus.Counter
	bundlesFailed prometheus.Counter

	// relayWarns rate-limits per-relay rejection warnings to one a
	// minute; the counters keep the full signal.
	relayWarns *rate.Limiter

	wg sync.WaitGroup
}

// New wires a broadcaster; reg may be nil to skip metrics.
func New(signers *SignerSet, relays []Relay, in *event.Subscription[*event.Compose], reg prometheus.Registerer) *Broadcaster {
	b := &Broadcaster{
		signers:    signers,
		relays:     relays,
		client:     &http.Client{Timeout: relayTimeout},
		in:         in,
		relayWarns: rate.NewLimiter(rate.Every(time.Minute), 1),
		bundlesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backrun_bundles_sent_total",
			Help: "Bundles accepted by at least one relay",
		}),
		bundlesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backrun_bundles_failed_total",
			Help: "Bundles rejected by every relay",
		}),
	}
	if reg != nil {
		reg.MustRegister(b.bundlesSent, b.bundlesFailed)
	}
	return b
}

// Start launches the consume loop.
func (b *Broadcaster) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-b.in.Ch():
				if !ok {
					return
				}
				if msg.Kind != event.ComposeReady {
					continue
				}
				if err := b.Broadcast(ctx, msg); err != nil {
					log.Warn("Bundle broadcast failed", "err", err, "target", msg.NextBlockNumber)
				}
			}
		}
	}()
}

// Wait blocks until the consume loop exits.
func (b *Broadcaster) Wait() { b.wg.Wait() }

// Broadcast signs the ready transaction, wraps stuffing txs plus the
// backrun into a bundle for the target block, and fans out. The signer's
// nonce is bumped optimistically before the first relay answers.
func (b *Broadcaster) Broadcast(ctx context.Context, msg *event.Compose) error {
	signer, err := b.signers.Pick(msg.Eoa)
	if err != nil {
		return err
	}
	signed, err := b.signers.SignTx(signer, msg.TxRequest)
	if err != nil {
		return err
	}

	txs := make([]hexutil.Bytes, 0, len(msg.StuffingTxs)+1)
	for _, tx := range msg.StuffingTxs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return err
		}
		txs = append(txs, raw)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return err
	}
	txs = append(txs, raw)

	params := bundleParams{Txs: txs, BlockNumber: hexutil.Uint64(msg.NextBlockNumber)}
	body, err := json.Marshal(jsonrpcRequest{
		JSONRPC: "2.0", ID: 1, Method: "eth_sendBundle", Params: []interface{}{params},
	})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	okCh := make(chan struct{}, len(b.relays))
	for _, relay := range b.relays {
		wg.Add(1)
		go func(relay Relay) {
			defer wg.Done()
			if err := b.post(ctx, relay, body); err != nil {
				if b.relayWarns.Allow() {
					log.Warn("Relay rejected bundle", "relay", relay.URL, "err", err)
				}
				return
			}
			okCh <- struct{}{}
		}(relay)
	}
	wg.Wait()
	close(okCh)

	if len(okCh) == 0 && len(b.relays) > 0 {
		b.bundlesFailed.Inc()
		return fmt.Errorf("all %d relays rejected bundle for block %d", len(b.relays), msg.NextBlockNumber)
	}
	b.bundlesSent.Inc()
	log.Info("Bundle broadcast", "target", msg.NextBlockNumber, "relays", len(b.relays), "signer", signer.Address(), "tx", signed.Hash())
	return nil
}

// post sends one signed JSON-RPC body to one relay.
func (b *Broadcaster) post(ctx context.Context, relay Relay, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relay.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if !relay.NoSign {
		header, err := SignatureHeader(b.signers.AuthKey(), body)
		if err != nil {
			return err
		}
		req.Header.Set("X-Flashbots-Signature", header)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay status %d: %s", resp.StatusCode, payload)
	}
	return nil
}

// SignatureHeader produces the flashbots body signature:
// address:sig, signed over the EIP-191 text hash of hex(keccak(body)).
func SignatureHeader(key *ecdsa.PrivateKey, body []byte) (string, error) {
	hashed := crypto.Keccak256Hash(body).Hex()
	sig, err := crypto.Sign(accounts.TextHash([]byte(hashed)), key)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex() + ":" + hexutil.Encode(sig), nil
}

// SimulateBundle posts the same body shape at eth_callBundle with a
// pinned state block.
func (b *Broadcaster) SimulateBundle(ctx context.Context, relay Relay, txs []hexutil.Bytes, target, stateBlock uint64) error {
	params := simulateParams{
		bundleParams:     bundleParams{Txs: txs, BlockNumber: hexutil.Uint64(target)},
		StateBlockNumber: hexutil.Uint64(stateBlock).String(),
	}
	body, err := json.Marshal(jsonrpcRequest{
		JSONRPC: "2.0", ID: 1, Method: "eth_callBundle", Params: []interface{}{params},
	})
	if err != nil {
		return err
	}
	return b.post(ctx, relay, body)
}
