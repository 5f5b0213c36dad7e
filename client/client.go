// Package client implements the workload generator of §4.6: it packs
// requests into ClientBatches addressed to the believed leader and waits
// for f+1 matching ClientResponses before considering a batch done.
// Request content is produced by a YCSB-style zipfian key generator,
// grounded on the teacher's YCSBClient (benchmark/ycsb.go).
package client

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pingcap/go-ycsb/pkg/generator"

	"hotstuff/configs"
	"hotstuff/message"
	"hotstuff/transport"
)

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

func randValue(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(letters[r.Intn(len(letters))])
	}
	return b
}

// pendingBatch tracks the distinct results seen for one outstanding
// batch, keyed by the response bytes, with the set of replicas that sent
// each one, so the client can recognize f+1 byte-identical copies from
// distinct replicas without trusting any single replica (§4.6).
type pendingBatch struct {
	mu      sync.Mutex
	results map[string]map[uint64]bool
	done    chan []byte
	closed  bool
}

// Client is one YCSB-driven load-generating client.
type Client struct {
	id       uint64
	cfg      *configs.ConsensusConfig
	tp       transport.Transport
	zipfian  *generator.Zipfian
	rng      *rand.Rand
	keySpace uint64
	valueLen int

	nextSeq uint64

	mu      sync.Mutex
	pending map[uint64]*pendingBatch
}

// skewness mirrors the teacher's YCSBDataSkewness constant (benchmark
// package), the standard YCSB zipfian theta of 0.99.
const skewness = 0.99

func New(id uint64, cfg *configs.ConsensusConfig, tp transport.Transport, keySpace uint64, valueLen int) *Client {
	return &Client{
		id:       id,
		cfg:      cfg,
		tp:       tp,
		zipfian:  generator.NewZipfianWithRange(0, int64(keySpace)-1, skewness),
		rng:      rand.New(rand.NewSource(int64(id) + 1)),
		keySpace: keySpace,
		valueLen: valueLen,
		pending:  make(map[uint64]*pendingBatch),
	}
}

// GenerateBatch produces n zipfian-distributed write requests.
func (c *Client) GenerateBatch(n int) []message.Request {
	reqs := make([]message.Request, n)
	for i := 0; i < n; i++ {
		c.nextSeq++
		key := uint64(c.zipfian.Next(c.rng))
		payload := append([]byte(fmt.Sprintf("%d:", key)), randValue(c.rng, c.valueLen)...)
		reqs[i] = message.Request{ClientID: c.id, SeqNo: c.nextSeq, Payload: payload}
	}
	return reqs
}

// SubmitBatch sends reqs to dest (the believed leader) and returns a
// channel that yields the agreed-upon result once f+1 matching
// ClientResponses arrive.
func (c *Client) SubmitBatch(instanceID uint64, dest uint64, reqs []message.Request) (<-chan []byte, error) {
	txnKey := reqs[0].SeqNo
	pb := &pendingBatch{results: make(map[string]map[uint64]bool), done: make(chan []byte, 1)}
	c.mu.Lock()
	c.pending[txnKey] = pb
	c.mu.Unlock()

	msg := &message.ClientBatchMsg{
		Header: message.Header{
			MsgType:    configs.ClientBatch,
			SrcNode:    c.id,
			InstanceID: instanceID,
		},
		Requests: reqs,
	}
	data, err := message.Encode(configs.ClientBatch, msg)
	if err != nil {
		return nil, err
	}
	if err := c.tp.Send(dest, data); err != nil {
		return nil, err
	}
	return pb.done, nil
}

// Run drains ClientResponses off the transport and resolves pending
// batches once a value has been seen from f+1 distinct replicas.
func (c *Client) Run(ctx context.Context) {
	quorum := int(c.cfg.Faulty() + 1)
	for {
		envelopes, err := c.tp.Recv(ctx)
		if err != nil || envelopes == nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		for _, env := range envelopes {
			c.handleEnvelope(env, quorum)
		}
	}
}

func (c *Client) handleEnvelope(env transport.Envelope, quorum int) {
	e, err := message.DecodeEnvelope(env.Payload)
	if err != nil || e.Kind != configs.ClientResp {
		return
	}
	var resp message.ClientResponseMsg
	if err := message.Decode(e.Body, &resp); err != nil {
		return
	}
	for _, result := range resp.Results {
		c.resolve(resp.Header.TxnID, env.From, result, quorum)
	}
}

func (c *Client) resolve(txnKey uint64, from uint64, result []byte, quorum int) {
	c.mu.Lock()
	pb, ok := c.pending[txnKey]
	c.mu.Unlock()
	if !ok {
		return
	}
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.closed {
		return
	}
	senders := pb.results[string(result)]
	if senders == nil {
		senders = make(map[uint64]bool)
		pb.results[string(result)] = senders
	}
	senders[from] = true
	if len(senders) < quorum {
		return
	}
	pb.closed = true
	pb.done <- result
	c.mu.Lock()
	delete(c.pending, txnKey)
	c.mu.Unlock()
}

// WarmupThenRun is a convenience loop that submits one batch per
// interval until duration elapses. It has no separate warmup phase and
// does not read the returned result channels; responses are resolved
// only if Run is draining the transport.
func (c *Client) WarmupThenRun(ctx context.Context, instanceID, leader uint64, batchSize int, interval, duration time.Duration) {
	deadline := time.Now().Add(duration)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch := c.GenerateBatch(batchSize)
			if _, err := c.SubmitBatch(instanceID, leader, batch); err != nil {
				configs.Warn(false, "client: submit failed: "+err.Error())
			}
		}
	}
}
