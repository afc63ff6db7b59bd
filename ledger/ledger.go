package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ROks-fin/Deltran-MVP-sub002/crypto"
	"github.com/ROks-fin/Deltran-MVP-sub002/money"
	"github.com/ROks-fin/Deltran-MVP-sub002/params"
	"github.com/ROks-fin/Deltran-MVP-sub002/protocol"
	"github.com/google/uuid"
)

// Validator is a local checkpoint signer. Deployments that only observe the
// validator set leave this empty and verify through the keyring instead.
type Validator struct {
	ID    string
	Epoch uint32
	Key   *crypto.KeyPair
}

// Config holds the wiring for a Ledger.
type Config struct {
	// Store is the ordered KV store holding every ledger namespace.
	Store Store

	// Params supplies batching and checkpoint tunables.
	Params *params.Params

	// NodeKey signs every event this node appends.
	NodeKey *crypto.KeyPair

	// HSM is the coordinator signing device for checkpoints.
	HSM crypto.HSM

	// Keyring resolves validator public keys during verification.
	Keyring *crypto.Keyring

	// Validators are the local checkpoint signers.
	Validators []Validator

	// BlockOnFull selects the backpressure policy: true blocks the
	// producer until the batcher drains, false fails fast with
	// ErrLedgerFull.
	BlockOnFull bool
}

// headInfo caches a payment's chain tip.
type headInfo struct {
	seq    uint64
	lastID uuid.UUID
	state  protocol.State
}

// appendReq carries one event through the batch channel.
type appendReq struct {
	ev     *Event
	seq    uint64
	result chan error
}

// checkpointReq asks the batcher to cut a checkpoint at the current height.
type checkpointReq struct {
	authorized []string
	summary    *BatchSummary
	result     chan checkpointResp
}

type checkpointResp struct {
	ckpt *Checkpoint
	err  error
}

// pendingLeaf accumulates checkpoint material between checkpoints.
type pendingLeaf struct {
	paymentID uuid.UUID
	hash      crypto.Hash
	amount    money.Amount
	bank      string
	counter   string
	currency  string
}

// Ledger is the durable append-only event store: per-payment hash chains,
// batched atomic writes, block aggregation and BFT-signed checkpoints. A
// single batcher task owns the write path; producers enqueue through a
// bounded channel and block until their batch commits.
type Ledger struct {
	cfg Config

	headsMtx sync.RWMutex
	heads    map[uuid.UUID]headInfo

	batchCh chan *appendReq
	ckptCh  chan *checkpointReq

	quit chan struct{}
	wg   sync.WaitGroup

	// tip is the newest committed height; written only by the batcher,
	// read concurrently.
	tip atomic.Uint64

	// Batcher-owned state; never touched outside the batcher goroutine
	// after Start.
	tipHeight     uint64
	prevBlockHash crypto.Hash
	appHash       crypto.Hash
	eventCount    uint64
	lastCkptID    uuid.UUID
	sinceCkpt     uint64
	pending       []pendingLeaf

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a Ledger over the given store, restoring tip state from the
// meta namespace when present.
func New(cfg Config) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, ledgerError(ErrStorageUnavailable, "ledger requires a store")
	}
	if cfg.Params == nil {
		return nil, ledgerError(ErrStorageUnavailable, "ledger requires params")
	}
	if cfg.NodeKey == nil {
		return nil, ledgerError(ErrSignatureInvalid, "ledger requires a node key")
	}

	l := &Ledger{
		cfg:     cfg,
		heads:   make(map[uuid.UUID]headInfo),
		batchCh: make(chan *appendReq, cfg.Params.LedgerChannelDepth),
		ckptCh:  make(chan *checkpointReq),
		quit:    make(chan struct{}),
	}

	if err := l.restore(); err != nil {
		return nil, err
	}
	l.tip.Store(l.tipHeight)
	return l, nil
}

// restore loads tip height, app hash and counters from the meta namespace.
func (l *Ledger) restore() error {
	if v, err := l.cfg.Store.Get(metaTipHeight); err == nil {
		l.tipHeight = decodeU64(v)
		blk, err := l.Block(l.tipHeight)
		if err != nil {
			return err
		}
		l.prevBlockHash = blk.Hash
	} else if !IsErrorCode(err, ErrNotFound) {
		return err
	}
	if v, err := l.cfg.Store.Get(metaAppHash); err == nil && len(v) == 32 {
		copy(l.appHash[:], v)
	}
	if v, err := l.cfg.Store.Get(metaEventCount); err == nil {
		l.eventCount = decodeU64(v)
	}
	if v, err := l.cfg.Store.Get(metaLastCheckpointID); err == nil && len(v) == 16 {
		copy(l.lastCkptID[:], v)
	}
	return nil
}

// Start launches the batcher task.
func (l *Ledger) Start() {
	l.startOnce.Do(func() {
		l.wg.Add(1)
		go l.batchHandler()
		log.Infof("Ledger started at height %d (%d events)", l.tipHeight, l.eventCount)
	})
}

// Stop shuts the batcher down. Pending appends fail with ErrShutdown.
func (l *Ledger) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
		l.wg.Wait()
		log.Infof("Ledger stopped at height %d", l.tipHeight)
	})
}

// headLocked returns the cached chain tip for a payment, loading it from the store
// index on a cache miss. Callers hold headsMtx.
func (l *Ledger) headLocked(paymentID uuid.UUID) (headInfo, bool, error) {
	if h, ok := l.heads[paymentID]; ok {
		return h, true, nil
	}

	// Cache miss: the newest index row decides the tip.
	it := l.cfg.Store.Scan(paymentPrefix(paymentID))
	defer it.Release()

	var (
		found  bool
		lastID uuid.UUID
		seq    uint64
	)
	for it.Next() {
		found = true
		key := it.Key()
		seq = decodeU64(key[len(key)-8:])
		copy(lastID[:], it.Value())
	}
	if err := it.Error(); err != nil {
		return headInfo{}, false, ledgerError(ErrStorageUnavailable,
			fmt.Sprintf("scan payment %s: %v", paymentID, err))
	}
	if !found {
		return headInfo{}, false, nil
	}

	raw, err := l.cfg.Store.Get(eventKey(lastID))
	if err != nil {
		return headInfo{}, false, err
	}
	ev, err := DeserializeEvent(raw)
	if err != nil {
		return headInfo{}, false, err
	}

	h := headInfo{seq: seq, lastID: lastID, state: ev.Type}
	l.heads[paymentID] = h
	return h, true, nil
}

// Append validates ev against the payment's chain and state machine, signs
// it, and enqueues it for the next batch. The call blocks until the batch
// commits; the event then sits in a sealed block.
func (l *Ledger) Append(ctx context.Context, ev *Event) error {
	l.headsMtx.Lock()
	head, exists, err := l.headLocked(ev.PaymentID)
	if err != nil {
		l.headsMtx.Unlock()
		return err
	}

	// Chain validation: previous must match the live tip exactly.
	switch {
	case !exists:
		if ev.PreviousEvent != nil {
			l.headsMtx.Unlock()
			return ledgerError(ErrChainBroken,
				fmt.Sprintf("payment %s: first event references previous %s",
					ev.PaymentID, *ev.PreviousEvent))
		}
		if ev.Type != protocol.StatePaymentInitiated {
			l.headsMtx.Unlock()
			return protocol.RuleError{
				ErrorCode: protocol.ErrInvalidStateTransition,
				Description: fmt.Sprintf("payment %s: chain must start with PaymentInitiated, got %v",
					ev.PaymentID, ev.Type),
			}
		}
	default:
		if ev.PreviousEvent == nil || *ev.PreviousEvent != head.lastID {
			l.headsMtx.Unlock()
			return ledgerError(ErrChainBroken,
				fmt.Sprintf("payment %s: previous event mismatch (tip %s)",
					ev.PaymentID, head.lastID))
		}
		machine := protocol.MachineAt(head.state)
		if err := machine.Transition(ev.Type); err != nil {
			l.headsMtx.Unlock()
			return err
		}
	}

	// Position assigned; sign over the final canonical bytes.
	seq := uint64(0)
	if exists {
		seq = head.seq + 1
	}
	if ev.TimestampNanos == 0 {
		ev.TimestampNanos = time.Now().UnixNano()
	}
	ev.Sign(l.cfg.NodeKey)

	// Publish the pending head so chained appends validate against this
	// event before it commits. A failed enqueue or aborted batch drops
	// the cache entry, forcing a reload from durable state.
	l.heads[ev.PaymentID] = headInfo{seq: seq, lastID: ev.EventID, state: ev.Type}
	l.headsMtx.Unlock()

	req := &appendReq{ev: ev, seq: seq, result: make(chan error, 1)}
	if err := l.enqueue(ctx, req); err != nil {
		l.dropHead(ev.PaymentID)
		return err
	}

	select {
	case err := <-req.result:
		if err != nil {
			l.dropHead(ev.PaymentID)
		}
		return err
	case <-ctx.Done():
		// The batch may still commit; drop the cache so the next
		// append resolves against durable state.
		l.dropHead(ev.PaymentID)
		return ctx.Err()
	case <-l.quit:
		l.dropHead(ev.PaymentID)
		return ledgerError(ErrShutdown, "ledger stopped before append committed")
	}
}

func (l *Ledger) enqueue(ctx context.Context, req *appendReq) error {
	if l.cfg.BlockOnFull {
		select {
		case l.batchCh <- req:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-l.quit:
			return ledgerError(ErrShutdown, "ledger stopped")
		}
	}
	select {
	case l.batchCh <- req:
		return nil
	case <-l.quit:
		return ledgerError(ErrShutdown, "ledger stopped")
	default:
		return ledgerError(ErrLedgerFull,
			fmt.Sprintf("batch channel at capacity %d", cap(l.batchCh)))
	}
}

func (l *Ledger) dropHead(paymentID uuid.UUID) {
	l.headsMtx.Lock()
	delete(l.heads, paymentID)
	l.headsMtx.Unlock()
}

// batchHandler is the single writer task. It gathers enqueued events into
// batches bounded by size and age, commits each batch with its block in one
// atomic store write, and cuts checkpoints on schedule and on demand.
func (l *Ledger) batchHandler() {
	defer l.wg.Done()

	for {
		select {
		case req := <-l.batchCh:
			batch := l.collectBatch(req)
			l.commitBatch(batch)
		case ckpt := <-l.ckptCh:
			l.produceCheckpoint(ckpt)
		case <-l.quit:
			// Drain whatever is already enqueued so producers are
			// not left hanging, then stop.
			for {
				select {
				case req := <-l.batchCh:
					req.result <- ledgerError(ErrShutdown, "ledger stopped")
				default:
					return
				}
			}
		}
	}
}

// collectBatch gathers events until the batch is full or the timeout since
// the first enqueued event fires. Order within the batch is arrival order.
func (l *Ledger) collectBatch(first *appendReq) []*appendReq {
	batch := []*appendReq{first}
	timer := time.NewTimer(l.cfg.Params.BatchTimeout)
	defer timer.Stop()

	for len(batch) < l.cfg.Params.MaxBatchSize {
		select {
		case req := <-l.batchCh:
			batch = append(batch, req)
		case <-timer.C:
			return batch
		case <-l.quit:
			return batch
		}
	}
	return batch
}

// commitBatch writes event blobs, index rows, the sealed block and meta in
// one atomic store write, then wakes every producer in the batch.
func (l *Ledger) commitBatch(batch []*appendReq) {
	height := l.tipHeight + 1

	leaves := make([]crypto.Hash, 0, len(batch))
	eventIDs := make([]uuid.UUID, 0, len(batch))
	puts := make([]KV, 0, len(batch)*2+4)

	for _, req := range batch {
		req.ev.BlockHeight = &height
		h := req.ev.Hash()
		leaves = append(leaves, h)
		eventIDs = append(eventIDs, req.ev.EventID)
		puts = append(puts, KV{Key: eventKey(req.ev.EventID), Value: req.ev.Serialize()})
		idxVal := make([]byte, 16)
		copy(idxVal, req.ev.EventID[:])
		puts = append(puts, KV{Key: paymentSeqKey(req.ev.PaymentID, req.seq), Value: idxVal})
	}

	blk := &Block{
		Height:         height,
		PrevHash:       l.prevBlockHash,
		MerkleRoot:     crypto.MerkleRoot(leaves),
		TimestampNanos: time.Now().UnixNano(),
		EventIDs:       eventIDs,
	}
	blk.Seal()

	newAppHash := crypto.HashSHA3(append(l.appHash[:], blk.Hash[:]...))
	newCount := l.eventCount + uint64(len(batch))

	puts = append(puts,
		KV{Key: blockKey(height), Value: blk.Serialize()},
		KV{Key: metaTipHeight, Value: encodeU64(height)},
		KV{Key: metaAppHash, Value: newAppHash[:]},
		KV{Key: metaEventCount, Value: encodeU64(newCount)},
	)

	if err := l.cfg.Store.WriteBatch(puts); err != nil {
		log.Errorf("Batch commit failed at height %d: %v", height, err)
		abort := ledgerError(ErrBatchAborted,
			fmt.Sprintf("batch at height %d aborted: %v", height, err))
		for _, req := range batch {
			req.result <- abort
		}
		return
	}

	l.tipHeight = height
	l.tip.Store(height)
	l.prevBlockHash = blk.Hash
	l.appHash = newAppHash
	l.eventCount = newCount
	l.sinceCkpt++

	for i, req := range batch {
		l.pending = append(l.pending, pendingLeaf{
			paymentID: req.ev.PaymentID,
			hash:      leaves[i],
			amount:    req.ev.Amount,
			bank:      req.ev.DebtorBIC,
			counter:   req.ev.CreditorBIC,
			currency:  req.ev.Currency,
		})
		req.result <- nil
	}

	log.Debugf("Committed block %d with %d events (merkle %s)",
		height, len(batch), blk.MerkleRoot)

	if l.sinceCkpt >= l.cfg.Params.CheckpointInterval {
		if _, err := l.cutCheckpoint(nil, nil); err != nil {
			log.Errorf("Scheduled checkpoint at height %d failed: %v", height, err)
		}
	}
}

// produceCheckpoint services an on-demand checkpoint request.
func (l *Ledger) produceCheckpoint(req *checkpointReq) {
	ckpt, err := l.cutCheckpoint(req.authorized, req.summary)
	req.result <- checkpointResp{ckpt: ckpt, err: err}
}

// cutCheckpoint builds, signs and persists a checkpoint over every event
// accumulated since the previous checkpoint. Runs on the batcher task.
func (l *Ledger) cutCheckpoint(authorized []string, summary *BatchSummary) (*Checkpoint, error) {
	leaves := make([]crypto.Hash, len(l.pending))
	for i, p := range l.pending {
		leaves[i] = p.hash
	}
	tree := crypto.BuildMerkleTree(leaves)

	ckpt := &Checkpoint{
		CheckpointID:     protocol.NewID(),
		Height:           l.tipHeight,
		PrevCheckpointID: l.lastCkptID,
		AppHash:          l.appHash,
		MerkleRoot:       tree.Root(),
		GeneratedAtNanos: time.Now().UnixNano(),
	}
	if authorized != nil {
		ckpt.AuthorizedParties = authorized
	}
	if summary != nil {
		ckpt.Summary = *summary
	} else {
		ckpt.Summary = l.defaultSummary()
	}

	for i, p := range l.pending {
		proof, err := tree.Prove(i)
		if err != nil {
			return nil, ledgerError(ErrMerkleProofInvalid,
				fmt.Sprintf("checkpoint at height %d: %v", l.tipHeight, err))
		}
		ckpt.MerklePaths = append(ckpt.MerklePaths, PaymentPath{
			PaymentID: p.paymentID,
			LeafHash:  proof.LeafHash,
			LeafIndex: proof.LeafIndex,
			Siblings:  proof.Siblings,
		})
	}

	for _, v := range l.cfg.Validators {
		ckpt.AddValidatorSignature(v.ID, v.Epoch, v.Key)
	}
	if l.cfg.HSM != nil {
		if err := ckpt.SignHSM(l.cfg.HSM); err != nil {
			return nil, err
		}
	}

	puts := []KV{
		{Key: checkpointKey(ckpt.Height), Value: ckpt.Serialize()},
		{Key: metaLastCheckpointID, Value: ckpt.CheckpointID[:]},
	}
	if err := l.cfg.Store.WriteBatch(puts); err != nil {
		return nil, err
	}

	l.lastCkptID = ckpt.CheckpointID
	l.sinceCkpt = 0
	l.pending = l.pending[:0]

	log.Infof("Checkpoint %s cut at height %d (%d payments, %d validator sigs)",
		ckpt.CheckpointID, ckpt.Height, len(ckpt.MerklePaths), len(ckpt.ValidatorSigs))
	return ckpt, nil
}

// defaultSummary summarizes the pending leaves when the caller supplies no
// window-level summary.
func (l *Ledger) defaultSummary() BatchSummary {
	banks := make(map[string]struct{})
	gross := money.Zero
	currency := ""
	for _, p := range l.pending {
		banks[p.bank] = struct{}{}
		banks[p.counter] = struct{}{}
		gross = gross.Add(p.amount)
		if currency == "" {
			currency = p.currency
		}
	}
	return BatchSummary{
		Currency:     currency,
		PaymentCount: uint32(len(l.pending)),
		BankCount:    uint32(len(banks)),
		GrossAmount:  gross,
	}
}

// Checkpoint cuts a checkpoint on demand, covering everything since the last
// one. The call suspends until the batcher services it.
func (l *Ledger) Checkpoint(ctx context.Context, authorized []string, summary *BatchSummary) (*Checkpoint, error) {
	req := &checkpointReq{
		authorized: authorized,
		summary:    summary,
		result:     make(chan checkpointResp, 1),
	}
	select {
	case l.ckptCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.quit:
		return nil, ledgerError(ErrShutdown, "ledger stopped")
	}
	select {
	case resp := <-req.result:
		return resp.ckpt, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.quit:
		return nil, ledgerError(ErrShutdown, "ledger stopped")
	}
}

// Quorum returns the validator-signature quorum for the registered validator
// set size n.
func (l *Ledger) Quorum(n int) int {
	return params.Quorum(n)
}

// Event fetches one event by id.
func (l *Ledger) Event(id uuid.UUID) (*Event, error) {
	raw, err := l.cfg.Store.Get(eventKey(id))
	if err != nil {
		return nil, err
	}
	return DeserializeEvent(raw)
}

// Block fetches one block by height.
func (l *Ledger) Block(height uint64) (*Block, error) {
	raw, err := l.cfg.Store.Get(blockKey(height))
	if err != nil {
		return nil, err
	}
	return DeserializeBlock(raw)
}

// CheckpointAt fetches the checkpoint stored at a height.
func (l *Ledger) CheckpointAt(height uint64) (*Checkpoint, error) {
	raw, err := l.cfg.Store.Get(checkpointKey(height))
	if err != nil {
		return nil, err
	}
	return DeserializeCheckpoint(raw)
}

// TipHeight returns the height of the newest committed block.
func (l *Ledger) TipHeight() uint64 {
	return l.tip.Load()
}

// Head returns the newest event id and state for a payment.
func (l *Ledger) Head(paymentID uuid.UUID) (uuid.UUID, protocol.State, error) {
	l.headsMtx.Lock()
	defer l.headsMtx.Unlock()
	h, ok, err := l.headLocked(paymentID)
	if err != nil {
		return uuid.UUID{}, 0, err
	}
	if !ok {
		return uuid.UUID{}, 0, ledgerError(ErrNotFound,
			fmt.Sprintf("payment %s has no events", paymentID))
	}
	return h.lastID, h.state, nil
}

// PaymentEvents returns the full event chain for a payment in sequence
// order.
func (l *Ledger) PaymentEvents(paymentID uuid.UUID) ([]*Event, error) {
	it := l.cfg.Store.Scan(paymentPrefix(paymentID))
	defer it.Release()

	var events []*Event
	for it.Next() {
		var id uuid.UUID
		copy(id[:], it.Value())
		ev, err := l.Event(id)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := it.Error(); err != nil {
		return nil, ledgerError(ErrStorageUnavailable,
			fmt.Sprintf("scan payment %s: %v", paymentID, err))
	}
	return events, nil
}

// VerifyPaymentChain walks a payment's chain, checking contiguity of the
// previous-event links and that the chain roots at an initiation event.
func (l *Ledger) VerifyPaymentChain(paymentID uuid.UUID) error {
	events, err := l.PaymentEvents(paymentID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return ledgerError(ErrNotFound, fmt.Sprintf("payment %s has no events", paymentID))
	}
	if events[0].Type != protocol.StatePaymentInitiated || events[0].PreviousEvent != nil {
		return ledgerError(ErrChainBroken,
			fmt.Sprintf("payment %s: chain not rooted at initiation", paymentID))
	}
	for i := 1; i < len(events); i++ {
		prev := events[i].PreviousEvent
		if prev == nil || *prev != events[i-1].EventID {
			return ledgerError(ErrChainBroken,
				fmt.Sprintf("payment %s: chain break at sequence %d", paymentID, i))
		}
	}
	return nil
}

// EventCursor lazily walks events by block height. Cursors are finite and
// restartable: construct a new cursor from the last seen height to resume.
type EventCursor struct {
	l       *Ledger
	height  uint64
	end     uint64
	buffer  []*Event
	nextIdx int
	err     error
}

// EventsByHeight returns a cursor over [from, to] block heights.
func (l *Ledger) EventsByHeight(from, to uint64) *EventCursor {
	return &EventCursor{l: l, height: from, end: to}
}

// Next advances the cursor, returning false at the end of the range or on
// error.
func (c *EventCursor) Next() bool {
	if c.err != nil {
		return false
	}
	for c.nextIdx >= len(c.buffer) {
		if c.height > c.end {
			return false
		}
		blk, err := c.l.Block(c.height)
		if err != nil {
			if IsErrorCode(err, ErrNotFound) {
				return false
			}
			c.err = err
			return false
		}
		c.buffer = c.buffer[:0]
		for _, id := range blk.EventIDs {
			ev, err := c.l.Event(id)
			if err != nil {
				c.err = err
				return false
			}
			c.buffer = append(c.buffer, ev)
		}
		c.nextIdx = 0
		c.height++
	}
	c.nextIdx++
	return true
}

// Event returns the event the cursor currently points at.
func (c *EventCursor) Event() *Event {
	return c.buffer[c.nextIdx-1]
}

// Err returns the first error the cursor hit, if any.
func (c *EventCursor) Err() error {
	return c.err
}
