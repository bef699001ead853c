// Package notifier implements the event notification service (§4.I): it
// tracks pending subscriptions for transactions, priority ops, and accounts,
// and fires them exactly once as the state keeper seals and later verifies
// blocks. The registry/subscription shape follows the teacher's event bus
// (node/events.go) generalized from a single type-keyed fan-out to three
// entity-keyed registries plus an LRU of already-fired events so a
// subscribe-after-the-fact still gets delivered.
package notifier

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/maps"

	"github.com/matter-labs/zksync-sub003/types"
)

// Action is the commitment level a subscriber is waiting for.
type Action string

const (
	Committed Action = "committed"
	Verified  Action = "verified"
)

// MaxListenersPerEntity bounds how many subscriptions a single entity
// (tx hash, serial id, or account id) can accumulate (§4.I).
const MaxListenersPerEntity = 2048

// Event is delivered to a subscriber exactly once.
type Event struct {
	Action Action
	// Exactly one of TxHash/SerialID/AccountID is populated, matching the
	// registry the subscription was filed under.
	TxHash    types.Hash
	SerialID  types.SerialID
	AccountID types.AccountID
	BlockNum  uint64
}

// Subscription is a single pending wait. Recv blocks until the event fires
// or Unsubscribe is called.
type Subscription struct {
	ID     string
	ch     chan Event
	closed atomic.Bool
	parent *Notifier
}

func (s *Subscription) Chan() <-chan Event { return s.ch }

// Unsubscribe cancels the wait. Safe to call more than once and safe to
// call after the event has already fired (a no-op in that case).
func (s *Subscription) Unsubscribe() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.parent != nil {
		s.parent.forget(s)
	}
	close(s.ch)
}

type listenerList struct {
	mu   sync.Mutex
	subs []*Subscription
}

func (l *listenerList) add(sub *Subscription) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.subs) >= MaxListenersPerEntity {
		return false
	}
	l.subs = append(l.subs, sub)
	return true
}

func (l *listenerList) drain() []*Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.subs
	l.subs = nil
	return out
}

func (l *listenerList) remove(sub *Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.subs {
		if s == sub {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			return
		}
	}
}

// firedCache is a bounded LRU of entities whose event has already fired at
// a given action level, so a late subscribe can be answered immediately
// without ever registering. Unverified block info is never cached (§4.I).
type firedCache struct {
	mu       sync.Mutex
	cap      int
	order    []string
	fired    map[string]Event
}

func newFiredCache(cap int) *firedCache {
	return &firedCache{cap: cap, fired: make(map[string]Event, cap)}
}

func (c *firedCache) record(key string, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.fired[key]; exists {
		c.touch(key)
	} else {
		c.order = append(c.order, key)
		if len(c.order) > c.cap {
			evict := c.order[0]
			c.order = c.order[1:]
			delete(c.fired, evict)
		}
	}
	c.fired[key] = ev
}

func (c *firedCache) lookup(key string) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.fired[key]
	if ok {
		c.touch(key)
	}
	return ev, ok
}

// touch moves key to the most recently used end of order. Callers hold c.mu.
func (c *firedCache) touch(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, key)
}

// registry keys a listenerList map by (entity key, action).
type registry struct {
	mu    sync.Mutex
	lists map[string]*listenerList
}

func newRegistry() *registry { return &registry{lists: make(map[string]*listenerList)} }

func (r *registry) listFor(key string, createIfMissing bool) *listenerList {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lists[key]
	if !ok {
		if !createIfMissing {
			return nil
		}
		l = &listenerList{}
		r.lists[key] = l
	}
	return l
}

func (r *registry) dropIfEmpty(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.lists[key]; ok {
		l.mu.Lock()
		empty := len(l.subs) == 0
		l.mu.Unlock()
		if empty {
			delete(r.lists, key)
		}
	}
}

// Notifier is the §4.I event notification service: three entity-keyed
// registries (tx, priority op, account) crossed with a cache of already-
// fired events per action level.
type Notifier struct {
	txSubs   *registry
	opSubs   *registry
	acctSubs *registry

	txFired   *firedCache
	opFired   *firedCache
	acctFired *firedCache

	subsByID sync.Map // string -> *trackedSub, for Unsubscribe bookkeeping
}

type trackedSub struct {
	reg  *registry
	key  string
	sub  *Subscription
}

// New constructs a Notifier with the given per-entity LRU cache capacity.
func New(cacheCapacity int) *Notifier {
	if cacheCapacity <= 0 {
		cacheCapacity = 4096
	}
	return &Notifier{
		txSubs:    newRegistry(),
		opSubs:    newRegistry(),
		acctSubs:  newRegistry(),
		txFired:   newFiredCache(cacheCapacity),
		opFired:   newFiredCache(cacheCapacity),
		acctFired: newFiredCache(cacheCapacity),
	}
}

func randomSuffix() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func txKey(h types.Hash) string        { return "tx/" + h.Hex() }
func opKey(id types.SerialID) string    { return fmt.Sprintf("op/%d", id) }
func acctKey(id types.AccountID) string { return fmt.Sprintf("acct/%d", id) }

// SubscribeTx waits for tx hash h to reach action. If it has already fired,
// the returned subscription delivers immediately on its channel and is not
// registered for further delivery.
func (n *Notifier) SubscribeTx(h types.Hash, action Action) *Subscription {
	return n.subscribe("txsub", txKey(h)+"/"+string(action), n.txSubs, n.txFired, txKey(h)+"/"+string(action))
}

// SubscribePriorityOp waits for priority op serialID to reach action.
func (n *Notifier) SubscribePriorityOp(serialID types.SerialID, action Action) *Subscription {
	key := opKey(serialID) + "/" + string(action)
	return n.subscribe("eosub", key, n.opSubs, n.opFired, key)
}

// SubscribeAccount waits for account accountID's next update to reach
// action.
func (n *Notifier) SubscribeAccount(accountID types.AccountID, action Action) *Subscription {
	key := acctKey(accountID) + "/" + string(action)
	return n.subscribe("acsub", key, n.acctSubs, n.acctFired, key)
}

func (n *Notifier) subscribe(prefix, registryKey string, reg *registry, cache *firedCache, cacheKey string) *Subscription {
	id := fmt.Sprintf("%s/%s/%s", prefix, randomSuffix(), registryKey)
	sub := &Subscription{ID: id, ch: make(chan Event, 1)}

	if ev, ok := cache.lookup(cacheKey); ok {
		sub.ch <- ev
		sub.closed.Store(true)
		close(sub.ch)
		return sub
	}

	sub.parent = n
	list := reg.listFor(registryKey, true)
	if !list.add(sub) {
		// Over the per-entity cap: deliver nothing further, caller must retry.
		sub.closed.Store(true)
		close(sub.ch)
		return sub
	}
	n.subsByID.Store(id, &trackedSub{reg: reg, key: registryKey, sub: sub})
	return sub
}

func (n *Notifier) forget(sub *Subscription) {
	v, ok := n.subsByID.Load(sub.ID)
	if !ok {
		return
	}
	n.subsByID.Delete(sub.ID)
	ts := v.(*trackedSub)
	if l := ts.reg.listFor(ts.key, false); l != nil {
		l.remove(sub)
		ts.reg.dropIfEmpty(ts.key)
	}
}

// fire delivers ev to every registered subscriber under key in reg, removes
// them, and records the event in cache so future late subscribers still
// see it. Only Verified events (or Committed events once a block is final
// enough the caller trusts it) should be cached per §4.I's "unverified
// block info is never cached" rule; callers decide what to pass here.
func fire(reg *registry, cache *firedCache, key string, ev Event, cacheable bool) {
	if cacheable {
		cache.record(key, ev)
	}
	list := reg.listFor(key, false)
	if list == nil {
		return
	}
	for _, sub := range list.drain() {
		if sub.closed.CompareAndSwap(false, true) {
			sub.ch <- ev
			close(sub.ch)
		}
	}
	reg.dropIfEmpty(key)
}

// NotifyTx fires every subscription waiting on txHash at action.
// Committed notifications are not cached (block can still revert before
// verification); Verified notifications are cached since they are final.
func (n *Notifier) NotifyTx(txHash types.Hash, action Action, blockNum uint64) {
	key := txKey(txHash) + "/" + string(action)
	fire(n.txSubs, n.txFired, key, Event{Action: action, TxHash: txHash, BlockNum: blockNum}, action == Verified)
}

// NotifyPriorityOp fires every subscription waiting on serialID at action.
func (n *Notifier) NotifyPriorityOp(serialID types.SerialID, action Action, blockNum uint64) {
	key := opKey(serialID) + "/" + string(action)
	fire(n.opSubs, n.opFired, key, Event{Action: action, SerialID: serialID, BlockNum: blockNum}, action == Verified)
}

// NotifyAccount fires every subscription waiting on accountID at action.
func (n *Notifier) NotifyAccount(accountID types.AccountID, action Action, blockNum uint64) {
	key := acctKey(accountID) + "/" + string(action)
	fire(n.acctSubs, n.acctFired, key, Event{Action: action, AccountID: accountID, BlockNum: blockNum}, action == Verified)
}

// SealedOp is the minimal per-op information the state keeper hands the
// notifier after sealing a block (§4.I "walks block.transactions").
type SealedOp struct {
	TxHash     types.Hash     // zero for priority ops
	SerialID   types.SerialID // zero for txs
	IsPriority bool
	AccountIDs []types.AccountID // every account this op touched
}

// NotifyBlockCommitted fires Committed notifications for every op and
// touched account in a sealed block, in the order the state keeper applied
// them (§5 ordering guarantee i).
func (n *Notifier) NotifyBlockCommitted(blockNum uint64, ops []SealedOp) {
	n.notifyBlock(blockNum, ops, Committed)
}

// NotifyBlockVerified fires Verified notifications once L1 verification
// lands for a previously committed block (§5 ordering guarantee ii: always
// called after the corresponding NotifyBlockCommitted).
func (n *Notifier) NotifyBlockVerified(blockNum uint64, ops []SealedOp) {
	n.notifyBlock(blockNum, ops, Verified)
}

func (n *Notifier) notifyBlock(blockNum uint64, ops []SealedOp, action Action) {
	for _, op := range ops {
		if op.IsPriority {
			n.NotifyPriorityOp(op.SerialID, action, blockNum)
		} else {
			n.NotifyTx(op.TxHash, action, blockNum)
		}
		for _, acc := range op.AccountIDs {
			n.NotifyAccount(acc, action, blockNum)
		}
	}
}

// listenerCounts reports the current registration count per registry, for
// diagnostics/metrics; it is not part of the notification contract.
func (n *Notifier) listenerCounts() (tx, op, acct int) {
	count := func(r *registry) int {
		r.mu.Lock()
		defer r.mu.Unlock()
		total := 0
		for _, l := range r.lists {
			l.mu.Lock()
			total += len(l.subs)
			l.mu.Unlock()
		}
		return total
	}
	return count(n.txSubs), count(n.opSubs), count(n.acctSubs)
}

// keysSnapshot returns the registry's current keys, in no particular order;
// unexported on purpose since it is not part of the public contract.
func keysSnapshot(r *registry) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Keys(r.lists)
}
