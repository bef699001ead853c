package notifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matter-labs/zksync-sub003/types"
)

func TestSubscribeTxThenNotify(t *testing.T) {
	n := New(0)
	hash := types.Hash{0x01}
	sub := n.SubscribeTx(hash, Committed)

	n.NotifyTx(hash, Committed, 7)

	select {
	case ev := <-sub.Chan():
		require.Equal(t, Committed, ev.Action)
		require.Equal(t, hash, ev.TxHash)
		require.Equal(t, uint64(7), ev.BlockNum)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}

	// Channel should be closed after single delivery.
	_, ok := <-sub.Chan()
	require.False(t, ok)
}

func TestSubscribeAfterEventAlreadyFiredDeliversImmediately(t *testing.T) {
	n := New(0)
	serial := types.SerialID(42)
	n.NotifyPriorityOp(serial, Verified, 3) // Verified is cached

	sub := n.SubscribePriorityOp(serial, Verified)
	select {
	case ev := <-sub.Chan():
		require.Equal(t, serial, ev.SerialID)
		require.Equal(t, Verified, ev.Action)
	case <-time.After(time.Second):
		t.Fatal("expected immediate delivery from fired cache")
	}
}

func TestCommittedEventsAreNotCached(t *testing.T) {
	n := New(0)
	hash := types.Hash{0x02}
	n.NotifyTx(hash, Committed, 1)

	// A late subscribe for Committed must NOT be answered from cache since
	// committed-but-unverified state can still change (§4.I).
	sub := n.SubscribeTx(hash, Committed)
	select {
	case ev := <-sub.Chan():
		t.Fatalf("unexpected immediate delivery for uncached committed event: %v", ev)
	case <-time.After(50 * time.Millisecond):
		// Expected: still pending.
	}
	sub.Unsubscribe()
}

func TestUnsubscribeRemovesRegistration(t *testing.T) {
	n := New(0)
	acc := types.AccountID(5)
	sub := n.SubscribeAccount(acc, Committed)

	txCount, opCount, acctCount := n.listenerCounts()
	require.Equal(t, 0, txCount)
	require.Equal(t, 0, opCount)
	require.Equal(t, 1, acctCount)

	sub.Unsubscribe()
	_, opCount2, acctCount2 := n.listenerCounts()
	require.Equal(t, 0, opCount2)
	require.Equal(t, 0, acctCount2)

	// Double unsubscribe must not panic.
	sub.Unsubscribe()
}

func TestNotifyBlockCommittedWalksOpsAndAccounts(t *testing.T) {
	n := New(0)
	txHash := types.Hash{0x03}
	acc := types.AccountID(9)
	txSub := n.SubscribeTx(txHash, Committed)
	acctSub := n.SubscribeAccount(acc, Committed)

	n.NotifyBlockCommitted(10, []SealedOp{
		{TxHash: txHash, AccountIDs: []types.AccountID{acc}},
	})

	select {
	case ev := <-txSub.Chan():
		require.Equal(t, uint64(10), ev.BlockNum)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tx notification")
	}
	select {
	case ev := <-acctSub.Chan():
		require.Equal(t, acc, ev.AccountID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for account notification")
	}
}

func TestPriorityOpOrderedBySerialID(t *testing.T) {
	n := New(0)
	var fired []types.SerialID
	subs := make([]*Subscription, 3)
	for i, serial := range []types.SerialID{1, 2, 3} {
		subs[i] = n.SubscribePriorityOp(serial, Committed)
	}
	n.NotifyBlockCommitted(1, []SealedOp{
		{IsPriority: true, SerialID: 1},
		{IsPriority: true, SerialID: 2},
		{IsPriority: true, SerialID: 3},
	})
	for _, sub := range subs {
		select {
		case ev := <-sub.Chan():
			fired = append(fired, ev.SerialID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for priority op notification")
		}
	}
	require.Equal(t, []types.SerialID{1, 2, 3}, fired)
}

func TestListenerCapRejectsExcessSubscriptions(t *testing.T) {
	n := New(0)
	hash := types.Hash{0x04}
	for i := 0; i < MaxListenersPerEntity; i++ {
		sub := n.SubscribeTx(hash, Committed)
		require.False(t, sub.closed.Load())
	}
	overflow := n.SubscribeTx(hash, Committed)
	require.True(t, overflow.closed.Load())
}

func TestSubscriptionIDShape(t *testing.T) {
	n := New(0)
	sub := n.SubscribeTx(types.Hash{0x05}, Committed)
	require.Contains(t, sub.ID, "txsub/")
	require.Contains(t, sub.ID, "committed")
	sub.Unsubscribe()

	accSub := n.SubscribeAccount(types.AccountID(1), Verified)
	require.Contains(t, accSub.ID, "acsub/")
	accSub.Unsubscribe()

	opSub := n.SubscribePriorityOp(types.SerialID(1), Committed)
	require.Contains(t, opSub.ID, "eosub/")
	opSub.Unsubscribe()
}
