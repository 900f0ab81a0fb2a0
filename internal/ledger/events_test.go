package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davekale/bankledger/internal/models"
)

func drain(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestEvents_PublishedAfterCommit(t *testing.T) {
	engine, owner := newTestEngine(t)

	ch, cancel := engine.Events().Subscribe(16)
	defer cancel()

	account := openWith(t, engine, owner, "10.00")

	events := drain(ch)
	require.Len(t, events, 2, "account changed + initial deposit posted")
	assert.Equal(t, EventAccountChanged, events[0].Kind)
	assert.Equal(t, account.ID, events[0].Account.ID)
	assert.Equal(t, EventTransactionPosted, events[1].Kind)
	assert.Equal(t, account.ID, events[1].Transaction.AccountID)
}

func TestEvents_NothingOnRejectedOperation(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	account := openWith(t, engine, owner, "10.00")

	ch, cancel := engine.Events().Subscribe(16)
	defer cancel()

	_, err := engine.Withdraw(ctx, owner, account.ID, &models.AmountRequest{Amount: dec("999")})
	require.Error(t, err)

	assert.Empty(t, drain(ch))
}

func TestEvents_TransferEmitsBothLegs(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	from := openWith(t, engine, owner, "100")
	to := openWith(t, engine, owner, "0")

	ch, cancel := engine.Events().Subscribe(16)
	defer cancel()

	_, err := engine.Transfer(ctx, owner, &models.TransferRequest{
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        dec("25"),
	})
	require.NoError(t, err)

	events := drain(ch)
	require.Len(t, events, 4, "two account changes, two posted legs")

	var changed, posted int
	for _, ev := range events {
		switch ev.Kind {
		case EventAccountChanged:
			changed++
		case EventTransactionPosted:
			posted++
		}
	}
	assert.Equal(t, 2, changed)
	assert.Equal(t, 2, posted)
}

func TestEvents_SlowSubscriberNeverBlocks(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	account := openWith(t, engine, owner, "0")

	// Buffer of one; every event past the first is dropped, not queued.
	ch, cancel := engine.Events().Subscribe(1)
	defer cancel()

	for i := 0; i < 5; i++ {
		_, err := engine.Deposit(ctx, owner, account.ID, &models.AmountRequest{Amount: dec("1")})
		require.NoError(t, err)
	}

	assert.Len(t, drain(ch), 1)
}

func TestEvents_CancelClosesChannel(t *testing.T) {
	engine, _ := newTestEngine(t)

	ch, cancel := engine.Events().Subscribe(1)
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Second cancel is a no-op.
	cancel()
}
