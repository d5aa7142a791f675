package lending

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"BookNet-backend/internal/platform/keylock"
	"BookNet-backend/internal/platform/notify"
	"BookNet-backend/internal/platform/page"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertAPIError(t *testing.T, err error, code Code, reason Reason) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, CodeOf(err), err.Error())
	assert.Equal(t, reason, ReasonOf(err), err.Error())
}

func TestLedger_FullScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Borrow(ctx, "b1", bob)
	require.NoError(t, err)
	assert.Equal(t, StateActive, rec.State)
	assert.Equal(t, alice, rec.OwnerID)
	assert.Len(t, rec.ID, 26)

	_, err = f.svc.Borrow(ctx, "b1", carol)
	assertAPIError(t, err, CodeConflict, ReasonAlreadyBorrowed)

	_, err = f.svc.Borrow(ctx, "b1", alice)
	assertAPIError(t, err, CodeForbidden, ReasonOwnBook)

	_, err = f.svc.ReturnBook(ctx, "b1", carol)
	assertAPIError(t, err, CodeForbidden, ReasonNotBorrower)

	_, err = f.svc.ApproveReturn(ctx, "b1", alice)
	assertAPIError(t, err, CodeConflict, ReasonNotYetReturned)

	ret, err := f.svc.ReturnBook(ctx, "b1", bob)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, ret.ID)
	assert.Equal(t, StateReturned, ret.State)
	require.NotNil(t, ret.ReturnedAt)

	_, err = f.svc.ReturnBook(ctx, "b1", bob)
	assertAPIError(t, err, CodeConflict, ReasonAlreadyReturned)

	_, err = f.svc.Borrow(ctx, "b1", carol)
	assertAPIError(t, err, CodeConflict, ReasonAlreadyBorrowed)

	_, err = f.svc.ApproveReturn(ctx, "b1", bob)
	assertAPIError(t, err, CodeForbidden, ReasonNotOwner)

	appr, err := f.svc.ApproveReturn(ctx, "b1", alice)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, appr.ID)
	assert.Equal(t, StateApproved, appr.State)

	// 2回目の承認は冪等な拒否
	_, err = f.svc.ApproveReturn(ctx, "b1", alice)
	assertAPIError(t, err, CodeConflict, ReasonNotYetReturned)

	// 承認後は再び借りられる
	again, err := f.svc.Borrow(ctx, "b1", carol)
	require.NoError(t, err)
	assert.NotEqual(t, rec.ID, again.ID)
	assert.Greater(t, again.ID, rec.ID)

	stored, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, stored.State)
	require.NotNil(t, stored.ApprovedAt)

	assert.Equal(t, []notify.Kind{
		notify.KindBookBorrowed, notify.KindBookReturned, notify.KindReturnApproved, notify.KindBookBorrowed,
	}, f.pub.kinds())
	assert.Equal(t, []string{alice}, f.pub.events[0].Recipients)
	assert.Equal(t, []string{bob}, f.pub.events[2].Recipients)
	assert.Equal(t, "title-b1", f.pub.events[0].BookTitle)
}

func TestLedger_BorrowValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Borrow(ctx, "", bob)
	assertAPIError(t, err, CodeInvalidArgument, ReasonMissingID)

	_, err = f.svc.Borrow(ctx, "b1", " ")
	assertAPIError(t, err, CodeInvalidArgument, ReasonMissingID)

	_, err = f.svc.Borrow(ctx, "missing", bob)
	assertAPIError(t, err, CodeNotFound, ReasonBookNotFound)

	_, err = f.svc.ReturnBook(ctx, "b1", bob)
	assertAPIError(t, err, CodeNotFound, ReasonNoActiveLoan)
}

func TestLedger_NonLendableBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Borrow(ctx, "b1", bob)
	require.NoError(t, err)

	// 貸出中にアーカイブしても既存の貸出は続けられる
	res, err := f.svc.ToggleArchived(ctx, "b1", alice)
	require.NoError(t, err)
	assert.True(t, res.Archived)

	_, err = f.svc.ReturnBook(ctx, "b1", bob)
	require.NoError(t, err)
	_, err = f.svc.ApproveReturn(ctx, "b1", alice)
	require.NoError(t, err)

	_, err = f.svc.Borrow(ctx, "b1", carol)
	assertAPIError(t, err, CodeConflict, ReasonNotShareable)

	// 所有者は常に Forbidden
	_, err = f.svc.Borrow(ctx, "b1", alice)
	assertAPIError(t, err, CodeForbidden, ReasonOwnBook)

	_, err = f.svc.ToggleShareable(ctx, "b2", alice)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, "b2", carol)
	assertAPIError(t, err, CodeConflict, ReasonNotShareable)
}

func TestLedger_Toggles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ToggleShareable(ctx, "b1", bob)
	assertAPIError(t, err, CodeForbidden, ReasonNotOwner)
	_, err = f.svc.ToggleArchived(ctx, "b1", bob)
	assertAPIError(t, err, CodeForbidden, ReasonNotOwner)
	_, err = f.svc.ToggleArchived(ctx, "missing", alice)
	assertAPIError(t, err, CodeNotFound, ReasonBookNotFound)

	res, err := f.svc.ToggleShareable(ctx, "b1", alice)
	require.NoError(t, err)
	assert.False(t, res.Shareable)
	assert.False(t, f.books.book("b1").Shareable)

	res, err = f.svc.ToggleShareable(ctx, "b1", alice)
	require.NoError(t, err)
	assert.True(t, res.Shareable)
	assert.True(t, f.books.book("b1").Shareable)

	assert.NoError(t, f.svc.Authorize(ctx, ActionUpdateBook, "b1", alice))
	assertAPIError(t, f.svc.Authorize(ctx, ActionUpdateBook, "b1", bob), CodeForbidden, ReasonNotOwner)
}

func TestLedger_ConcurrentBorrowOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 64
	var (
		wg        sync.WaitGroup
		success   atomic.Int32
		conflicts atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.svc.Borrow(ctx, "b1", fmt.Sprintf("user-%d", i))
			if err == nil {
				success.Add(1)
				return
			}
			if CodeOf(err) == CodeConflict && ReasonOf(err) == ReasonAlreadyBorrowed {
				conflicts.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Equal(t, int32(n-1), conflicts.Load())

	open, total, err := f.store.List(ctx, ListQuery{BookID: "b1", States: []State{StateActive, StateReturned}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, open, 1)
}

// プロセス内ロックを共有しない2台でも、ストア側の一意性で1件に収まる
func TestLedger_ConcurrentBorrowAcrossLockers(t *testing.T) {
	store := NewMemStore()
	books := newFakeRegistry(lendableBook("b1", alice))
	svcA := NewService(store, books, WithLocker(keylock.New()))
	svcB := NewService(store, books, WithLocker(keylock.New()))
	ctx := context.Background()

	const n = 32
	var (
		wg      sync.WaitGroup
		success atomic.Int32
		other   atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc := svcA
			if i%2 == 1 {
				svc = svcB
			}
			_, err := svc.Borrow(ctx, "b1", fmt.Sprintf("user-%d", i))
			switch {
			case err == nil:
				success.Add(1)
			case CodeOf(err) == CodeConflict && ReasonOf(err) == ReasonAlreadyBorrowed:
			default:
				other.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Zero(t, other.Load())
}

func TestLedger_DifferentBooksDoNotBlock(t *testing.T) {
	locks := keylock.New()
	f := newFixture(t, WithLocker(locks), WithLockTimeout(50*time.Millisecond))
	ctx := context.Background()

	unlock, err := locks.Lock(ctx, "b1", 0)
	require.NoError(t, err)
	defer unlock()

	_, err = f.svc.Borrow(ctx, "b2", bob)
	assert.NoError(t, err)
}

func TestLedger_LockTimeout(t *testing.T) {
	locks := keylock.New()
	f := newFixture(t, WithLocker(locks), WithLockTimeout(20*time.Millisecond))
	ctx := context.Background()

	unlock, err := locks.Lock(ctx, "b1", 0)
	require.NoError(t, err)

	_, err = f.svc.Borrow(ctx, "b1", bob)
	assertAPIError(t, err, CodeTimeout, ReasonLockTimeout)
	assert.Equal(t, http.StatusServiceUnavailable, ToHTTPStatus(err))

	unlock()
	_, total, err := f.store.List(ctx, ListQuery{BookID: "b1"})
	require.NoError(t, err)
	assert.Zero(t, total)

	_, err = f.svc.Borrow(ctx, "b1", bob)
	assert.NoError(t, err)
}

func TestLedger_CanceledWhileWaiting(t *testing.T) {
	locks := keylock.New()
	f := newFixture(t, WithLocker(locks), WithLockTimeout(time.Second))

	unlock, err := locks.Lock(context.Background(), "b1", 0)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = f.svc.Borrow(ctx, "b1", bob)
	assertAPIError(t, err, CodeTimeout, ReasonCanceled)

	_, total, err := f.store.List(context.Background(), ListQuery{BookID: "b1"})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestLedger_StoreTimeout(t *testing.T) {
	f := newFixture(t, WithStoreTimeout(20*time.Millisecond))
	f.books.block = true

	_, err := f.svc.Borrow(context.Background(), "b1", bob)
	assertAPIError(t, err, CodeTimeout, ReasonStoreTimeout)
}

func TestLedger_Projections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Borrow(ctx, "b1", bob)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, "b2", bob)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, "b3", carol)
	require.NoError(t, err)
	_, err = f.svc.ReturnBook(ctx, "b2", bob)
	require.NoError(t, err)

	active, err := f.svc.ListActiveLoansFor(ctx, bob, page.Request{})
	require.NoError(t, err)
	require.Len(t, active.Content, 1)
	assert.Equal(t, "b1", active.Content[0].BookID)
	assert.Equal(t, "title-b1", active.Content[0].Title)
	assert.False(t, active.Content[0].Returned)
	assert.True(t, active.First)
	assert.True(t, active.Last)

	waiting, err := f.svc.ListLoansAwaitingApprovalFor(ctx, alice, page.Request{})
	require.NoError(t, err)
	require.Len(t, waiting.Content, 1)
	assert.Equal(t, "b2", waiting.Content[0].BookID)
	assert.True(t, waiting.Content[0].Returned)
	assert.False(t, waiting.Content[0].ReturnApproved)

	none, err := f.svc.ListLoansAwaitingApprovalFor(ctx, bob, page.Request{})
	require.NoError(t, err)
	assert.Empty(t, none.Content)
	assert.NotNil(t, none.Content)

	hist, err := f.svc.ListBorrowHistory(ctx, bob, page.Request{Size: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), hist.TotalElements)
	assert.Equal(t, 2, hist.TotalPages)
	require.Len(t, hist.Content, 1)
	assert.Equal(t, "b2", hist.Content[0].BookID) // 新しい順

	lent, err := f.svc.ListLendHistory(ctx, alice, page.Request{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), lent.TotalElements)

	byBook, err := f.svc.ListByBook(ctx, "b3", page.Request{})
	require.NoError(t, err)
	require.Len(t, byBook.Content, 1)
	assert.Equal(t, carol, byBook.Content[0].BorrowerID)

	far, err := f.svc.ListBorrowHistory(ctx, bob, page.Request{Number: 1<<62 + 1, Size: 10})
	require.NoError(t, err)
	assert.Empty(t, far.Content)
	assert.Equal(t, int64(2), far.TotalElements)
	assert.True(t, far.Last)

	_, err = f.svc.ListActiveLoansFor(ctx, "", page.Request{})
	assertAPIError(t, err, CodeInvalidArgument, ReasonMissingID)
}

func TestLedger_GetRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Borrow(ctx, "b1", bob)
	require.NoError(t, err)

	got, err := f.svc.GetRecord(ctx, rec.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.RecordID)

	_, err = f.svc.GetRecord(ctx, rec.ID, alice)
	assert.NoError(t, err)

	_, err = f.svc.GetRecord(ctx, rec.ID, carol)
	assertAPIError(t, err, CodeForbidden, ReasonNotParticipant)

	_, err = f.svc.GetRecord(ctx, "nope", bob)
	assertAPIError(t, err, CodeNotFound, ReasonRecordNotFound)
}
