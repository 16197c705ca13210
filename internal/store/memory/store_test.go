package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

func TestEventStoreOrdersAndRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewEventStore()
	for _, e := range []domain.Event{
		{MarketID: 1, Seq: 1},
		{MarketID: 0, Seq: 2},
		{MarketID: 0, Seq: 1},
	} {
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := s.Append(ctx, domain.Event{MarketID: 0, Seq: 2}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate Append err = %v, want ErrAlreadyExists", err)
	}

	all, _ := s.ListAll(ctx)
	want := [][2]uint64{{0, 1}, {0, 2}, {1, 1}}
	for i, e := range all {
		if uint64(e.MarketID) != want[i][0] || e.Seq != want[i][1] {
			t.Fatalf("ListAll[%d] = %d/%d, want %v", i, e.MarketID, e.Seq, want[i])
		}
	}
	byMarket, _ := s.ListByMarket(ctx, 0)
	if len(byMarket) != 2 {
		t.Fatalf("ListByMarket(0) = %d events, want 2", len(byMarket))
	}
}

func TestMarketStoreProjection(t *testing.T) {
	ctx := context.Background()
	s := NewMarketStore()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_ = s.Upsert(ctx, domain.MarketSummary{ID: 1, Seq: 4, Resolved: true, Deadline: now.Add(-time.Hour)})
	_ = s.Upsert(ctx, domain.MarketSummary{ID: 1, Seq: 3})
	got, err := s.GetByID(ctx, 1)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Seq != 4 {
		t.Fatalf("stale upsert won: seq = %d", got.Seq)
	}
	_ = s.Upsert(ctx, domain.MarketSummary{ID: 2, Seq: 2, Resolved: true, Deadline: now.Add(time.Hour)})

	due, _ := s.ListResolvedUnarchived(ctx, now, 10)
	if len(due) != 1 || due[0].ID != 1 {
		t.Fatalf("ListResolvedUnarchived = %+v", due)
	}
	if err := s.MarkArchived(ctx, 1, now); err != nil {
		t.Fatalf("MarkArchived: %v", err)
	}
	_ = s.Upsert(ctx, domain.MarketSummary{ID: 1, Seq: 5, Resolved: true, Deadline: now.Add(-time.Hour)})
	if due, _ := s.ListResolvedUnarchived(ctx, now, 10); len(due) != 0 {
		t.Fatalf("archived market listed again: %+v", due)
	}
	if _, err := s.GetByID(ctx, 9); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetByID(9) err = %v, want ErrNotFound", err)
	}
}

func TestLeasesAreExclusive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	leases := NewLeases()

	lost, release, err := leases.Hold(ctx, "writer", time.Minute)
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if _, _, err := leases.Hold(ctx, "writer", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Hold err = %v, want ErrLockHeld", err)
	}
	if _, other, err := leases.Hold(ctx, "archive", time.Minute); err != nil {
		t.Fatalf("Hold other key: %v", err)
	} else {
		other()
	}

	release()
	release()
	select {
	case <-lost:
	default:
		t.Fatal("lost not closed after release")
	}

	holdCtx, end := context.WithCancel(ctx)
	lost, _, err = leases.Hold(holdCtx, "writer", time.Minute)
	if err != nil {
		t.Fatalf("Hold after release: %v", err)
	}
	end()
	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		t.Fatal("lease outlived its context")
	}
	if _, release, err := leases.Hold(ctx, "writer", time.Minute); err != nil {
		t.Fatalf("Hold after context ended: %v", err)
	} else {
		release()
	}
}
