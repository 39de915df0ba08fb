package expert

import (
	"testing"

	"github.com/google/uuid"
)

func TestQuotaTableReserveWithinCapsSucceeds(t *testing.T) {
	q := NewQuotaTable()
	user := uuid.New()

	if !q.Reserve(user, 1, 1024) {
		t.Fatal("expected first reservation to succeed")
	}
}

func TestQuotaTableReserveRejectsOverJobCap(t *testing.T) {
	q := NewQuotaTable()
	user := uuid.New()

	if !q.Reserve(user, dailyJobCap, 0) {
		t.Fatal("expected reservation at exactly the cap to succeed")
	}
	if q.Reserve(user, 1, 0) {
		t.Fatal("expected reservation past the daily job cap to fail")
	}
}

func TestQuotaTableReserveRejectsOverByteCap(t *testing.T) {
	q := NewQuotaTable()
	user := uuid.New()

	if q.Reserve(user, 1, dailyByteCap+1) {
		t.Fatal("expected reservation past the daily byte cap to fail")
	}
}

func TestQuotaTableTracksUsersIndependently(t *testing.T) {
	q := NewQuotaTable()
	a, b := uuid.New(), uuid.New()

	if !q.Reserve(a, dailyJobCap, 0) {
		t.Fatal("expected user a to exhaust their own cap")
	}
	if !q.Reserve(b, dailyJobCap, 0) {
		t.Fatal("expected user b's cap to be independent of user a's")
	}
}

func TestQuotaTableResetsOnDayRollover(t *testing.T) {
	q := NewQuotaTable()
	user := uuid.New()

	if !q.Reserve(user, dailyJobCap, 0) {
		t.Fatal("expected reservation at the cap to succeed")
	}

	idx, found := q.find(user)
	if !found {
		t.Fatal("expected slot to be allocated")
	}
	q.slots[idx].dayKey -= 2 // simulate a day boundary having passed

	if !q.Reserve(user, dailyJobCap, 0) {
		t.Fatal("expected quota to reset once the day key rolls over")
	}
}

func TestQuotaTableHandlesSlotExhaustionByReclaimingOldest(t *testing.T) {
	q := NewQuotaTable()
	// Fill every slot with a distinct user so allocate() must fall back
	// to reclaiming the oldest slot for one more.
	for i := 0; i < quotaSlots; i++ {
		if !q.Reserve(uuid.New(), 1, 1) {
			t.Fatalf("expected reservation %d to succeed while filling the table", i)
		}
	}
	if !q.Reserve(uuid.New(), 1, 1) {
		t.Fatal("expected the table to reclaim a slot instead of failing once full")
	}
}
