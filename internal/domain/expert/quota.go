package expert

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	quotaSlots   = 64
	dailyJobCap  = 500
	dailyByteCap = 2 * 1024 * 1024 * 1024 // 2 GiB
)

type quotaSlot struct {
	occupied bool
	userID   uuid.UUID
	dayKey   int64
	jobsUsed int
	bytesUsed int64
}

// QuotaTable enforces the per-user daily Expert quota: a fixed
// 64-slot table guarded by one mutex, open-addressed by user id.
// A slot is implicitly reclaimed (reset to the current day) the next
// time its user is seen on a new day, so usage resets by date without
// a background sweeper.
type QuotaTable struct {
	mu    sync.Mutex
	slots [quotaSlots]quotaSlot
}

// NewQuotaTable constructs an empty quota table.
func NewQuotaTable() *QuotaTable {
	return &QuotaTable{}
}

func unixDay(t time.Time) int64 {
	return t.Unix() / 86400
}

// Reserve checks whether userID can spend jobs additional jobs and
// bytes additional bytes today, and if so records the spend
// atomically. Returns false if either cap would be exceeded.
func (q *QuotaTable) Reserve(userID uuid.UUID, jobs int, bytes int64) bool {
	today := unixDay(time.Now())

	q.mu.Lock()
	defer q.mu.Unlock()

	idx, found := q.find(userID)
	if !found {
		idx = q.allocate(userID, today)
	}
	slot := &q.slots[idx]
	if slot.dayKey != today {
		slot.dayKey = today
		slot.jobsUsed = 0
		slot.bytesUsed = 0
	}

	if slot.jobsUsed+jobs > dailyJobCap || slot.bytesUsed+bytes > dailyByteCap {
		return false
	}
	slot.jobsUsed += jobs
	slot.bytesUsed += bytes
	return true
}

// find must be called with q.mu held.
func (q *QuotaTable) find(userID uuid.UUID) (int, bool) {
	start := int(hashUUID(userID) % quotaSlots)
	for i := 0; i < quotaSlots; i++ {
		idx := (start + i) % quotaSlots
		s := &q.slots[idx]
		if s.occupied && s.userID == userID {
			return idx, true
		}
	}
	return 0, false
}

// allocate must be called with q.mu held; it returns a slot index for
// userID, reusing an empty slot, a slot whose day has already rolled
// over, or else the least-recently-reset slot.
func (q *QuotaTable) allocate(userID uuid.UUID, today int64) int {
	start := int(hashUUID(userID) % quotaSlots)
	for i := 0; i < quotaSlots; i++ {
		idx := (start + i) % quotaSlots
		if !q.slots[idx].occupied {
			q.slots[idx] = quotaSlot{occupied: true, userID: userID, dayKey: today}
			return idx
		}
	}
	oldest := start
	for i := 0; i < quotaSlots; i++ {
		if q.slots[i].dayKey < q.slots[oldest].dayKey {
			oldest = i
		}
	}
	q.slots[oldest] = quotaSlot{occupied: true, userID: userID, dayKey: today}
	return oldest
}

func hashUUID(id uuid.UUID) uint64 {
	var h uint64 = 1469598103934665603
	for _, b := range id {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}
