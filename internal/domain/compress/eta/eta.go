// Package eta implements the persisted per-format ETA model: an
// 8-slot in-memory aggregate keyed by "<encoder>_<quarterMegapixel
// bucket>", backed by an append-only plain-text sample log that is
// replayed on load.
package eta

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

const maxSlots = 8

type aggregate struct {
	key            string
	totalMillis    float64
	totalWorkUnits float64
	samples        int
}

// Model tracks encode-time-per-work-unit per (encoder, size bucket)
// key, serialized by a single mutex that also guards the persisted
// log append, so an observer never sees an aggregate update without
// its corresponding log line.
type Model struct {
	mu      sync.Mutex
	logPath string
	logFile *os.File
	slots   []aggregate
}

// Load opens (creating if absent) the sample log at logPath, replays
// every line into the in-memory aggregate table, and keeps the file
// open for subsequent appends.
func Load(logPath string) (*Model, error) {
	m := &Model{logPath: logPath}

	if logPath != "" {
		if f, err := os.Open(logPath); err == nil {
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				var key string
				var elapsedMs, workUnits float64
				if _, err := fmt.Sscanf(scanner.Text(), "%s %f %f", &key, &elapsedMs, &workUnits); err != nil {
					continue
				}
				m.accumulate(key, elapsedMs, workUnits)
			}
			f.Close()
		}

		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		m.logFile = f
	}

	return m, nil
}

// Close releases the underlying log file handle.
func (m *Model) Close() error {
	if m.logFile != nil {
		return m.logFile.Close()
	}
	return nil
}

// BucketKey combines an encoder name with a quarter-megapixel bucket
// of image area: clamp(round(workUnits*4), 0, 128).
func BucketKey(encoderName string, workUnits float64) string {
	bucket := int(workUnits*4 + 0.5)
	if bucket < 0 {
		bucket = 0
	}
	if bucket > 128 {
		bucket = 128
	}
	return fmt.Sprintf("%s_%d", encoderName, bucket)
}

// Record appends a (key, elapsedMs, workUnits) sample to the
// persisted log and updates the in-memory aggregate, under the same
// lock, so the on-disk log and the in-memory state never diverge.
func (m *Model) Record(key string, elapsedMs, workUnits float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.logFile != nil {
		fmt.Fprintf(m.logFile, "%s %f %f\n", key, elapsedMs, workUnits)
	}
	m.accumulate(key, elapsedMs, workUnits)
}

// accumulate must be called with m.mu held.
func (m *Model) accumulate(key string, elapsedMs, workUnits float64) {
	for i := range m.slots {
		if m.slots[i].key == key {
			m.slots[i].totalMillis += elapsedMs
			m.slots[i].totalWorkUnits += workUnits
			m.slots[i].samples++
			return
		}
	}
	if len(m.slots) < maxSlots {
		m.slots = append(m.slots, aggregate{key: key, totalMillis: elapsedMs, totalWorkUnits: workUnits, samples: 1})
		return
	}
	// Table full: evict the slot with the fewest samples. Eight slots
	// cover the four encoders across two size buckets in steady state;
	// rarely-seen keys lose their history first.
	minIdx := 0
	for i := 1; i < len(m.slots); i++ {
		if m.slots[i].samples < m.slots[minIdx].samples {
			minIdx = i
		}
	}
	m.slots[minIdx] = aggregate{key: key, totalMillis: elapsedMs, totalWorkUnits: workUnits, samples: 1}
}

// Estimate returns (totalMs/totalWorkUnits)*workUnits for the given
// key, or 0 if no samples have been recorded yet for it.
func (m *Model) Estimate(key string, workUnits float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.key == key && s.totalWorkUnits > 0 {
			return (s.totalMillis / s.totalWorkUnits) * workUnits
		}
	}
	return 0
}
