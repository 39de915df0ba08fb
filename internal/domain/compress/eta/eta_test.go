package eta

import (
	"path/filepath"
	"testing"
)

func TestBucketKeyClampsAndRounds(t *testing.T) {
	if got := BucketKey("png", 0); got != "png_0" {
		t.Fatalf("got %q", got)
	}
	if got := BucketKey("webp", 50); got != "webp_128" {
		t.Fatalf("expected clamp to 128, got %q", got)
	}
}

func TestRecordAndEstimate(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "eta.log"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer m.Close()

	key := BucketKey("png", 1.0)
	m.Record(key, 100, 1.0)
	m.Record(key, 300, 1.0)

	// average 200ms per 1.0 work unit
	est := m.Estimate(key, 2.0)
	if est != 400 {
		t.Fatalf("expected estimate 400, got %v", est)
	}
}

func TestLoadReplaysPersistedLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eta.log")

	m1, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m1.Record("avif_4", 800, 2.0)
	m1.Close()

	m2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer m2.Close()

	est := m2.Estimate("avif_4", 2.0)
	if est != 800 {
		t.Fatalf("expected replayed estimate 800, got %v", est)
	}
}

func TestEstimateUnknownKeyIsZero(t *testing.T) {
	dir := t.TempDir()
	m, _ := Load(filepath.Join(dir, "eta.log"))
	defer m.Close()
	if got := m.Estimate("nope_0", 1.0); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}
