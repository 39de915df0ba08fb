package config

import "testing"

func TestClampQueueSizeFloorsAtTwiceWorkers(t *testing.T) {
	cases := []struct{ size, workers, want int }{
		{size: 128, workers: 4, want: 128},
		{size: 4, workers: 4, want: 8},
		{size: 0, workers: 8, want: 16},
		{size: 2, workers: 0, want: 2},
	}
	for _, c := range cases {
		if got := clampQueueSize(c.size, c.workers); got != c.want {
			t.Errorf("clampQueueSize(%d, %d) = %d, want %d", c.size, c.workers, got, c.want)
		}
	}
}

func TestExpertAPIKeysPluralTakesPrecedence(t *testing.T) {
	t.Setenv("FP_EXPERT_API_KEYS", "a,b,c")
	t.Setenv("FP_EXPERT_API_KEY", "zzz")

	keys := expertAPIKeys()
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestExpertAPIKeysSingularFallback(t *testing.T) {
	t.Setenv("FP_EXPERT_API_KEY", "only")

	keys := expertAPIKeys()
	if len(keys) != 1 || keys[0] != "only" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestParseStringSliceSkipsEmptySegments(t *testing.T) {
	got := parseStringSlice("a,,b,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected slice %v", got)
	}
}
