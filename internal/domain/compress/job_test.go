package compress

import "testing"

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"photo.png":          "photo.png",
		"../../etc/passwd":   "....etcpasswd",
		"My Photo (1).PNG":   "MyPhoto1.PNG",
		"":                   "upload.png",
		"!!!***":             "upload.png",
		"valid-name_123.png": "valid-name_123.png",
	}
	for in, want := range cases {
		got := SanitizeFilename(in)
		if got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNextJobIDNeverZeroAndMonotonic(t *testing.T) {
	prev := NextJobID()
	if prev == 0 {
		t.Fatal("job id must never be zero")
	}
	for i := 0; i < 100; i++ {
		next := NextJobID()
		if next <= prev {
			t.Fatalf("expected monotonic increase, got %d after %d", next, prev)
		}
		prev = next
	}
}
