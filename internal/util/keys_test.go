package util

import "testing"

func TestLockKey(t *testing.T) {
	if got := LockKey("orders"); got != "orders~lock" {
		t.Fatalf("LockKey = %q", got)
	}
	if !IsLockKey(LockKey("orders")) || IsLockKey("orders::1") {
		t.Fatal("IsLockKey mismatch")
	}
}

func TestIsPattern(t *testing.T) {
	cases := map[string]bool{
		"orders::*":  true,
		"*":          true,
		"orders::1":  false,
		"orders::*1": false,
		"":           false,
	}
	for k, want := range cases {
		if got := IsPattern(k); got != want {
			t.Fatalf("IsPattern(%q) = %v, want %v", k, got, want)
		}
	}
}

func TestChunk(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}

	t.Run("empty", func(t *testing.T) {
		if got := Chunk(nil, 2); got != nil {
			t.Fatalf("got %v", got)
		}
	})
	t.Run("single_batch", func(t *testing.T) {
		got := Chunk(keys, 10)
		if len(got) != 1 || len(got[0]) != 5 {
			t.Fatalf("got %v", got)
		}
	})
	t.Run("uneven", func(t *testing.T) {
		got := Chunk(keys, 2)
		if len(got) != 3 || len(got[0]) != 2 || len(got[1]) != 2 || len(got[2]) != 1 {
			t.Fatalf("got %v", got)
		}
		if got[2][0] != "e" {
			t.Fatalf("last batch = %v", got[2])
		}
	})
	t.Run("no_size", func(t *testing.T) {
		if got := Chunk(keys, 0); len(got) != 1 {
			t.Fatalf("got %v", got)
		}
	})
}
