package storage

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"
)

func TestCache(t *testing.T) {
	cache, err := Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	defer cache.Close()

	t.Run("MissingScore", func(t *testing.T) {
		_, ok, err := cache.Score(42, false)
		if err != nil || ok {
			t.Errorf("Expected miss, got ok=%v err=%v", ok, err)
		}
		if _, err := cache.LoadScore(42, false); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ScoreRoundTrip", func(t *testing.T) {
		if err := cache.PutScore(42, false, -7); err != nil {
			t.Fatalf("PutScore failed: %v", err)
		}
		score, ok, err := cache.Score(42, false)
		if err != nil || !ok || score != -7 {
			t.Errorf("Expected -7, got %d ok=%v err=%v", score, ok, err)
		}

		// weak results are stored apart
		if _, ok, _ := cache.Score(42, true); ok {
			t.Error("Weak lookup should miss")
		}
	})

	t.Run("AnalysisRoundTrip", func(t *testing.T) {
		want := []int{-1000, 2, 0, 5, -3, 1, -1000}
		if err := cache.PutAnalysis(7, true, want); err != nil {
			t.Fatalf("PutAnalysis failed: %v", err)
		}
		got, ok, err := cache.Analysis(7, true)
		if err != nil || !ok {
			t.Fatalf("Expected hit, got ok=%v err=%v", ok, err)
		}
		if !slices.Equal(got, want) {
			t.Errorf("Expected %v, got %v", want, got)
		}

		rec, err := cache.LoadAnalysis(7, true)
		if err != nil {
			t.Fatalf("LoadAnalysis failed: %v", err)
		}
		if !rec.Weak || rec.SolvedAt.IsZero() {
			t.Errorf("Unexpected record %+v", rec)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		st, err := cache.Stats()
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if st.Scores != 1 || st.Analyses != 1 {
			t.Errorf("Expected 1 score and 1 analysis, got %+v", st)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		if err := cache.Clear(); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		if _, ok, _ := cache.Score(42, false); ok {
			t.Error("Expected empty cache after Clear")
		}
	})
}

func TestCachePersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")

	cache, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	if err := cache.PutScore(1<<40, false, 3); err != nil {
		t.Fatalf("PutScore failed: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	cache, err = Open(dir)
	if err != nil {
		t.Fatalf("Failed to reopen cache: %v", err)
	}
	defer cache.Close()

	score, ok, err := cache.Score(1<<40, false)
	if err != nil || !ok || score != 3 {
		t.Errorf("Expected 3 after reopen, got %d ok=%v err=%v", score, ok, err)
	}
}

func TestInMemoryCache(t *testing.T) {
	cache, err := OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	defer cache.Close()

	if err := cache.PutScore(5, true, 1); err != nil {
		t.Fatalf("PutScore failed: %v", err)
	}
	if score, ok, _ := cache.Score(5, true); !ok || score != 1 {
		t.Errorf("Expected 1, got %d ok=%v", score, ok)
	}
}

func TestDataPaths(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("data dir override is only honored on linux")
	}
	base := t.TempDir()
	t.Setenv("XDG_DATA_HOME", base)

	dataDir, err := GetDataDir()
	if err != nil {
		t.Fatalf("GetDataDir failed: %v", err)
	}
	if dataDir != filepath.Join(base, appName) {
		t.Errorf("Unexpected data dir %s", dataDir)
	}
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		t.Errorf("Data directory was not created: %s", dataDir)
	}

	dbDir, err := GetDatabaseDir()
	if err != nil {
		t.Fatalf("GetDatabaseDir failed: %v", err)
	}
	if dbDir != filepath.Join(dataDir, "db") {
		t.Errorf("Unexpected database dir %s", dbDir)
	}
}

func TestFindBook(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("data dir override is only honored on linux")
	}
	base := t.TempDir()
	t.Setenv("XDG_DATA_HOME", base)

	local := filepath.Join(t.TempDir(), "local.book")
	if err := os.WriteFile(local, []byte{7, 6}, 0644); err != nil {
		t.Fatal(err)
	}
	if got, err := FindBook(local); err != nil || got != local {
		t.Errorf("Expected %s, got %s (%v)", local, got, err)
	}

	dataDir, err := GetDataDir()
	if err != nil {
		t.Fatal(err)
	}
	inData := filepath.Join(dataDir, "7x6.book")
	if err := os.WriteFile(inData, []byte{7, 6}, 0644); err != nil {
		t.Fatal(err)
	}
	if got, err := FindBook("7x6.book"); err != nil || got != inData {
		t.Errorf("Expected %s, got %s (%v)", inData, got, err)
	}

	if _, err := FindBook("missing.book"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}
