package matchfeed

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const feedHeader = "id,league,blue_team,red_team,start_time,blue_win_probability,red_win_probability,winner\n"

func writeFeed(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "matches.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}
	return path
}

func TestOpenParsesFeed(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339)
	future := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	path := writeFeed(t, t.TempDir(), feedHeader+
		"m1,LCK,T1,GenG,"+past+",0.62,0.38,blue\n"+
		"m2,LEC,G2,FNC,"+future+",0.55,0.45,\n")

	feed, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if feed.Len() != 2 {
		t.Fatalf("Len = %d, want 2", feed.Len())
	}

	m, ok := feed.Get("m1")
	if !ok {
		t.Fatal("Get(m1) missed")
	}
	if m.League != "LCK" || m.BlueTeam != "T1" || m.Winner != "blue" {
		t.Errorf("m1 = %+v", m)
	}
	if m.BlueWinProbability != 0.62 {
		t.Errorf("BlueWinProbability = %v", m.BlueWinProbability)
	}

	now := time.Now()
	if got := feed.Upcoming(now); len(got) != 1 || got[0].ID != "m2" {
		t.Errorf("Upcoming = %+v", got)
	}
	if got := feed.Historical(now); len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("Historical = %+v", got)
	}
}

func TestOpenRejectsBadFeed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing file", ""},
		{"missing column", "id,league\nm1,LCK\n"},
		{"bad probability", feedHeader + "m1,LCK,T1,GenG,2026-01-01T00:00:00Z,lots,0.4,\n"},
		{"bad start time", feedHeader + "m1,LCK,T1,GenG,yesterday,0.6,0.4,\n"},
		{"missing id", feedHeader + ",LCK,T1,GenG,2026-01-01T00:00:00Z,0.6,0.4,\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "matches.csv")
			if tt.content != "" {
				path = writeFeed(t, dir, tt.content)
			}
			if _, err := Open(path); err == nil {
				t.Error("Open succeeded, want error")
			}
		})
	}
}

func TestReloadKeepsPreviousMatchesOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeFeed(t, dir, feedHeader+"m1,LCK,T1,GenG,2026-01-01T00:00:00Z,0.6,0.4,\n")

	feed, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := os.WriteFile(path, []byte("not,a,valid\nfeed"), 0o644); err != nil {
		t.Fatalf("corrupt feed: %v", err)
	}
	if err := feed.Reload(); err == nil {
		t.Fatal("Reload succeeded on a corrupt feed, want error")
	}

	if _, ok := feed.Get("m1"); !ok {
		t.Error("previous matches should survive a failed reload")
	}
}

func TestHandleList(t *testing.T) {
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	path := writeFeed(t, t.TempDir(), feedHeader+
		"m1,LCK,T1,GenG,"+past+",0.62,0.38,blue\n"+
		"m2,LEC,G2,FNC,"+future+",0.55,0.45,\n")
	feed, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tests := []struct {
		name       string
		url        string
		wantStatus int
	}{
		{"all", "/api/matches", http.StatusOK},
		{"upcoming", "/api/matches?window=upcoming", http.StatusOK},
		{"historical", "/api/matches?window=historical", http.StatusOK},
		{"unknown window", "/api/matches?window=tomorrow", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			rec := httptest.NewRecorder()
			feed.HandleList(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleGet(t *testing.T) {
	path := writeFeed(t, t.TempDir(), feedHeader+"m1,LCK,T1,GenG,2026-01-01T00:00:00Z,0.6,0.4,\n")
	feed, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/matches/{id}", feed.HandleGet)

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/matches/m1", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/matches/m99", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}
