package matchfeed

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/metrics"
)

// Match is one scheduled or finished match with pre-computed win
// probabilities. Probabilities arrive with the feed; nothing here
// recomputes them.
type Match struct {
	ID                 string    `json:"id"`
	League             string    `json:"league"`
	BlueTeam           string    `json:"blue_team"`
	RedTeam            string    `json:"red_team"`
	StartTime          time.Time `json:"start_time"`
	BlueWinProbability float64   `json:"blue_win_probability"`
	RedWinProbability  float64   `json:"red_win_probability"`
	Winner             string    `json:"winner,omitempty"`
}

// Upcoming reports whether the match has not started relative to now.
func (m Match) Upcoming(now time.Time) bool {
	return m.StartTime.After(now)
}

// Feed holds the currently loaded match list. Reload swaps the whole
// list under the lock, so readers never observe a partially parsed file.
type Feed struct {
	path string

	mu      sync.RWMutex
	matches []Match
	byID    map[string]Match
}

// Open loads the feed file at path. The file must parse on startup;
// later reloads keep the previous list on error.
func Open(path string) (*Feed, error) {
	f := &Feed{path: path}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-parses the feed file and atomically replaces the match list.
func (f *Feed) Reload() error {
	matches, err := parseFeedFile(f.path)
	if err != nil {
		return err
	}

	byID := make(map[string]Match, len(matches))
	for _, m := range matches {
		byID[m.ID] = m
	}

	f.mu.Lock()
	f.matches = matches
	f.byID = byID
	f.mu.Unlock()

	metrics.FeedMatches.Set(float64(len(matches)))
	log.Info().Int("matches", len(matches)).Str("path", f.path).Msg("Loaded match feed")
	return nil
}

// All returns a copy of every loaded match in feed order.
func (f *Feed) All() []Match {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Match, len(f.matches))
	copy(out, f.matches)
	return out
}

// Upcoming returns matches that start after now, in feed order.
func (f *Feed) Upcoming(now time.Time) []Match {
	return f.filter(func(m Match) bool { return m.Upcoming(now) })
}

// Historical returns matches that have already started, in feed order.
func (f *Feed) Historical(now time.Time) []Match {
	return f.filter(func(m Match) bool { return !m.Upcoming(now) })
}

func (f *Feed) filter(keep func(Match) bool) []Match {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Match, 0, len(f.matches))
	for _, m := range f.matches {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// Get returns the match with the given id, if loaded.
func (f *Feed) Get(id string) (Match, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.byID[id]
	return m, ok
}

// Len returns the number of loaded matches.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.matches)
}

// Columns: id,league,blue_team,red_team,start_time,blue_win_probability,
// red_win_probability,winner. Header row required, winner may be empty.
func parseFeedFile(path string) ([]Match, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer fh.Close()

	rd := csv.NewReader(fh)
	rd.TrimLeadingSpace = true

	records, err := rd.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("feed %s is empty", path)
	}

	header := records[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"id", "league", "blue_team", "red_team", "start_time", "blue_win_probability", "red_win_probability"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("feed %s missing column %q", path, required)
		}
	}

	matches := make([]Match, 0, len(records)-1)
	for i, rec := range records[1:] {
		m, err := parseRecord(col, rec)
		if err != nil {
			return nil, fmt.Errorf("feed %s row %d: %w", path, i+2, err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func parseRecord(col map[string]int, rec []string) (Match, error) {
	field := func(name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[idx])
	}

	id := field("id")
	if id == "" {
		return Match{}, fmt.Errorf("missing id")
	}

	startTime, err := time.Parse(time.RFC3339, field("start_time"))
	if err != nil {
		return Match{}, fmt.Errorf("parse start_time: %w", err)
	}

	blueProb, err := strconv.ParseFloat(field("blue_win_probability"), 64)
	if err != nil {
		return Match{}, fmt.Errorf("parse blue_win_probability: %w", err)
	}
	redProb, err := strconv.ParseFloat(field("red_win_probability"), 64)
	if err != nil {
		return Match{}, fmt.Errorf("parse red_win_probability: %w", err)
	}

	return Match{
		ID:                 id,
		League:             field("league"),
		BlueTeam:           field("blue_team"),
		RedTeam:            field("red_team"),
		StartTime:          startTime,
		BlueWinProbability: blueProb,
		RedWinProbability:  redProb,
		Winner:             field("winner"),
	}, nil
}
