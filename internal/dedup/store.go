package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Episode is one feed item that is a candidate for translation.
type Episode struct {
	GUID        string `json:"guid"`
	FeedID      string `json:"feedId"`
	FeedURL     string `json:"feedUrl"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Link        string `json:"link,omitempty"`
	AudioURL    string `json:"audioUrl,omitempty"`
	PublishedAt string `json:"publishedAt,omitempty"`
}

// GUID returns the first non-empty of guid, id and link.
func GUID(guid, id, link string) string {
	for _, v := range []string{guid, id, link} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// FeedID returns the hex SHA-256 of the feed URL. It is used as a storage
// key, so it must never change for a given URL.
func FeedID(feedURL string) string {
	sum := sha256.Sum256([]byte(feedURL))
	return hex.EncodeToString(sum[:])
}

// Record is the persisted processing state of one feed.
type Record struct {
	Processed   map[string]struct{}
	LastChecked time.Time
}

// Has reports whether guid was already processed.
func (r Record) Has(guid string) bool {
	_, ok := r.Processed[guid]
	return ok
}

// Stats summarizes a record for display.
type Stats struct {
	FeedID          string    `json:"feedId"`
	EpisodesTracked int       `json:"episodesTracked"`
	LastCheck       time.Time `json:"lastCheck"`
}

// recordFile is the on-disk layout shared with external readers.
type recordFile struct {
	Episodes  []string `json:"episodes"`
	LastCheck float64  `json:"lastCheck"`
}

// Store keeps one JSON record per feed in a directory. It does no locking:
// callers serialize writers.
type Store struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// NewStore returns a Store rooted at dir. The directory is created on the
// first write.
func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Dir returns the directory holding the records.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(feedID string) string {
	return filepath.Join(s.dir, "last_check_"+feedID+".json")
}

// Load returns the record for feedID. A missing record is empty. A record that
// cannot be read or parsed is also treated as empty and logged.
func (s *Store) Load(feedID string) (Record, error) {
	rec, err := s.read(feedID)
	if err != nil {
		s.logger.Warn("dedup record unreadable, treating as empty", "feed_id", feedID, "error", err)
		return Record{Processed: make(map[string]struct{})}, nil
	}
	return rec, nil
}

// read is Load without the leniency for read failures: anything other than a
// missing file is returned. Malformed JSON still yields an empty record.
func (s *Store) read(feedID string) (Record, error) {
	rec := Record{Processed: make(map[string]struct{})}

	data, err := os.ReadFile(s.path(feedID))
	if errors.Is(err, fs.ErrNotExist) {
		return rec, nil
	}
	if err != nil {
		return rec, err
	}

	var f recordFile
	if err := json.Unmarshal(data, &f); err != nil {
		s.logger.Warn("dedup record malformed, treating as empty", "feed_id", feedID, "error", err)
		return rec, nil
	}
	for _, g := range f.Episodes {
		rec.Processed[g] = struct{}{}
	}
	if f.LastCheck > 0 {
		sec := int64(f.LastCheck)
		nsec := int64((f.LastCheck - float64(sec)) * float64(time.Second))
		rec.LastChecked = time.Unix(sec, nsec)
	}
	return rec, nil
}

// Diff returns the candidates whose guid is not in the feed's record, in
// candidate order. It never writes.
func (s *Store) Diff(feedID string, candidates []Episode) ([]Episode, error) {
	rec, err := s.Load(feedID)
	if err != nil {
		return nil, fmt.Errorf("loading record %s: %w", feedID, err)
	}

	out := make([]Episode, 0, len(candidates))
	for _, ep := range candidates {
		if ep.GUID == "" || rec.Has(ep.GUID) {
			continue
		}
		out = append(out, ep)
	}
	return out, nil
}

// MarkProcessed adds guids to the feed's record and stamps the check time.
// Marking a guid twice is a no-op. A record that exists but cannot be read is
// left untouched and reported, as are write failures.
func (s *Store) MarkProcessed(feedID string, guids []string) error {
	rec, err := s.read(feedID)
	if err != nil {
		return fmt.Errorf("reading record %s: %w", feedID, err)
	}
	for _, g := range guids {
		if g != "" {
			rec.Processed[g] = struct{}{}
		}
	}
	rec.LastChecked = s.now()

	if err := s.write(feedID, rec); err != nil {
		return fmt.Errorf("writing record %s: %w", feedID, err)
	}
	return nil
}

// Reset deletes the feed's record. A missing record is not an error.
func (s *Store) Reset(feedID string) error {
	err := os.Remove(s.path(feedID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing record %s: %w", feedID, err)
	}
	return nil
}

// Stats returns the tracked guid count and last check time for feedID.
func (s *Store) Stats(feedID string) (Stats, error) {
	rec, err := s.Load(feedID)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		FeedID:          feedID,
		EpisodesTracked: len(rec.Processed),
		LastCheck:       rec.LastChecked,
	}, nil
}

func (s *Store) write(feedID string, rec Record) error {
	f := recordFile{Episodes: make([]string, 0, len(rec.Processed))}
	for g := range rec.Processed {
		f.Episodes = append(f.Episodes, g)
	}
	sort.Strings(f.Episodes)
	if !rec.LastChecked.IsZero() {
		f.LastCheck = float64(rec.LastChecked.UnixNano()) / float64(time.Second)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	// Temp file in the same directory so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(s.dir, ".last_check_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path(feedID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
