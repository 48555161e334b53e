package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/kalambet/podcaster/internal/dedup"
)

// DefaultOwner owns feeds added without an explicit owner.
const DefaultOwner = "default"

// AddFeed subscribes owner to feedURL, creating the feed on first use.
// created reports whether the feed row is new.
func (s *Store) AddFeed(feedURL, title, owner string) (f Feed, created bool, err error) {
	if owner == "" {
		owner = DefaultOwner
	}
	id := dedup.FeedID(feedURL)
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return Feed{}, false, fmt.Errorf("beginning add feed transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO feeds (feed_id, feed_url, title, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(feed_id) DO NOTHING`, id, feedURL, title, now)
	if err != nil {
		return Feed{}, false, fmt.Errorf("inserting feed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Feed{}, false, err
	}
	created = n == 1
	if !created && title != "" {
		if _, err := tx.Exec(`UPDATE feeds SET title = ? WHERE feed_id = ?`, title, id); err != nil {
			return Feed{}, false, fmt.Errorf("updating feed title: %w", err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO feed_owners (feed_id, owner, added_at) VALUES (?, ?, ?)
		ON CONFLICT(feed_id, owner) DO NOTHING`, id, owner, now); err != nil {
		return Feed{}, false, fmt.Errorf("inserting feed owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Feed{}, false, fmt.Errorf("committing add feed: %w", err)
	}

	f, err = s.GetFeed(id)
	return f, created, err
}

// RemoveFeed unsubscribes owner from feedURL. When no owner is left the feed
// itself is deleted and deleted is true. ErrNotFound means owner was not
// subscribed.
func (s *Store) RemoveFeed(feedURL, owner string) (deleted bool, err error) {
	if owner == "" {
		owner = DefaultOwner
	}
	id := dedup.FeedID(feedURL)

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning remove feed transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM feed_owners WHERE feed_id = ? AND owner = ?`, id, owner)
	if err != nil {
		return false, fmt.Errorf("deleting feed owner: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}

	var remaining int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM feed_owners WHERE feed_id = ?`, id).Scan(&remaining); err != nil {
		return false, fmt.Errorf("counting feed owners: %w", err)
	}
	if remaining == 0 {
		if _, err := tx.Exec(`DELETE FROM feeds WHERE feed_id = ?`, id); err != nil {
			return false, fmt.Errorf("deleting feed: %w", err)
		}
		deleted = true
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing remove feed: %w", err)
	}
	return deleted, nil
}

// GetFeed returns the feed with the given id.
func (s *Store) GetFeed(id string) (Feed, error) {
	var f Feed
	var createdAt string
	err := s.db.QueryRow(`SELECT feed_id, feed_url, title, created_at FROM feeds WHERE feed_id = ?`, id).
		Scan(&f.ID, &f.URL, &f.Title, &createdAt)
	if err == sql.ErrNoRows {
		return Feed{}, ErrNotFound
	}
	if err != nil {
		return Feed{}, err
	}
	if f.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Feed{}, fmt.Errorf("parsing created_at for feed %s: %w", id, err)
	}

	owners, err := s.feedOwners()
	if err != nil {
		return Feed{}, err
	}
	f.Owners = owners[id]
	return f, nil
}

// ListFeeds returns all feeds ordered by creation time. A non-empty owner
// restricts the list to that owner's subscriptions.
func (s *Store) ListFeeds(owner string) ([]Feed, error) {
	query := `SELECT feed_id, feed_url, title, created_at FROM feeds ORDER BY created_at ASC, feed_url ASC`
	var args []any
	if owner != "" {
		query = `SELECT f.feed_id, f.feed_url, f.title, f.created_at FROM feeds f
			JOIN feed_owners o ON o.feed_id = f.feed_id
			WHERE o.owner = ?
			ORDER BY f.created_at ASC, f.feed_url ASC`
		args = append(args, owner)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		var f Feed
		var createdAt string
		if err := rows.Scan(&f.ID, &f.URL, &f.Title, &createdAt); err != nil {
			return nil, err
		}
		if f.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for feed %s: %w", f.ID, err)
		}
		feeds = append(feeds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	owners, err := s.feedOwners()
	if err != nil {
		return nil, err
	}
	for i := range feeds {
		feeds[i].Owners = owners[feeds[i].ID]
	}
	return feeds, nil
}

func (s *Store) feedOwners() (map[string][]string, error) {
	rows, err := s.db.Query(`SELECT feed_id, owner FROM feed_owners`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var id, owner string
		if err := rows.Scan(&id, &owner); err != nil {
			return nil, err
		}
		out[id] = append(out[id], owner)
	}
	for _, o := range out {
		sort.Strings(o)
	}
	return out, rows.Err()
}
