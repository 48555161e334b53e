package storage

import (
	"errors"
	"testing"

	"github.com/kalambet/podcaster/internal/dedup"
)

func TestAddFeed(t *testing.T) {
	s := openTestStore(t)
	url := "https://example.org/podcast.xml"

	f, created, err := s.AddFeed(url, "Charla", "alice")
	if err != nil {
		t.Fatalf("AddFeed: %v", err)
	}
	if !created {
		t.Error("created = false on first add")
	}
	if f.ID != dedup.FeedID(url) {
		t.Errorf("ID = %q, want FeedID(url)", f.ID)
	}
	if f.URL != url || f.Title != "Charla" {
		t.Errorf("feed = %+v", f)
	}
	if len(f.Owners) != 1 || f.Owners[0] != "alice" {
		t.Errorf("Owners = %v, want [alice]", f.Owners)
	}

	f, created, err = s.AddFeed(url, "", "bob")
	if err != nil {
		t.Fatalf("AddFeed second owner: %v", err)
	}
	if created {
		t.Error("created = true for existing feed")
	}
	if f.Title != "Charla" {
		t.Errorf("Title = %q, empty title must not overwrite", f.Title)
	}
	if len(f.Owners) != 2 || f.Owners[0] != "alice" || f.Owners[1] != "bob" {
		t.Errorf("Owners = %v, want [alice bob]", f.Owners)
	}

	if _, _, err := s.AddFeed(url, "", "alice"); err != nil {
		t.Fatalf("re-adding owner: %v", err)
	}
	feeds, err := s.ListFeeds("")
	if err != nil {
		t.Fatalf("ListFeeds: %v", err)
	}
	if len(feeds) != 1 || len(feeds[0].Owners) != 2 {
		t.Errorf("feeds = %+v, want one feed with two owners", feeds)
	}
}

func TestRemoveFeed_DeletesWhenNoOwnerLeft(t *testing.T) {
	s := openTestStore(t)
	url := "https://example.org/podcast.xml"

	s.AddFeed(url, "", "alice")
	s.AddFeed(url, "", "bob")

	deleted, err := s.RemoveFeed(url, "alice")
	if err != nil {
		t.Fatalf("RemoveFeed alice: %v", err)
	}
	if deleted {
		t.Error("deleted = true while bob still subscribed")
	}
	if _, err := s.GetFeed(dedup.FeedID(url)); err != nil {
		t.Fatalf("GetFeed after partial remove: %v", err)
	}

	deleted, err = s.RemoveFeed(url, "bob")
	if err != nil {
		t.Fatalf("RemoveFeed bob: %v", err)
	}
	if !deleted {
		t.Error("deleted = false after last owner left")
	}
	if _, err := s.GetFeed(dedup.FeedID(url)); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFeed err = %v, want ErrNotFound", err)
	}
}

func TestRemoveFeed_NotSubscribed(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.RemoveFeed("https://example.org/none.xml", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListFeeds_ByOwner(t *testing.T) {
	s := openTestStore(t)
	s.AddFeed("https://a.example.org/feed", "", "alice")
	s.AddFeed("https://b.example.org/feed", "", "bob")
	s.AddFeed("https://c.example.org/feed", "", "")

	all, err := s.ListFeeds("")
	if err != nil {
		t.Fatalf("ListFeeds: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all feeds = %d, want 3", len(all))
	}

	bobs, err := s.ListFeeds("bob")
	if err != nil {
		t.Fatalf("ListFeeds(bob): %v", err)
	}
	if len(bobs) != 1 || bobs[0].URL != "https://b.example.org/feed" {
		t.Errorf("bob's feeds = %+v", bobs)
	}

	defaults, _ := s.ListFeeds(DefaultOwner)
	if len(defaults) != 1 || defaults[0].Owners[0] != DefaultOwner {
		t.Errorf("default-owner feeds = %+v", defaults)
	}
}
