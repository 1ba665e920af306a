package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/voxleaf/voxleaf/pkg/catalog"
)

func seed(s *Store) (musicID, storyID int64) {
	musicID = s.Add(catalog.Content{Name: "小星星", Type: catalog.TypeMusic, Artist: "儿歌", Category: "儿童", URL: "http://cdn/1.mp3"})
	s.Add(catalog.Content{Name: "晴天", Type: catalog.TypeMusic, Artist: "周杰伦", URL: "http://cdn/2.mp3"})
	storyID = s.Add(catalog.Content{Name: "白雪公主", Type: catalog.TypeStory, Category: "童话", URL: "http://cdn/3.mp3"})
	s.Add(catalog.Content{Name: "apple", Type: catalog.TypeEnglish, URL: "http://cdn/4.mp3"})
	return musicID, storyID
}

func TestMemstoreLookups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	musicID, _ := seed(s)

	t.Run("by name", func(t *testing.T) {
		t.Parallel()
		c, err := s.GetContentByName(ctx, catalog.TypeMusic, "小星星")
		if err != nil {
			t.Fatalf("GetContentByName: %v", err)
		}
		if c.ID != musicID {
			t.Errorf("id = %d, want %d", c.ID, musicID)
		}
		if _, err := s.GetContentByName(ctx, catalog.TypeStory, "小星星"); !errors.Is(err, catalog.ErrNotFound) {
			t.Errorf("wrong-type lookup err = %v, want ErrNotFound", err)
		}
	})

	t.Run("by id", func(t *testing.T) {
		t.Parallel()
		if _, err := s.GetContentByID(ctx, musicID); err != nil {
			t.Errorf("GetContentByID: %v", err)
		}
		if _, err := s.GetContentByID(ctx, 999); !errors.Is(err, catalog.ErrNotFound) {
			t.Errorf("missing id err = %v, want ErrNotFound", err)
		}
	})

	t.Run("random respects type and category", func(t *testing.T) {
		t.Parallel()
		for i := 0; i < 5; i++ {
			c, err := s.GetRandomByType(ctx, catalog.TypeStory, "童话")
			if err != nil {
				t.Fatalf("GetRandomByType: %v", err)
			}
			if c.Type != catalog.TypeStory || c.Category != "童话" {
				t.Fatalf("random entry = %+v", c)
			}
		}
		if _, err := s.GetRandomByType(ctx, catalog.TypeStory, "科幻"); !errors.Is(err, catalog.ErrNotFound) {
			t.Errorf("empty category err = %v, want ErrNotFound", err)
		}
	})

	t.Run("by artist", func(t *testing.T) {
		t.Parallel()
		got, err := s.SearchByArtist(ctx, "周杰伦", catalog.TypeMusic)
		if err != nil || len(got) != 1 || got[0].Name != "晴天" {
			t.Errorf("SearchByArtist = %+v, %v", got, err)
		}
		c, err := s.SearchByArtistAndTitle(ctx, "周杰伦", "晴天")
		if err != nil || c.Name != "晴天" {
			t.Errorf("SearchByArtistAndTitle = %+v, %v", c, err)
		}
	})

	t.Run("list with limit", func(t *testing.T) {
		t.Parallel()
		got, err := s.GetContentList(ctx, catalog.TypeMusic, "", 1, false)
		if err != nil || len(got) != 1 {
			t.Errorf("GetContentList = %+v, %v", got, err)
		}
	})

	t.Run("smart search", func(t *testing.T) {
		t.Parallel()
		got, err := s.SmartSearch(ctx, "小星星", 10)
		if err != nil {
			t.Fatalf("SmartSearch: %v", err)
		}
		if len(got) == 0 || got[0].Name != "小星星" {
			t.Errorf("SmartSearch = %+v", got)
		}
	})
}

func TestMemstoreMutations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	musicID, storyID := seed(s)

	if err := s.IncrementPlayCount(ctx, musicID); err != nil {
		t.Fatalf("IncrementPlayCount: %v", err)
	}
	c, _ := s.GetContentByID(ctx, musicID)
	if c.PlayCount != 1 {
		t.Errorf("play count = %d, want 1", c.PlayCount)
	}

	// Soft delete keeps the row but hides it from queries.
	if err := s.DeleteContent(ctx, storyID, false); err != nil {
		t.Fatalf("DeleteContent soft: %v", err)
	}
	if _, err := s.GetContentByName(ctx, catalog.TypeStory, "白雪公主"); !errors.Is(err, catalog.ErrNotFound) {
		t.Error("soft-deleted entry still visible by name")
	}
	c, err := s.GetContentByID(ctx, storyID)
	if err != nil || !c.Deleted {
		t.Errorf("soft-deleted by id = %+v, %v", c, err)
	}
	if err := s.IncrementPlayCount(ctx, storyID); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("play count on deleted err = %v, want ErrNotFound", err)
	}

	// Hard delete erases the row.
	if err := s.DeleteContent(ctx, musicID, true); err != nil {
		t.Fatalf("DeleteContent hard: %v", err)
	}
	if _, err := s.GetContentByID(ctx, musicID); !errors.Is(err, catalog.ErrNotFound) {
		t.Error("hard-deleted entry still present")
	}
	if err := s.DeleteContent(ctx, 999, true); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("missing delete err = %v, want ErrNotFound", err)
	}
}
