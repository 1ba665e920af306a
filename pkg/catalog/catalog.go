// Package catalog defines the content catalog consumed by the voice
// handlers: stories, music and English-learning entries, with search,
// play counting and soft deletion.
package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// Type partitions the catalog.
type Type string

const (
	TypeStory   Type = "story"
	TypeMusic   Type = "music"
	TypeEnglish Type = "english"
)

// IsValid reports whether t is a known content type.
func (t Type) IsValid() bool {
	switch t {
	case TypeStory, TypeMusic, TypeEnglish:
		return true
	}
	return false
}

// ErrNotFound is returned when no content matches the query.
var ErrNotFound = errors.New("catalog: content not found")

// Content is one playable catalog entry.
type Content struct {
	ID        int64
	Name      string
	Type      Type
	Artist    string
	Category  string
	URL       string
	PlayCount int64
	Deleted   bool
}

// Playable reports whether the entry can actually be played.
func (c *Content) Playable() bool {
	return c != nil && !c.Deleted && c.URL != ""
}

// Store is the catalog persistence interface. All methods treat deleted
// entries as absent unless stated otherwise.
type Store interface {
	// GetRandomByType returns one random playable entry of the given
	// type, optionally restricted to a category. ErrNotFound when the
	// selection is empty.
	GetRandomByType(ctx context.Context, typ Type, category string) (*Content, error)

	// GetContentByName returns the entry with the exact name within a
	// type.
	GetContentByName(ctx context.Context, typ Type, name string) (*Content, error)

	// GetContentByID returns the entry by id, including soft-deleted
	// ones (callers decide how to treat them).
	GetContentByID(ctx context.Context, id int64) (*Content, error)

	// SearchByArtist lists entries by an artist within a type.
	SearchByArtist(ctx context.Context, artist string, typ Type) ([]*Content, error)

	// SearchByArtistAndTitle returns the best entry matching both.
	SearchByArtistAndTitle(ctx context.Context, artist, title string) (*Content, error)

	// GetContentList returns up to limit entries of a type, optionally
	// filtered by category, optionally shuffled.
	GetContentList(ctx context.Context, typ Type, category string, limit int, shuffle bool) ([]*Content, error)

	// SmartSearch returns up to limit entries ranked by fuzzy
	// similarity of the keyword against names and artists.
	SmartSearch(ctx context.Context, keyword string, limit int) ([]*Content, error)

	// IncrementPlayCount bumps the play counter.
	IncrementPlayCount(ctx context.Context, id int64) error

	// DeleteContent removes an entry; hard deletion erases the row,
	// soft deletion keeps it for recovery.
	DeleteContent(ctx context.Context, id int64, hard bool) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}

// Rank orders candidates by fuzzy similarity to keyword, best first, and
// truncates to limit. An exact substring hit on the name outranks edit
// distance; artists count at a discount. Used by every Store
// implementation so search behaves identically across backends.
func Rank(keyword string, candidates []*Content, limit int) []*Content {
	type scored struct {
		c     *Content
		score float64
	}
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" || len(candidates) == 0 {
		return nil
	}

	scoredList := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if c.Deleted {
			continue
		}
		s := similarity(kw, strings.ToLower(c.Name))
		if c.Artist != "" {
			if as := 0.8 * similarity(kw, strings.ToLower(c.Artist)); as > s {
				s = as
			}
		}
		if s <= 0 {
			continue
		}
		scoredList = append(scoredList, scored{c: c, score: s})
	}

	sort.SliceStable(scoredList, func(i, j int) bool {
		return scoredList[i].score > scoredList[j].score
	})
	if limit > 0 && len(scoredList) > limit {
		scoredList = scoredList[:limit]
	}
	out := make([]*Content, len(scoredList))
	for i, s := range scoredList {
		out[i] = s.c
	}
	return out
}

// similarity maps a keyword/candidate pair to (0,1]. Substring containment
// scores by coverage; otherwise normalized Levenshtein distance decides,
// with a floor that drops clearly unrelated strings.
func similarity(keyword, candidate string) float64 {
	if candidate == "" {
		return 0
	}
	if keyword == candidate {
		return 1
	}
	if strings.Contains(candidate, keyword) {
		return 0.9 * float64(len(keyword)) / float64(len(candidate))
	}
	dist := matchr.Levenshtein(keyword, candidate)
	longer := len([]rune(keyword))
	if l := len([]rune(candidate)); l > longer {
		longer = l
	}
	score := 1 - float64(dist)/float64(longer)
	if score < 0.4 {
		return 0
	}
	return score * 0.8
}
