// Package library defines the book records served by the /api/v2/library
// endpoint and the canned shelves used to mock it.
package library

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Reading statuses as reported by the library endpoint.
const (
	StatusToRead   = "to-read"
	StatusReading  = "reading"
	StatusFinished = "finished"
)

// Bookmark is a saved reading position.
type Bookmark struct {
	CFI   string `json:"cfi"`
	Title string `json:"title"`
}

// Book is one record of the library listing.
type Book struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Author          string     `json:"author"`
	CoverURL        string     `json:"coverUrl"`
	ProgressPercent int        `json:"progressPercent"`
	LastLocation    string     `json:"lastLocation"`
	Bookmarks       []Bookmark `json:"bookmarks"`
	Status          string     `json:"status"`
	Favorite        bool       `json:"favorite"`
	UpdatedAt       string     `json:"updatedAt"`
}

// Shelf is the full listing returned by the endpoint.
type Shelf []Book

// SampleTitle is the title of the single book in SampleShelf.
const SampleTitle = "Snoopy's Guide to Life"

// EmptyShelf returns a shelf that encodes as [].
func EmptyShelf() Shelf {
	return Shelf{}
}

// SampleShelf returns the one-book shelf used for the populated state.
func SampleShelf() Shelf {
	return Shelf{{
		ID:              "book-1",
		Title:           SampleTitle,
		Author:          "Charles M. Schulz",
		CoverURL:        "",
		ProgressPercent: 0,
		LastLocation:    "",
		Bookmarks:       []Bookmark{},
		Status:          StatusToRead,
		Favorite:        false,
		UpdatedAt:       "2023-10-27T10:00:00Z",
	}}
}

// JSON encodes the shelf. A nil shelf still encodes as [], and nil bookmark
// lists encode as [] so the frontend never sees null.
func (s Shelf) JSON() ([]byte, error) {
	out := make(Shelf, len(s))
	for i, b := range s {
		if b.Bookmarks == nil {
			b.Bookmarks = []Bookmark{}
		}
		out[i] = b
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode shelf: %w", err)
	}
	return data, nil
}

// StatusFor derives the reading status from page progress the same way the
// backend does: nothing read is to-read, reaching the last page is finished.
func StatusFor(progress, totalPages int) string {
	if totalPages <= 0 {
		totalPages = 100
	}
	switch {
	case progress <= 0:
		return StatusToRead
	case progress >= totalPages:
		return StatusFinished
	default:
		return StatusReading
	}
}

// ProgressPercent converts page progress to a rounded percentage capped at 100.
func ProgressPercent(progress, totalPages int) int {
	if totalPages < 1 {
		totalPages = 1
	}
	pct := (progress*100 + totalPages/2) / totalPages
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// Pick chooses the book to feature in the recommendation card: the first
// unfinished favourite, else the first unfinished book, else the first book.
// It returns false for an empty shelf.
func (s Shelf) Pick() (Book, bool) {
	if len(s) == 0 {
		return Book{}, false
	}
	for _, b := range s {
		if b.Favorite && b.Status != StatusFinished {
			return b, true
		}
	}
	for _, b := range s {
		if b.Status != StatusFinished {
			return b, true
		}
	}
	return s[0], true
}

// ReadShelf loads a shelf from a JSON file holding an array of books, in the
// same shape the endpoint serves. Records are normalised on the way in:
// progress is clamped to 0..100, a missing status is derived from progress,
// and bookmarks without a CFI are dropped.
func ReadShelf(path string) (Shelf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shelf: %w", err)
	}
	var shelf Shelf
	if err := json.Unmarshal(data, &shelf); err != nil {
		return nil, fmt.Errorf("parse shelf %s: %w", path, err)
	}
	for i := range shelf {
		shelf[i] = normalize(shelf[i])
	}
	return shelf, nil
}

func normalize(b Book) Book {
	b.ProgressPercent = min(max(b.ProgressPercent, 0), 100)
	if b.Status == "" {
		b.Status = StatusFor(b.ProgressPercent, 100)
	}
	marks := make([]Bookmark, 0, len(b.Bookmarks))
	for _, m := range b.Bookmarks {
		m.CFI = strings.TrimSpace(m.CFI)
		if m.CFI == "" {
			continue
		}
		if m.Title = strings.TrimSpace(m.Title); m.Title == "" {
			m.Title = "Bookmark"
		}
		marks = append(marks, m)
	}
	b.Bookmarks = marks
	return b
}
