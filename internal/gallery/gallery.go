// Package gallery holds the catalog of protected artworks.
package gallery

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownArtwork is returned for ids that are not in the catalog.
var ErrUnknownArtwork = errors.New("unknown artwork")

const (
	idPrefix = "artwork-"
	size     = 9

	defaultImage = "/huangshan.png"
)

// Artwork is a protected work shown on its own page.
type Artwork struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	Image  string `json:"image"`
}

// ID returns the page id of the n-th artwork.
func ID(n int) string {
	return idPrefix + strconv.Itoa(n)
}

// ParseID extracts the artwork number from a page id such as "artwork-3".
// The number is whatever follows the prefix; it is not checked against the
// catalog.
func ParseID(id string) (int, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(id), idPrefix)
	if !ok || rest == "" {
		return 0, fmt.Errorf("%w: %q", ErrUnknownArtwork, id)
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownArtwork, id)
	}
	return n, nil
}

// Get returns the artwork with the given page id.
func Get(id string) (Artwork, error) {
	n, err := ParseID(id)
	if err != nil {
		return Artwork{}, err
	}
	if n > size {
		return Artwork{}, fmt.Errorf("%w: %q", ErrUnknownArtwork, id)
	}
	return artwork(n), nil
}

// List returns the whole catalog in display order.
func List() []Artwork {
	out := make([]Artwork, 0, size)
	for n := 1; n <= size; n++ {
		out = append(out, artwork(n))
	}
	return out
}

func artwork(n int) Artwork {
	return Artwork{
		ID:     ID(n),
		Number: n,
		Title:  fmt.Sprintf("Artwork #%d", n),
		Image:  defaultImage,
	}
}
