// Package history serves message pages for a room.
package history

import (
	"context"
	"math"

	"chatrelay/internal/errs"
	"chatrelay/internal/models"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Source lists messages of a room newest first.
type Source interface {
	ListMessages(ctx context.Context, roomID string, offset, limit int) ([]*models.Message, error)
}

// Page is one slice of history. Messages are oldest first; HasMore is false
// once the slice reaches the oldest message of the room.
type Page struct {
	Messages []*models.Message `json:"messages"`
	HasMore  bool              `json:"has_more"`
	Page     int               `json:"page"`
	Size     int               `json:"size"`
}

type Pager struct {
	source      Source
	defaultSize int
	maxSize     int
}

func NewPager(source Source, defaultSize, maxSize int) *Pager {
	if maxSize < 1 {
		maxSize = MaxPageSize
	}
	if defaultSize < 1 {
		defaultSize = DefaultPageSize
	}
	if defaultSize > maxSize {
		defaultSize = maxSize
	}
	return &Pager{source: source, defaultSize: defaultSize, maxSize: maxSize}
}

func (p *Pager) DefaultSize() int {
	return p.defaultSize
}

// Page returns messages (page-1)*size .. page*size counted back from the
// newest one. Page 1 is always the most recent slice. Offsets are not
// anchored, so messages arriving between fetches shift later pages.
func (p *Pager) Page(ctx context.Context, roomID string, page, size int) (*Page, error) {
	if roomID == "" {
		return nil, errs.ErrValidation.WithMessage("room id is required")
	}
	if page < 1 {
		return nil, errs.ErrValidation.WithMessage("page must be at least 1, got %d", page)
	}
	if size < 1 {
		return nil, errs.ErrValidation.WithMessage("page size must be at least 1, got %d", size)
	}
	if size > p.maxSize {
		size = p.maxSize
	}
	if page-1 > (math.MaxInt-1)/size {
		return nil, errs.ErrValidation.WithMessage("page %d is out of range", page)
	}

	// One extra row tells whether anything older exists.
	rows, err := p.source.ListMessages(ctx, roomID, (page-1)*size, size+1)
	if err != nil {
		return nil, errs.ErrStoreUnavailable.Wrap(err)
	}

	hasMore := len(rows) > size
	if hasMore {
		rows = rows[:size]
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	if rows == nil {
		rows = []*models.Message{}
	}

	return &Page{Messages: rows, HasMore: hasMore, Page: page, Size: size}, nil
}
