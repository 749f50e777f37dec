package models

import "gorm.io/gorm"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// NewPagination clamps page to >= 1 and pageSize to 1..MaxPageSize.
func NewPagination(page int, pageSize int) Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

func (p *Pagination) setTotal(total int64) {
	p.Total = total
	p.TotalPages = int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
}

func (p Pagination) offset() int {
	return (p.Page - 1) * p.PageSize
}

func paginate(dbCtx *gorm.DB, p Pagination) *gorm.DB {
	return dbCtx.Offset(p.offset()).Limit(p.PageSize)
}
