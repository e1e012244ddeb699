package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Tx is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type Tx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

func ParseSortDirection(v string) SortDirection {
	if strings.EqualFold(strings.TrimSpace(v), "asc") {
		return SortAsc
	}
	return SortDesc
}

func FormatLimitOffset(limit, offset int) string {
	if limit > 0 && offset > 0 {
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	}
	if limit > 0 {
		return fmt.Sprintf("LIMIT %d", limit)
	}
	if offset > 0 {
		return fmt.Sprintf("OFFSET %d", offset)
	}
	return ""
}

// OrderBy renders an ORDER BY clause for a whitelisted column. Unknown columns fall back to def.
func OrderBy(column string, allowed map[string]string, def string, dir SortDirection) string {
	col, ok := allowed[column]
	if !ok {
		col = def
	}
	if dir != SortAsc {
		dir = SortDesc
	}
	return fmt.Sprintf("ORDER BY %s %s", col, dir)
}

// Page converts a 1-based page and page size into limit/offset.
func Page(page, pageSize, defaultSize, maxSize int) (int, int) {
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	if maxSize > 0 && pageSize > maxSize {
		pageSize = maxSize
	}
	if page <= 0 {
		page = 1
	}
	return pageSize, (page - 1) * pageSize
}
