// Package repository implements the store interfaces on gorm and PostgreSQL.
// Every resource query is filtered by the tenant id it is given.
package repository

import (
	"errors"
	"fmt"

	"github.com/suteetoe/shopnest/internal/store"
	"gorm.io/gorm"
)

// translate maps gorm errors onto the store sentinels
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrDuplicate
	}
	return err
}

// affected turns a zero-row write into store.ErrNotFound
func affected(res *gorm.DB) error {
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// orderBy renders a whitelisted ORDER BY clause; unknown fields fall back to created_at
func orderBy(field, order string, allowed []string) string {
	column := "created_at"
	for _, f := range allowed {
		if f == field {
			column = f
			break
		}
	}
	dir := "DESC"
	if !store.SortDesc(order) {
		dir = "ASC"
	}
	return fmt.Sprintf("%s %s, id %s", column, dir, dir)
}

func paginate(q *gorm.DB, p store.Page) *gorm.DB {
	if p.Limit > 0 {
		q = q.Limit(p.Limit)
	}
	return q.Offset(p.Offset())
}

func like(s string) string {
	return "%" + s + "%"
}
