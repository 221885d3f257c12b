package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suteetoe/shopnest/internal/store"
)

func queryContext(query string) echo.Context {
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return echo.New().NewContext(req, httptest.NewRecorder())
}

func TestParsePage(t *testing.T) {
	var v validator
	p := parsePage(queryContext(""), &v)
	assert.False(t, v.failed())
	assert.Equal(t, store.Page{Page: 1, Limit: store.DefaultPageSize}, p)

	v = validator{}
	p = parsePage(queryContext("page=3&limit=50"), &v)
	assert.False(t, v.failed())
	assert.Equal(t, store.Page{Page: 3, Limit: 50}, p)

	v = validator{}
	p = parsePage(queryContext("page=0&limit=101"), &v)
	require.Len(t, v.errs, 2)
	assert.Equal(t, "page", v.errs[0].Field)
	assert.Equal(t, "limit", v.errs[1].Field)
	assert.Equal(t, store.Page{Page: 1, Limit: store.DefaultPageSize}, p)
}

func TestNewPagination(t *testing.T) {
	p := newPagination(store.Page{Page: 2, Limit: 10}, 25)
	assert.Equal(t, 3, p.TotalPages)
	assert.True(t, p.HasNextPage)
	assert.True(t, p.HasPrevPage)

	p = newPagination(store.Page{Page: 1, Limit: 10}, 0)
	assert.Equal(t, 0, p.TotalPages)
	assert.False(t, p.HasNextPage)
	assert.False(t, p.HasPrevPage)
}

func TestPercentOf(t *testing.T) {
	assert.Equal(t, int64(0), percentOf(5, 0))
	assert.Equal(t, int64(33), percentOf(1, 3))
	assert.Equal(t, int64(100), percentOf(2, 2))
}

func TestParseID(t *testing.T) {
	id, ok := parseID("42")
	assert.True(t, ok)
	assert.Equal(t, uint(42), id)

	for _, raw := range []string{"", "0", "-1", "abc"} {
		_, ok := parseID(raw)
		assert.False(t, ok, raw)
	}
}

func TestParseOptionalTime(t *testing.T) {
	var v validator
	got := parseOptionalTime(queryContext("date_from=2024-06-01"), &v, "date_from")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC), *got)

	assert.Nil(t, parseOptionalTime(queryContext(""), &v, "date_from"))
	assert.False(t, v.failed())

	assert.Nil(t, parseOptionalTime(queryContext("date_from=yesterday"), &v, "date_from"))
	assert.True(t, v.failed())
}

func TestParseOptionalFloat(t *testing.T) {
	var v validator
	got := parseOptionalFloat(queryContext("min_price=9.5"), &v, "min_price")
	require.NotNil(t, got)
	assert.Equal(t, 9.5, *got)

	assert.Nil(t, parseOptionalFloat(queryContext("min_price=cheap"), &v, "min_price"))
	assert.Equal(t, "min_price must be a number", v.errs[0].Message)
}
