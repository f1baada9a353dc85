package page

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

type Page struct {
	Limit  int
	Offset int
	Order  string // "asc" or "desc"
}

// FromQuery は ?limit=&offset=&order= を読む。旧クライアントの ?skip= も offset として受ける
func FromQuery(c *gin.Context) Page {
	off := atoiDef(c.Query("offset"), -1)
	if off < 0 {
		off = atoiDef(c.Query("skip"), 0)
	}
	p := Page{
		Limit:  atoiDef(c.Query("limit"), DefaultLimit),
		Offset: off,
		Order:  strings.ToLower(c.DefaultQuery("order", "desc")),
	}
	return p.Normalize()
}

func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Order != "asc" {
		p.Order = "desc"
	}
	return p
}

// SQLOrder は ORDER BY に埋め込む安全な値
func (p Page) SQLOrder() string {
	if p.Order == "asc" {
		return "ASC"
	}
	return "DESC"
}

func (p Page) NextOffset(total int64) int {
	n := p.Offset + p.Limit
	if n >= int(total) {
		return 0
	}
	return n
}

func atoiDef(s string, d int) int {
	if s == "" {
		return d
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return n
}
