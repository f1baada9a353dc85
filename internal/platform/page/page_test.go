package page

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func fromURL(target string) Page {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", target, nil)
	return FromQuery(c)
}

func TestFromQuery(t *testing.T) {
	assert.Equal(t, Page{Limit: DefaultLimit, Offset: 0, Order: "desc"}, fromURL("/x"))
	assert.Equal(t, Page{Limit: 10, Offset: 20, Order: "asc"}, fromURL("/x?limit=10&offset=20&order=ASC"))
	assert.Equal(t, Page{Limit: MaxLimit, Offset: 5, Order: "desc"}, fromURL("/x?limit=9999&skip=5&order=sideways"))
	assert.Equal(t, Page{Limit: DefaultLimit, Offset: 0, Order: "desc"}, fromURL("/x?limit=abc&offset=-3"))
}

func TestNextOffset(t *testing.T) {
	p := Page{Limit: 10, Offset: 0}
	assert.Equal(t, 10, p.NextOffset(25))
	assert.Equal(t, 0, Page{Limit: 10, Offset: 20}.NextOffset(25))
	assert.Equal(t, 0, p.NextOffset(10))
	assert.Equal(t, "DESC", p.Normalize().SQLOrder())
}
