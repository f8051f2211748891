package remotetest

import (
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-offline-core/internal/remote"
)

// Server wraps a Memory store in the sync gateway's REST dialect so the
// HTTP remote client can be exercised end to end.
type Server struct {
	*httptest.Server
	Store *Memory
}

// NewServer starts an httptest server over the given memory store.
// Callers own Close.
func NewServer(store *Memory) *Server {
	if store == nil {
		store = NewMemory()
	}
	gin.SetMode(gin.TestMode)
	router := gin.New()

	router.GET("/v1/:table", func(c *gin.Context) {
		table := c.Param("table")
		if !remote.ValidTable(table) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown table"})
			return
		}
		filter := remote.Filter{
			Eq:        map[string]string{},
			Search:    c.Query("search"),
			DateField: c.Query("date_field"),
			From:      c.Query("from"),
			To:        c.Query("to"),
		}
		if fields := c.Query("search_fields"); fields != "" {
			filter.SearchFields = strings.Split(fields, ",")
		}
		for key, values := range c.Request.URL.Query() {
			if strings.HasPrefix(key, "eq.") && len(values) > 0 {
				filter.Eq[strings.TrimPrefix(key, "eq.")] = values[0]
			}
		}
		records, err := store.Select(c.Request.Context(), table, c.Query("school_id"), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if records == nil {
			records = []remote.Record{}
		}
		c.JSON(http.StatusOK, records)
	})

	router.POST("/v1/:table", func(c *gin.Context) {
		table := c.Param("table")
		var rec remote.Record
		if err := c.ShouldBindJSON(&rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := store.Insert(c.Request.Context(), table, rec); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, rec)
	})

	router.PUT("/v1/:table/:id", func(c *gin.Context) {
		table := c.Param("table")
		var rec remote.Record
		if err := c.ShouldBindJSON(&rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec.ID = c.Param("id")
		if err := store.Update(c.Request.Context(), table, rec); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	router.DELETE("/v1/:table/:id", func(c *gin.Context) {
		table := c.Param("table")
		id := c.Param("id")
		if _, ok := store.Get(table, id); !ok {
			// Exercises the client's missing-delete tolerance.
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if err := store.Delete(c.Request.Context(), table, id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	return &Server{Server: httptest.NewServer(router), Store: store}
}
