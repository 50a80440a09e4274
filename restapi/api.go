// Package restapi exposes a MentatSync storage over HTTP with gin.
//
// The surface is a thin shim: it validates identifiers the way the path
// patterns of the original service did, decodes request bodies, and maps
// the storage error taxonomy to status codes (404 not found, 409 conflict,
// 500 otherwise). Authentication and ACL sit in front of this router and
// are not its concern.
package restapi

import (
	"errors"
	"io"
	log "log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mentatsync/mentatsync"
)

// API holds the storage the handlers run against.
type API struct {
	store mentatsync.Storage
}

// NewRouter builds the gin engine serving the /0.1/{userid} surface over
// the given storage.
func NewRouter(store mentatsync.Storage) *gin.Engine {
	a := &API{store: store}

	router := gin.New()
	router.Use(gin.Recovery())

	// A simple "It Works!" view at the site root, so that it's easy to
	// see if the service is correctly running.
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "It Works!  MentatSync is successfully running on this host.")
	})

	user := router.Group("/0.1/:userid")
	user.Use(validateUserID)
	user.GET("", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	user.GET("/head", a.getHead)
	user.PUT("/head", a.putHead)
	user.GET("/transactions", a.getTransactions)
	user.GET("/transactions/:transaction", a.getTransaction)
	user.PUT("/transactions/:transaction", a.putTransaction)
	user.GET("/chunks/:chunk", a.getChunk)
	user.PUT("/chunks/:chunk", a.putChunk)

	return router
}

// validateUserID rejects malformed userids with 404, matching what a
// pattern-restricted route would have done.
func validateUserID(c *gin.Context) {
	if !mentatsync.ValidTrnID(c.Param("userid")) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	c.Next()
}

// abortWithStorageError maps the storage error taxonomy onto status codes.
func abortWithStorageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, mentatsync.ErrNotFound):
		c.AbortWithStatus(http.StatusNotFound)
	case errors.Is(err, mentatsync.ErrConflict):
		c.AbortWithStatus(http.StatusConflict)
	default:
		log.Error("storage operation failed", "path", c.FullPath(), "error", err)
		c.AbortWithStatus(http.StatusInternalServerError)
	}
}

func (a *API) getHead(c *gin.Context) {
	head, err := a.store.GetHead(c.Request.Context(), c.Param("userid"))
	if err != nil {
		abortWithStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"head": head})
}

type headBody struct {
	Head string `json:"head" binding:"required"`
}

func (a *API) putHead(c *gin.Context) {
	var body headBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	if err := a.store.SetHead(c.Request.Context(), c.Param("userid"), body.Head); err != nil {
		abortWithStorageError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) getTransactions(c *gin.Context) {
	from := c.DefaultQuery("from", mentatsync.RootTransaction)
	if !mentatsync.ValidTrnID(from) {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(mentatsync.DefaultTransactionLimit)))
	if err != nil || limit < 0 {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	trns, err := a.store.GetTransactions(c.Request.Context(), c.Param("userid"), from, limit)
	if err != nil {
		abortWithStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from":         from,
		"limit":        limit,
		"transactions": trns,
	})
}

func (a *API) getTransaction(c *gin.Context) {
	trnid := c.Param("transaction")
	if !mentatsync.ValidTrnID(trnid) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	trn, err := a.store.GetTransaction(c.Request.Context(), c.Param("userid"), trnid)
	if err != nil {
		abortWithStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, trn)
}

type transactionBody struct {
	Parent string   `json:"parent" binding:"required"`
	Chunks []string `json:"chunks"`
}

func (a *API) putTransaction(c *gin.Context) {
	trnid := c.Param("transaction")
	if !mentatsync.ValidTrnID(trnid) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	var body transactionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	err := a.store.CreateTransaction(c.Request.Context(), c.Param("userid"), trnid, body.Parent, body.Chunks)
	if err != nil {
		abortWithStorageError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (a *API) getChunk(c *gin.Context) {
	chunkid := c.Param("chunk")
	if !mentatsync.ValidChunkID(chunkid) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	payload, err := a.store.GetChunk(c.Request.Context(), c.Param("userid"), chunkid)
	if err != nil {
		abortWithStorageError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", payload)
}

func (a *API) putChunk(c *gin.Context) {
	chunkid := c.Param("chunk")
	if !mentatsync.ValidChunkID(chunkid) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	if err := a.store.CreateChunk(c.Request.Context(), c.Param("userid"), chunkid, payload); err != nil {
		abortWithStorageError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}
