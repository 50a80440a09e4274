package restapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentatsync/mentatsync"
	"github.com/mentatsync/mentatsync/inmemory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func request(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func requestJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	ba, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return request(router, method, path, ba)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSiteRoot(t *testing.T) {
	router := NewRouter(inmemory.New())
	w := request(router, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "It Works!")
}

func TestBasicCreationOfNewTransactions(t *testing.T) {
	router := NewRouter(inmemory.New())
	root := "/0.1/" + uuid.NewString()

	// Initially, head is the empty root transaction.
	w := request(router, http.MethodGet, root+"/head", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, mentatsync.RootTransaction, decode(t, w)["head"])

	// We can upload some chunks.
	w = request(router, http.MethodPut, root+"/chunks/aaaaaaaa", []byte("ayayayayayayayayayayayaya"))
	require.Equal(t, http.StatusCreated, w.Code)
	w = request(router, http.MethodPut, root+"/chunks/bbbbbbbb", []byte("beebeebeebeebeebeebeebeebee"))
	require.Equal(t, http.StatusCreated, w.Code)

	// And link them into a transaction.
	trn1 := uuid.NewString()
	w = requestJSON(router, http.MethodPut, root+"/transactions/"+trn1, gin.H{
		"parent": mentatsync.RootTransaction,
		"chunks": []string{"bbbbbbbb", "aaaaaaaa"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// We can add a second transaction descending from the first.
	w = request(router, http.MethodPut, root+"/chunks/cccccccc", []byte("sisisisisisisisisisi"))
	require.Equal(t, http.StatusCreated, w.Code)

	trn2 := uuid.NewString()
	w = requestJSON(router, http.MethodPut, root+"/transactions/"+trn2, gin.H{
		"parent": trn1,
		"chunks": []string{"cccccccc"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// We can commit the second transaction as the new head.
	w = requestJSON(router, http.MethodPut, root+"/head", gin.H{"head": trn2})
	require.Equal(t, http.StatusNoContent, w.Code)

	// It will become the new head.
	w = request(router, http.MethodGet, root+"/head", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, trn2, decode(t, w)["head"])

	// And we can fetch all transactions from root to head.
	w = request(router, http.MethodGet, root+"/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{trn1, trn2}, decode(t, w)["transactions"])

	// As well as from an intermediate transaction.
	w = request(router, http.MethodGet, root+"/transactions?from="+trn1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{trn2}, decode(t, w)["transactions"])

	// And can fetch all the chunks to download a given transaction.
	w = request(router, http.MethodGet, root+"/transactions/"+trn1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, []any{"bbbbbbbb", "aaaaaaaa"}, body["chunks"])
	assert.Equal(t, mentatsync.RootTransaction, body["parent"])
	assert.Equal(t, float64(1), body["seq"])

	w = request(router, http.MethodGet, root+"/chunks/bbbbbbbb", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "beebeebeebeebeebeebeebeebee", w.Body.String())
}

func TestNotFoundMapping(t *testing.T) {
	router := NewRouter(inmemory.New())
	root := "/0.1/" + uuid.NewString()

	// Malformed identifiers never reach the storage.
	w := request(router, http.MethodGet, "/0.1/not-a-userid/head", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = request(router, http.MethodGet, root+"/transactions/not-a-trnid", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = request(router, http.MethodGet, root+"/chunks/NOT_VALID", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Well-formed but absent entities are 404 too.
	w = request(router, http.MethodGet, root+"/transactions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = request(router, http.MethodGet, root+"/chunks/absent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// A transaction referencing a missing chunk maps to 404.
	w = requestJSON(router, http.MethodPut, root+"/transactions/"+uuid.NewString(), gin.H{
		"parent": mentatsync.RootTransaction,
		"chunks": []string{"no-such"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConflictMapping(t *testing.T) {
	router := NewRouter(inmemory.New())
	root := "/0.1/" + uuid.NewString()

	w := request(router, http.MethodPut, root+"/chunks/xx", []byte("x"))
	require.Equal(t, http.StatusCreated, w.Code)

	trn1 := uuid.NewString()
	w = requestJSON(router, http.MethodPut, root+"/transactions/"+trn1, gin.H{
		"parent": mentatsync.RootTransaction,
		"chunks": []string{"xx"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// A second pending sibling off the root conflicts.
	w = requestJSON(router, http.MethodPut, root+"/transactions/"+uuid.NewString(), gin.H{
		"parent": mentatsync.RootTransaction,
		"chunks": []string{"xx"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Committing a transaction that isn't a valid pending leaf conflicts.
	w = requestJSON(router, http.MethodPut, root+"/head", gin.H{"head": uuid.NewString()})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBadRequests(t *testing.T) {
	router := NewRouter(inmemory.New())
	root := "/0.1/" + uuid.NewString()

	w := request(router, http.MethodGet, root+"/transactions?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = request(router, http.MethodGet, root+"/transactions?from=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = request(router, http.MethodPut, root+"/head", []byte("not json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = request(router, http.MethodPut, root+"/transactions/"+uuid.NewString(), []byte("not json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
