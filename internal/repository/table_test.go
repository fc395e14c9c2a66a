package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sort"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todoapp/internal/models"
)

func TestEncodeEntity(t *testing.T) {
	payload, err := encodeEntity(models.TaskRecord{
		PartitionKey:    models.PartitionKey,
		RowKey:          "abc123",
		TaskDescription: "buy milk",
		IsCompleted:     true,
		ETag:            "ignored",
	})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(payload, &raw))
	assert.Equal(t, "TODO", raw["PartitionKey"])
	assert.Equal(t, "abc123", raw["RowKey"])
	assert.Equal(t, "buy milk", raw["TaskDescription"])
	assert.Equal(t, true, raw["IsCompleted"])
	assert.NotContains(t, raw, "odata.etag")
}

func TestDecodeEntityETagSources(t *testing.T) {
	listed := []byte(`{"odata.etag":"W/\"datetime'1'\"","PartitionKey":"TODO","RowKey":"abc123","TaskDescription":"buy milk","IsCompleted":false}`)

	rec, err := decodeEntity(listed, "")
	require.NoError(t, err)
	assert.Equal(t, `W/"datetime'1'"`, rec.ETag)
	assert.Equal(t, "abc123", rec.RowKey)
	assert.Equal(t, "buy milk", rec.TaskDescription)

	rec, err = decodeEntity(listed, azcore.ETag("from-header"))
	require.NoError(t, err)
	assert.Equal(t, "from-header", rec.ETag)

	_, err = decodeEntity([]byte("not json"), "")
	assert.Error(t, err)
}

func TestTableErrorMapping(t *testing.T) {
	notFound := &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "ResourceNotFound"}
	assert.ErrorIs(t, tableError(notFound), ErrNotFound)

	mismatch := &azcore.ResponseError{StatusCode: http.StatusPreconditionFailed, ErrorCode: "UpdateConditionNotSatisfied"}
	assert.ErrorIs(t, tableError(mismatch), ErrConflict)

	dup := &azcore.ResponseError{StatusCode: http.StatusConflict, ErrorCode: "EntityAlreadyExists"}
	assert.ErrorIs(t, tableError(dup), ErrAlreadyExists)

	busy := &azcore.ResponseError{StatusCode: http.StatusServiceUnavailable}
	err := tableError(busy)
	assert.False(t, errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict))

	plain := errors.New("dial tcp: refused")
	assert.Equal(t, plain, tableError(plain))
}

const devAccountKey = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="

var entityPath = regexp.MustCompile(`^/devstoreaccount1/todos\(PartitionKey='([^']*)',RowKey='([^']*)'\)$`)

type tableCall struct {
	method  string
	ifMatch string
	query   url.Values
}

// fakeTableService answers the Table REST calls the store makes, like Azurite would.
type fakeTableService struct {
	mu       sync.Mutex
	created  bool
	version  int
	entities map[string]map[string]any
	etags    map[string]string
	calls    []tableCall
	// more makes list responses carry a continuation token.
	more bool
}

func newFakeTableService() *fakeTableService {
	return &fakeTableService{entities: map[string]map[string]any{}, etags: map[string]string{}}
}

func (f *fakeTableService) nextETag() string {
	f.version++
	return fmt.Sprintf(`W/"datetime'%d'"`, f.version)
}

func tableFail(w http.ResponseWriter, status int, code string) {
	w.Header().Set("x-ms-error-code", code)
	w.WriteHeader(status)
}

func (f *fakeTableService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tableCall{method: r.Method, ifMatch: r.Header.Get("If-Match"), query: r.URL.Query()})
	w.Header().Set("Content-Type", "application/json;odata=minimalmetadata")

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == "/devstoreaccount1/Tables":
		if f.created {
			tableFail(w, http.StatusConflict, "TableAlreadyExists")
			return
		}
		f.created = true
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"TableName":"todos"}`))

	case r.Method == http.MethodPost && path == "/devstoreaccount1/todos":
		var ent map[string]any
		if err := json.NewDecoder(r.Body).Decode(&ent); err != nil {
			tableFail(w, http.StatusBadRequest, "InvalidInput")
			return
		}
		row, _ := ent["RowKey"].(string)
		if _, ok := f.entities[row]; ok {
			tableFail(w, http.StatusConflict, "EntityAlreadyExists")
			return
		}
		f.entities[row] = ent
		f.etags[row] = f.nextETag()
		w.Header().Set("ETag", f.etags[row])
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && path == "/devstoreaccount1/todos()":
		rows := make([]string, 0, len(f.entities))
		for row := range f.entities {
			rows = append(rows, row)
		}
		sort.Strings(rows)
		value := []map[string]any{}
		for _, row := range rows {
			ent := map[string]any{"odata.etag": f.etags[row]}
			for k, v := range f.entities[row] {
				ent[k] = v
			}
			value = append(value, ent)
		}
		if f.more {
			w.Header().Set("x-ms-continuation-NextPartitionKey", "1!8!VE9ETw--")
			w.Header().Set("x-ms-continuation-NextRowKey", "1!8!eno-")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"value": value})

	case entityPath.MatchString(path):
		row := entityPath.FindStringSubmatch(path)[2]
		ent, ok := f.entities[row]
		if !ok {
			tableFail(w, http.StatusNotFound, "ResourceNotFound")
			return
		}
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("ETag", f.etags[row])
			_ = json.NewEncoder(w).Encode(ent)
		case http.MethodPut, http.MethodDelete:
			if m := r.Header.Get("If-Match"); m != "*" && m != f.etags[row] {
				tableFail(w, http.StatusPreconditionFailed, "UpdateConditionNotSatisfied")
				return
			}
			if r.Method == http.MethodDelete {
				delete(f.entities, row)
				delete(f.etags, row)
			} else {
				var next map[string]any
				_ = json.NewDecoder(r.Body).Decode(&next)
				f.entities[row] = next
				f.etags[row] = f.nextETag()
				w.Header().Set("ETag", f.etags[row])
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeTableService) lastCall() tableCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeTableService) countCalls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func newFakeTableStore(t *testing.T, pageSize int) (*TableStore, *fakeTableService) {
	t.Helper()
	svc := newFakeTableService()
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)
	connStr := "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=" + devAccountKey +
		";TableEndpoint=" + srv.URL + "/devstoreaccount1;"
	s, err := NewTableStore(connStr, "todos", pageSize)
	require.NoError(t, err)
	return s, svc
}

func TestTableEnsureSchemaIdempotent(t *testing.T) {
	s, svc := newFakeTableStore(t, 1000)
	ctx := context.Background()

	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.EnsureSchema(ctx))
	assert.Equal(t, 2, svc.countCalls(http.MethodPost))
	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.True(t, svc.created)
}

func TestTableInsertGet(t *testing.T) {
	s, _ := newFakeTableStore(t, 1000)
	ctx := context.Background()

	inserted, err := s.Insert(ctx, models.Todo{ID: "abc123", TaskDescription: "buy milk"}.ToRecord())
	require.NoError(t, err)
	assert.NotEmpty(t, inserted.ETag)

	got, err := s.Get(ctx, models.PartitionKey, "abc123")
	require.NoError(t, err)
	assert.Equal(t, inserted, got)

	_, err = s.Insert(ctx, models.Todo{ID: "abc123"}.ToRecord())
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = s.Get(ctx, models.PartitionKey, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTableReplaceSendsReadETag(t *testing.T) {
	s, svc := newFakeTableStore(t, 1000)
	ctx := context.Background()
	_, err := s.Insert(ctx, models.Todo{ID: "abc123", TaskDescription: "buy milk"}.ToRecord())
	require.NoError(t, err)

	read, err := s.Get(ctx, models.PartitionKey, "abc123")
	require.NoError(t, err)
	read.IsCompleted = true
	saved, err := s.Replace(ctx, read)
	require.NoError(t, err)

	call := svc.lastCall()
	assert.Equal(t, http.MethodPut, call.method)
	assert.Equal(t, read.ETag, call.ifMatch)
	assert.NotEqual(t, read.ETag, saved.ETag)

	// the token read before the write is now stale
	_, err = s.Replace(ctx, read)
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.Get(ctx, models.PartitionKey, "abc123")
	require.NoError(t, err)
	assert.True(t, got.IsCompleted)
	assert.Equal(t, saved.ETag, got.ETag)
}

func TestTableDeleteUnconditional(t *testing.T) {
	s, svc := newFakeTableStore(t, 1000)
	ctx := context.Background()
	_, err := s.Insert(ctx, models.Todo{ID: "abc123", TaskDescription: "buy milk"}.ToRecord())
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, models.PartitionKey, "abc123", ETagAny))
	call := svc.lastCall()
	assert.Equal(t, http.MethodDelete, call.method)
	assert.Equal(t, "*", call.ifMatch)

	assert.ErrorIs(t, s.Delete(ctx, models.PartitionKey, "abc123", ETagAny), ErrNotFound)
}

func TestTableFirstPageReadsOnePage(t *testing.T) {
	s, svc := newFakeTableStore(t, 2)
	ctx := context.Background()
	for _, id := range []string{"b", "a"} {
		_, err := s.Insert(ctx, models.Todo{ID: id, TaskDescription: "task " + id, IsCompleted: id == "a"}.ToRecord())
		require.NoError(t, err)
	}
	svc.mu.Lock()
	svc.more = true
	svc.mu.Unlock()

	recs, err := s.FirstPage(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].RowKey)
	assert.True(t, recs[0].IsCompleted)
	assert.NotEmpty(t, recs[0].ETag)

	assert.Equal(t, 1, svc.countCalls(http.MethodGet))
	call := svc.lastCall()
	assert.Equal(t, "2", call.query.Get("$top"))
	assert.Equal(t, "PartitionKey eq 'TODO'", call.query.Get("$filter"))
}

func TestTableFirstPageEmpty(t *testing.T) {
	s, _ := newFakeTableStore(t, 1000)

	recs, err := s.FirstPage(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}
