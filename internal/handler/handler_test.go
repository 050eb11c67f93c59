package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/tracectrl/internal/batcher"
	"github.com/akave-ai/tracectrl/internal/live"
	"github.com/akave-ai/tracectrl/internal/model"
	"github.com/akave-ai/tracectrl/internal/response"
	"github.com/akave-ai/tracectrl/internal/service"
	"github.com/akave-ai/tracectrl/internal/storage"
)

var errDown = errors.New("connection refused")

type stubRegistrar struct {
	next int32
	err  error
	got  *int32
}

func (s *stubRegistrar) Register(_ context.Context, requested *int32) (int32, error) {
	s.got = requested
	if s.err != nil {
		return 0, s.err
	}
	if requested != nil && *requested < s.next {
		return *requested, nil
	}
	id := s.next
	s.next++
	return id, nil
}

type stubLogs struct {
	ingestErr error
	readErr   error
	origin    *netip.Addr
	clientID  int32
	body      *model.LogBody
	logs      []model.Log
	listedFor *int32
}

func (s *stubLogs) Ingest(_ context.Context, clientID int32, origin *netip.Addr, body *model.LogBody) (*model.Receipt, error) {
	if s.ingestErr != nil {
		return nil, s.ingestErr
	}
	s.clientID, s.origin, s.body = clientID, origin, body
	return &model.Receipt{ID: uuid.MustParse("6f1c1a5e-0b7e-4c38-9a1e-3f1f4b2d9c10"), AcceptedAt: time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)}, nil
}

func (s *stubLogs) List(_ context.Context, clientID *int32) ([]model.Log, error) {
	s.listedFor = clientID
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.logs, nil
}

func (s *stubLogs) Get(_ context.Context, id uuid.UUID, clientID int32) (*model.Log, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	for _, l := range s.logs {
		if l.ID == id && l.ClientID == clientID {
			cp := l
			return &cp, nil
		}
	}
	return nil, service.ErrNotFound
}

func newEcho(clients ClientRegistrar, logs LogUseCase) *echo.Echo {
	e := echo.New()
	ch := &ClientHandler{Clients: clients, Log: zerolog.Nop()}
	lh := &LogHandler{Logs: logs, Log: zerolog.Nop()}
	e.POST("/register", ch.Register)
	e.POST("/register/:id", ch.Reconnect)
	e.POST("/log", lh.AddLog, ClientID(true))
	e.GET("/logs", lh.ListLogs, ClientID(false))
	e.GET("/log/:id", lh.GetLog, ClientID(true))
	return e
}

func do(e *echo.Echo, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) response.APIError {
	t.Helper()
	var out response.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const validBody = `{
	"message": "division by zero",
	"message_type": "error",
	"language": "example",
	"snippet": {"line": 10, "code": "x / 0"},
	"backtrace": [{"line_number": 10, "column_number": 3, "code": "x / 0", "name": "main"}],
	"line_number": 10,
	"file_name": "main.ex",
	"warnings": []
}`

func TestRegister(t *testing.T) {
	clients := &stubRegistrar{next: 1}
	e := newEcho(clients, &stubLogs{})

	rec := do(e, http.MethodPost, "/register", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"client_id":1}`, rec.Body.String())
	assert.Nil(t, clients.got)

	rec = do(e, http.MethodPost, "/register/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"client_id":1}`, rec.Body.String())
	require.NotNil(t, clients.got)
	assert.Equal(t, int32(1), *clients.got)

	rec = do(e, http.MethodPost, "/register/42", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"client_id":2}`, rec.Body.String())

	rec = do(e, http.MethodPost, "/register/abc", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.MessageRejected, decodeError(t, rec).Message)

	clients.err = fmt.Errorf("%w: %w", service.ErrStorage, errDown)
	rec = do(e, http.MethodPost, "/register", "", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, response.MessageFailed, decodeError(t, rec).Message)
}

func TestAddLog(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		logs := &stubLogs{}
		e := newEcho(&stubRegistrar{next: 1}, logs)

		rec := do(e, http.MethodPost, "/log", validBody, map[string]string{HeaderClientID: "7"})
		require.Equal(t, http.StatusOK, rec.Code)

		var out struct {
			Message  string    `json:"message"`
			Datetime time.Time `json:"datetime"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, "Log was created with ID 6f1c1a5e-0b7e-4c38-9a1e-3f1f4b2d9c10", out.Message)
		assert.True(t, out.Datetime.Equal(time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)))

		assert.Equal(t, int32(7), logs.clientID)
		require.NotNil(t, logs.origin)
		assert.Equal(t, "192.0.2.1", logs.origin.String())
		assert.Equal(t, "division by zero", logs.body.Message)
		require.Len(t, logs.body.Backtrace, 1)
		assert.Equal(t, "main", logs.body.Backtrace[0].Name)
	})

	t.Run("header problems are rejected before ingest", func(t *testing.T) {
		for name, header := range map[string]map[string]string{
			"missing":     nil,
			"non-integer": {HeaderClientID: "seven"},
			"overflow":    {HeaderClientID: "99999999999"},
		} {
			t.Run(name, func(t *testing.T) {
				logs := &stubLogs{}
				e := newEcho(&stubRegistrar{}, logs)
				rec := do(e, http.MethodPost, "/log", validBody, header)
				require.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Equal(t, response.MessageRejected, decodeError(t, rec).Message)
				assert.Nil(t, logs.body)
			})
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		e := newEcho(&stubRegistrar{}, &stubLogs{})
		rec := do(e, http.MethodPost, "/log", `{"message":`, map[string]string{HeaderClientID: "1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("service errors", func(t *testing.T) {
		cases := []struct {
			err     error
			status  int
			message string
		}{
			{service.ErrUnknownClient, http.StatusBadRequest, response.MessageRejected},
			{fmt.Errorf("%w: message required", service.ErrInvalidPayload), http.StatusBadRequest, response.MessageRejected},
			{fmt.Errorf("%w: persist log: %w", service.ErrStorage, errDown), http.StatusInternalServerError, response.MessageFailed},
		}
		for _, tc := range cases {
			e := newEcho(&stubRegistrar{}, &stubLogs{ingestErr: tc.err})
			rec := do(e, http.MethodPost, "/log", validBody, map[string]string{HeaderClientID: "1"})
			require.Equal(t, tc.status, rec.Code, tc.err.Error())
			apiErr := decodeError(t, rec)
			assert.Equal(t, tc.message, apiErr.Message)
			assert.Equal(t, "/log", apiErr.Path)
			assert.NotContains(t, apiErr.Error, errDown.Error())
		}
	})
}

func TestListLogs(t *testing.T) {
	logs := &stubLogs{}
	e := newEcho(&stubRegistrar{}, logs)

	rec := do(e, http.MethodGet, "/logs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Nil(t, logs.listedFor)

	rec = do(e, http.MethodGet, "/logs", "", map[string]string{HeaderClientID: "3"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, logs.listedFor)
	assert.Equal(t, int32(3), *logs.listedFor)

	logs.readErr = service.ErrUnknownClient
	rec = do(e, http.MethodGet, "/logs", "", map[string]string{HeaderClientID: "3"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	logs.readErr = fmt.Errorf("%w: %w", service.ErrStorage, errDown)
	rec = do(e, http.MethodGet, "/logs", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetLog(t *testing.T) {
	id := uuid.New()
	origin := netip.MustParseAddr("203.0.113.9")
	logs := &stubLogs{logs: []model.Log{{
		ID:           id,
		Message:      "boom",
		Language:     "example",
		Backtrace:    model.Trace{Layers: []model.Layer{{LineNumber: 1, Name: "a"}, {LineNumber: 2, Name: "b"}}},
		Warnings:     []string{},
		ReceivedFrom: &origin,
		ClientID:     5,
	}}}
	e := newEcho(&stubRegistrar{}, logs)

	rec := do(e, http.MethodGet, "/log/"+id.String(), "", map[string]string{HeaderClientID: "5"})
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Log
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "a", got.Backtrace.Layers[0].Name)
	assert.Equal(t, "b", got.Backtrace.Layers[1].Name)
	assert.Equal(t, origin, *got.ReceivedFrom)
	assert.NotContains(t, rec.Body.String(), "client_id")

	rec = do(e, http.MethodGet, "/log/"+id.String(), "", map[string]string{HeaderClientID: "6"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(e, http.MethodGet, "/log/not-a-uuid", "", map[string]string{HeaderClientID: "5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodGet, "/log/"+id.String(), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubArchive struct {
	objects []storage.ObjectInfo
	logs    map[string][]model.Log
	err     error
	prefix  string
}

func (a *stubArchive) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	a.prefix = prefix
	return a.objects, a.err
}

func (a *stubArchive) GetLogs(_ context.Context, key string) ([]model.Log, error) {
	if a.err != nil {
		return nil, a.err
	}
	logs, ok := a.logs[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, storage.ErrObjectNotFound)
	}
	return logs, nil
}

type stubStatus struct{ st batcher.Status }

func (s stubStatus) Status() batcher.Status { return s.st }

func uploadsEcho(h *UploadHandler) *echo.Echo {
	e := echo.New()
	e.GET("/uploads", h.List)
	e.GET("/uploads/content", h.Content)
	e.GET("/uploads/status", h.Status)
	return e
}

func TestUploads(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		e := uploadsEcho(&UploadHandler{})

		rec := do(e, http.MethodGet, "/uploads", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"objects":[]`)

		rec = do(e, http.MethodGet, "/uploads/content?key=x", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = do(e, http.MethodGet, "/uploads/status", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"enabled":false`)
	})

	t.Run("configured", func(t *testing.T) {
		key := "logs/client-1/2026/10/16/b.json.gz"
		archive := &stubArchive{
			objects: []storage.ObjectInfo{{Key: key, Size: 42}},
			logs:    map[string][]model.Log{key: {{ID: uuid.New(), Message: "archived"}}},
		}
		e := uploadsEcho(&UploadHandler{
			Archive: archive,
			Batcher: stubStatus{batcher.Status{Enabled: true, LastKey: key, LastCount: 1}},
		})

		rec := do(e, http.MethodGet, "/uploads", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, storage.RootPrefix, archive.prefix)
		assert.Contains(t, rec.Body.String(), key)

		do(e, http.MethodGet, "/uploads?prefix=logs/client-1/", "", nil)
		assert.Equal(t, "logs/client-1/", archive.prefix)

		rec = do(e, http.MethodGet, "/uploads/content?key="+key, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "archived")

		rec = do(e, http.MethodGet, "/uploads/content", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = do(e, http.MethodGet, "/uploads/content?key=logs/missing", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = do(e, http.MethodGet, "/uploads/status", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"last_upload_count":1`)

		archive.err = errDown
		rec = do(e, http.MethodGet, "/uploads", "", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubPeers []live.PeerInfo

func (p stubPeers) Snapshot() []live.PeerInfo { return p }

func TestDiagnostics(t *testing.T) {
	h := &DiagnosticsHandler{
		Database: stubPinger{},
		Cache:    stubPinger{err: errDown},
		Peers:    stubPeers{{Addr: "127.0.0.1:50000", ConnectedAt: time.Now()}},
	}
	e := echo.New()
	e.GET("/health", h.Health)
	e.GET("/live/peers", h.ListPeers)

	rec := do(e, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), errDown.Error())

	rec = do(e, http.MethodGet, "/live/peers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "127.0.0.1:50000")
	assert.Contains(t, rec.Body.String(), `"count":1`)

	h.Database = stubPinger{err: errDown}
	rec = do(e, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDocs(t *testing.T) {
	h, err := NewDocsHandler()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/register", "/register/{id}", "/log", "/logs", "/log/{id}"}, h.Paths())

	e := echo.New()
	e.GET(DocsPath, h.Page)
	e.GET(DocsPath+"/openapi.json", h.Document)

	rec := do(e, http.MethodGet, DocsPath+"/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON)

	var doc struct {
		OpenAPI string `json:"openapi"`
		Info    struct {
			Title string `json:"title"`
		} `json:"info"`
		Paths map[string]map[string]struct {
			Parameters []struct {
				Ref  string `json:"$ref"`
				Name string `json:"name"`
				In   string `json:"in"`
			} `json:"parameters"`
		} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc.OpenAPI)
	assert.Equal(t, "TraceCTRL", doc.Info.Title)
	require.Contains(t, doc.Paths, "/log")
	require.Contains(t, doc.Paths["/log"], "post")
	require.Contains(t, doc.Paths["/logs"], "get")
	require.Contains(t, doc.Paths["/log/{id}"], "get")
	require.Contains(t, doc.Paths["/register"], "post")
	require.Contains(t, doc.Paths["/register/{id}"], "post")
	assert.NotEmpty(t, doc.Paths["/log"]["post"].Parameters)

	rec = do(e, http.MethodGet, DocsPath, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMETextHTML)
	assert.Contains(t, rec.Body.String(), `spec-url="/docs/openapi.json"`)
}
