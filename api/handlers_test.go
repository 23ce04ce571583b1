package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/jamiemulcahy/yart/domain"
	"github.com/jamiemulcahy/yart/room"
	"github.com/jamiemulcahy/yart/storage"
)

type testServer struct {
	echo    *echo.Echo
	server  *httptest.Server
	manager *room.Manager
	hook    *test.Hook
}

func newTestServer(t *testing.T, identity *Identity, cfg Config) *testServer {
	t.Helper()
	logger, hook := test.NewNullLogger()
	manager := room.NewManager(room.Options{Store: storage.NewMemory(), Log: logger})
	t.Cleanup(manager.Close)

	e := echo.New()
	e.JSONSerializer = SonicSerializer{}
	e.Use(LimitBody(1 << 20))
	Register(e, manager, identity, cfg, logger)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &testServer{echo: e, server: srv, manager: manager, hook: hook}
}

func (ts *testServer) create(t *testing.T, template string) room.Created {
	t.Helper()
	body := `{"template":"` + template + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create room: status %d body %s", rec.Code, rec.Body.String())
	}
	var created room.Created
	if err := sonic.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	return created
}

func (ts *testServer) dial(t *testing.T, roomID, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/api/rooms/" + roomID + "/ws"
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type serverFrame struct {
	Type string                 `json:"type"`
	Data sonic.NoCopyRawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame serverFrame
	if err := sonic.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame
}

func readSync(t *testing.T, conn *websocket.Conn) domain.View {
	t.Helper()
	frame := readFrame(t, conn)
	if frame.Type != domain.FrameSync {
		t.Fatalf("expected sync frame, got %q", frame.Type)
	}
	var view domain.View
	if err := sonic.Unmarshal(frame.Data, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return view
}

func send(t *testing.T, conn *websocket.Conn, cmd domain.Command) {
	t.Helper()
	raw, err := domain.EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestCreateRoom(t *testing.T) {
	ts := newTestServer(t, nil, Config{})
	created := ts.create(t, "start-stop-continue")
	if created.RoomID == "" || created.AdminToken == "" {
		t.Fatalf("unexpected response %+v", created)
	}

	var found bool
	for _, entry := range ts.hook.AllEntries() {
		if entry.Message == "rooms.request.metrics" {
			found = true
			if entry.Data["template"] != "start-stop-continue" || entry.Data["status"] != http.StatusCreated {
				t.Fatalf("unexpected metrics fields %+v", entry.Data)
			}
		}
	}
	if !found {
		t.Fatalf("expected rooms.request.metrics entry")
	}
}

func TestCreateRoomEmptyBodyUsesDefault(t *testing.T) {
	ts := newTestServer(t, nil, Config{})
	req := httptest.NewRequest(http.MethodPost, "/api/rooms", nil)
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d", rec.Code)
	}
	var created room.Created
	if err := sonic.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	view, err := ts.manager.View(context.Background(), created.RoomID, false, "")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.Meta == nil || view.Meta.Template != domain.DefaultTemplate || len(view.Columns) != 3 {
		t.Fatalf("unexpected room %+v", view)
	}
}

func TestCreateRoomRejectsBadBody(t *testing.T) {
	ts := newTestServer(t, nil, Config{})
	for _, body := range []string{`{"template":`, `{"template":42}`, `{"template":"` + strings.Repeat("x", 101) + `"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(body))
		rec := httptest.NewRecorder()
		ts.echo.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rec.Code)
		}
	}
}

type failingRooms struct{}

func (failingRooms) Create(context.Context, string) (room.Created, error) {
	return room.Created{}, errors.New("storage down")
}

func (failingRooms) View(context.Context, string, bool, string) (domain.View, error) {
	return domain.View{}, errors.New("storage down")
}

func (failingRooms) Connect(context.Context, string, string, string, room.Conn) (*room.Engine, *room.Session, error) {
	return nil, nil, errors.New("storage down")
}

func TestCreateRoomStorageFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	e := echo.New()
	Register(e, failingRooms{}, nil, Config{}, logger)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "rooms.request.metrics" || entry.Data["error_stage"] != "create" {
		t.Fatalf("expected metrics with create error stage, got %+v", entry)
	}
	if entry.Level != log.InfoLevel {
		t.Fatalf("unexpected level %v", entry.Level)
	}
}

func TestGetRoomIsAnonymous(t *testing.T) {
	ts := newTestServer(t, nil, Config{})
	created := ts.create(t, "mad-sad-glad")

	admin := ts.dial(t, created.RoomID, "token="+created.AdminToken)
	view := readSync(t, admin)
	send(t, admin, domain.AddCard{ColumnID: view.Columns[0].ID, Text: "secret draft"})
	readSync(t, admin)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/"+created.RoomID, nil)
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "secret draft") || strings.Contains(body, created.AdminToken) {
		t.Fatalf("anonymous view leaked data: %s", body)
	}
	var got domain.View
	if err := sonic.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.IsAdmin || len(got.Columns) != 3 || len(got.Cards) != 0 {
		t.Fatalf("unexpected view %+v", got)
	}
}

func TestGetUnknownRoomHasNullMeta(t *testing.T) {
	ts := newTestServer(t, nil, Config{})
	req := httptest.NewRequest(http.MethodGet, "/api/rooms/does-not-exist", nil)
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"meta":null`) {
		t.Fatalf("expected null meta, got %s", rec.Body.String())
	}
}

func TestHealthAndInfo(t *testing.T) {
	ts := newTestServer(t, nil, Config{Version: "9.9.9"})

	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(rec.Body.String(), `"name":"YART API"`) || !strings.Contains(rec.Body.String(), "9.9.9") {
		t.Fatalf("unexpected info response %s", rec.Body.String())
	}
}

func TestWebSocketSyncAndMasking(t *testing.T) {
	ts := newTestServer(t, nil, Config{})
	created := ts.create(t, "mad-sad-glad")

	admin := ts.dial(t, created.RoomID, "token="+created.AdminToken)
	adminView := readSync(t, admin)
	if !adminView.IsAdmin {
		t.Fatalf("expected admin view")
	}
	alice := ts.dial(t, created.RoomID, "token=wrong")
	aliceView := readSync(t, alice)
	if aliceView.IsAdmin {
		t.Fatalf("wrong token must not grant admin")
	}

	send(t, alice, domain.AddCard{ColumnID: aliceView.Columns[0].ID, Text: "my idea"})
	aliceView = readSync(t, alice)
	adminView = readSync(t, admin)
	if len(aliceView.Cards) != 1 || aliceView.Cards[0].Text != "my idea" {
		t.Fatalf("author should see own card, got %+v", aliceView.Cards)
	}
	if len(adminView.Cards) != 1 || adminView.Cards[0].Text != "" {
		t.Fatalf("admin should see masked card, got %+v", adminView.Cards)
	}

	send(t, admin, domain.PublishCard{ID: adminView.Cards[0].ID})
	if got := readSync(t, admin).Cards[0].Text; got != "my idea" {
		t.Fatalf("published text should be visible to admin, got %q", got)
	}
	readSync(t, alice)
}

func TestWebSocketDropsBadFrames(t *testing.T) {
	ts := newTestServer(t, nil, Config{})
	created := ts.create(t, "blank")

	participant := ts.dial(t, created.RoomID, "")
	readSync(t, participant)
	admin := ts.dial(t, created.RoomID, "token="+created.AdminToken)
	readSync(t, admin)

	for _, raw := range []string{`not json`, `{"type":"bogus","data":{}}`, `{"type":"column:add","data":{"name":"  "}}`} {
		if err := participant.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	send(t, participant, domain.AddColumn{Name: "Sneaky"})
	send(t, admin, domain.AddColumn{Name: "Real"})

	view := readSync(t, participant)
	if len(view.Columns) != 1 || view.Columns[0].Name != "Real" {
		t.Fatalf("expected only the admin column, got %+v", view.Columns)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	ts := newTestServer(t, nil, Config{Rate: 0.001, Burst: 1})
	created := ts.create(t, "blank")

	admin := ts.dial(t, created.RoomID, "token="+created.AdminToken)
	readSync(t, admin)
	send(t, admin, domain.AddColumn{Name: "First"})
	send(t, admin, domain.AddColumn{Name: "Second"})

	view := readSync(t, admin)
	if len(view.Columns) != 1 || view.Columns[0].Name != "First" {
		t.Fatalf("unexpected columns %+v", view.Columns)
	}
	_ = admin.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := admin.ReadMessage(); err == nil {
		t.Fatalf("rate limited frame must not produce a sync")
	}
}

func TestWebSocketIdentitySurvivesReconnect(t *testing.T) {
	ts := newTestServer(t, NewIdentity("test-secret", time.Hour), Config{})
	created := ts.create(t, "mad-sad-glad")

	first := ts.dial(t, created.RoomID, "")
	frame := readFrame(t, first)
	if frame.Type != domain.FrameIdentity {
		t.Fatalf("expected identity frame first, got %q", frame.Type)
	}
	var ident domain.Identity
	if err := sonic.Unmarshal(frame.Data, &ident); err != nil || ident.Token == "" {
		t.Fatalf("decode identity: %v %+v", err, ident)
	}
	view := readSync(t, first)
	send(t, first, domain.AddCard{ColumnID: view.Columns[0].ID, Text: "keep me"})
	readSync(t, first)
	_ = first.Close()

	again := ts.dial(t, created.RoomID, "identity="+ident.Token)
	if readFrame(t, again).Type != domain.FrameIdentity {
		t.Fatalf("expected identity frame")
	}
	view = readSync(t, again)
	if len(view.Cards) != 1 || view.Cards[0].Text != "keep me" {
		t.Fatalf("reconnected author should see own draft, got %+v", view.Cards)
	}

	stranger := ts.dial(t, created.RoomID, "identity=forged")
	readFrame(t, stranger)
	if cards := readSync(t, stranger).Cards; len(cards) != 0 {
		t.Fatalf("forged identity must not reveal drafts, got %+v", cards)
	}
}

func TestWebSocketRejectsOversizedRoomID(t *testing.T) {
	ts := newTestServer(t, nil, Config{})
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/api/rooms/" + strings.Repeat("x", 101) + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
}

func TestLimitBodyAcceptsGzip(t *testing.T) {
	ts := newTestServer(t, nil, Config{})

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{"template":"blank"}`))
	_ = zw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/rooms", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec = httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid gzip, got %d", rec.Code)
	}
}

func TestGzipEncoded(t *testing.T) {
	cases := map[string]bool{"": false, "gzip": true, "br, GZIP": true, "deflate": false}
	for value, want := range cases {
		h := http.Header{}
		if value != "" {
			h.Set(echo.HeaderContentEncoding, value)
		}
		if got := gzipEncoded(h); got != want {
			t.Fatalf("%q: expected %v, got %v", value, want, got)
		}
	}
}

func TestLimitBodyRejectsOversizedBodies(t *testing.T) {
	e := echo.New()
	e.Use(LimitBody(16))
	e.POST("/echo", func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if !errors.As(err, &tooLarge) {
				t.Errorf("expected MaxBytesError, got %v", err)
			}
			return c.String(http.StatusRequestEntityTooLarge, "too large")
		}
		return c.String(http.StatusOK, string(body))
	})

	send := func(body []byte, gzipped bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(body))
		if gzipped {
			req.Header.Set(echo.HeaderContentEncoding, "gzip")
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}
	compress := func(raw string) []byte {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, _ = zw.Write([]byte(raw))
		_ = zw.Close()
		return buf.Bytes()
	}

	if rec := send([]byte("short"), false); rec.Code != http.StatusOK || rec.Body.String() != "short" {
		t.Fatalf("small body: %d %q", rec.Code, rec.Body.String())
	}
	if rec := send([]byte(strings.Repeat("x", 17)), false); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected plain body over the cap to fail, got %d", rec.Code)
	}
	if rec := send(compress("short"), true); rec.Code != http.StatusOK || rec.Body.String() != "short" {
		t.Fatalf("small gzip body: %d %q", rec.Code, rec.Body.String())
	}
	// Compresses well below the cap but inflates past it.
	if rec := send(compress(strings.Repeat("x", 1024)), true); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected inflated body over the cap to fail, got %d", rec.Code)
	}
}
