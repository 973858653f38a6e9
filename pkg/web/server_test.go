package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-overlay/pkg/analysis"
	"github.com/teslashibe/go-overlay/pkg/engine"
	"github.com/teslashibe/go-overlay/pkg/media"
	"github.com/teslashibe/go-overlay/pkg/protocol"
	"github.com/teslashibe/go-overlay/pkg/render"
	"github.com/teslashibe/go-overlay/pkg/viewport"
)

func newTestServer(t *testing.T, analyzer analysis.Analyzer) (*Server, *engine.Engine) {
	t.Helper()
	r, err := render.New(render.DefaultConfig())
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	e := engine.New(engine.DefaultConfig(), r, viewport.New(viewport.DefaultConfig()))
	t.Cleanup(func() { e.Close() })
	return NewServer(Options{Engine: e, Analyzer: analyzer}), e
}

func stillImage(w, h int) *media.Still {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return media.NewStill(img)
}

func do(t *testing.T, s *Server, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

type viewJSON struct {
	Scale  float64 `json:"scale"`
	Offset struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"offset"`
	Mode string `json:"mode"`
}

func TestViewRoutes(t *testing.T) {
	s, e := newTestServer(t, nil)

	tests := []struct {
		name      string
		method    string
		path      string
		body      string
		wantCode  int
		wantScale float64
	}{
		{"initial", "GET", "/api/view", "", 200, 1},
		{"zoom", "POST", "/api/view/zoom", `{"scale":2.5}`, 200, 2.5},
		{"zoom clamps", "POST", "/api/view/zoom", `{"scale":50}`, 200, 8},
		{"zoom rejects zero", "POST", "/api/view/zoom", `{"scale":0}`, 400, 8},
		{"reset", "POST", "/api/view/reset", "", 200, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, s, tt.method, tt.path, tt.body)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", code, tt.wantCode, body)
			}
			if got := e.View().State().Scale; got != tt.wantScale {
				t.Errorf("scale = %v, want %v", got, tt.wantScale)
			}
			if code != 200 {
				return
			}
			var vs viewJSON
			if err := json.Unmarshal(body, &vs); err != nil {
				t.Fatalf("decode %s: %v", body, err)
			}
			if vs.Scale != tt.wantScale || vs.Mode != "idle" {
				t.Errorf("body = %+v", vs)
			}
		})
	}
}

func TestDetailRoutes(t *testing.T) {
	s, e := newTestServer(t, nil)

	code, body := do(t, s, "POST", "/api/detail", `{"level":140}`)
	if code != 200 || !strings.Contains(string(body), `"level":100`) {
		t.Errorf("set 140: %d %s", code, body)
	}
	do(t, s, "POST", "/api/detail", `{"level":35}`)
	if e.DetailLevel() != 35 {
		t.Errorf("DetailLevel() = %d, want 35", e.DetailLevel())
	}
	if _, body := do(t, s, "GET", "/api/detail", ""); !strings.Contains(string(body), `"level":35`) {
		t.Errorf("get: %s", body)
	}
}

func TestEntityRoutes(t *testing.T) {
	s, e := newTestServer(t, nil)

	if code, body := do(t, s, "GET", "/api/entities", ""); code != 200 || !strings.Contains(string(body), `"entities":[]`) {
		t.Errorf("empty: %d %s", code, body)
	}

	payload := "```json\n" + `{"entities":[{"id":"car","label":"car","box_2d":[400,400,600,600]}]}` + "\n```"
	code, body := do(t, s, "POST", "/api/entities", payload)
	if code != 200 {
		t.Fatalf("post: %d %s", code, body)
	}
	if r := e.Result(); r.Len() != 1 || r.Entities[0].ID != "car" {
		t.Errorf("Result() = %+v", r)
	}

	if code, _ := do(t, s, "POST", "/api/entities", `{"foo":1}`); code != 400 {
		t.Errorf("payload without entities: status %d, want 400", code)
	}

	if code, _ := do(t, s, "DELETE", "/api/entities", ""); code != 204 {
		t.Errorf("delete: status %d", code)
	}
	if e.Result().Len() != 0 {
		t.Error("result should be cleared")
	}
}

func TestSnapshotAndHit(t *testing.T) {
	s, e := newTestServer(t, nil)

	if code, _ := do(t, s, "GET", "/api/snapshot", ""); code != 503 {
		t.Errorf("snapshot before render: status %d, want 503", code)
	}
	if code, _ := do(t, s, "GET", "/api/snapshot?format=gif", ""); code != 400 {
		t.Errorf("unknown format: status %d, want 400", code)
	}

	e.SetMedia(stillImage(1000, 1000))
	do(t, s, "POST", "/api/entities", `{"entities":[{"id":"car","label":"car","box_2d":[400,400,600,600]}]}`)
	e.RenderFrame()

	req := httptest.NewRequest("GET", "/api/snapshot?format=png", nil)
	resp, err := s.App().Test(req, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 1000+2*240 || b.Dy() != 1000 {
		t.Errorf("snapshot size = %v", b)
	}

	tests := []struct {
		body  string
		found bool
	}{
		{`{"x":740,"y":500}`, true},
		{`{"x":290,"y":50}`, false},
	}
	for _, tt := range tests {
		_, body := do(t, s, "POST", "/api/hit", tt.body)
		var hit protocol.HitData
		if err := json.Unmarshal(body, &hit); err != nil {
			t.Fatalf("decode %s: %v", body, err)
		}
		if hit.Found != tt.found || (tt.found && hit.EntityID != "car") {
			t.Errorf("hit %s = %+v", tt.body, hit)
		}
	}
}

func TestSetMedia(t *testing.T) {
	s, e := newTestServer(t, nil)

	var buf bytes.Buffer
	png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 32)))

	req := httptest.NewRequest("POST", "/api/media", bytes.NewReader(buf.Bytes()))
	req.Header.Set("Content-Type", "image/png")
	resp, err := s.App().Test(req, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if size := e.Sampler().Size(); size.W != 64 || size.H != 32 {
		t.Errorf("media size = %+v", size)
	}

	if code, _ := do(t, s, "POST", "/api/media", "not an image"); code != 400 {
		t.Errorf("bad image: status %d, want 400", code)
	}
}

func TestAnalyze(t *testing.T) {
	s, e := newTestServer(t, nil)
	if code, _ := do(t, s, "POST", "/api/analyze", ""); code != 503 {
		t.Errorf("no analyzer: status %d, want 503", code)
	}

	mock := analysis.NewMock()
	s, e = newTestServer(t, mock)
	if code, _ := do(t, s, "POST", "/api/analyze", ""); code != 409 {
		t.Errorf("no media: status %d, want 409", code)
	}

	e.SetMedia(stillImage(320, 240))
	code, body := do(t, s, "POST", "/api/analyze", `{"focus":"animals"}`)
	if code != 200 {
		t.Fatalf("analyze: %d %s", code, body)
	}
	if e.Result().Len() != 2 {
		t.Errorf("committed %d entities, want 2", e.Result().Len())
	}
	calls := mock.Calls()
	if len(calls) != 1 || calls[0].Frames != 1 {
		t.Errorf("calls = %+v", calls)
	}
}

func TestStats(t *testing.T) {
	s, e := newTestServer(t, nil)
	s.AddStats("live", func() any { return fiber.Map{"puts": 3} })
	e.RenderFrame()

	code, body := do(t, s, "GET", "/api/stats", "")
	if code != 200 {
		t.Fatalf("status %d", code)
	}
	var out struct {
		Render  engine.Stats   `json:"render"`
		Live    map[string]int `json:"live"`
		Viewers struct {
			Clients int `json:"clients"`
		} `json:"viewers"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if out.Render.Frames != 1 || out.Render.Placeholders != 1 || out.Live["puts"] != 3 {
		t.Errorf("stats = %s", body)
	}
}

func TestViewerWebSocket(t *testing.T) {
	s, e := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Viewers().Run(ctx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go s.App().Listener(ln)
	defer s.App().Shutdown()

	e.View().SetScale(2)
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/view", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	read := func() *protocol.Message {
		t.Helper()
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			t.Fatalf("parse %s: %v", data, err)
		}
		return msg
	}

	greeting := read()
	var view protocol.ViewData
	greeting.ParseData(&view)
	if greeting.Type != protocol.TypeView || view.Scale != 2 {
		t.Errorf("greeting = %s %s", greeting.Type, greeting.Data)
	}

	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"reset"}`))
	ping, _ := protocol.NewPingMessage("v1")
	data, _ := ping.Bytes()
	ws.WriteMessage(websocket.TextMessage, data)

	pong := read()
	if pong.Type != protocol.TypePong {
		t.Fatalf("reply type = %s", pong.Type)
	}
	if got := e.View().State().Scale; got != 1 {
		t.Errorf("scale after reset = %v", got)
	}

	if code, _ := do(t, s, http.MethodGet, "/ws/view", ""); code != fiber.StatusUpgradeRequired {
		t.Errorf("plain GET /ws/view: status %d", code)
	}
}
