package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"gihan9a/docpatch/internal/config"
	"gihan9a/docpatch/internal/coordinator"
	"gihan9a/docpatch/internal/document"
	"gihan9a/docpatch/internal/logging"
	"gihan9a/docpatch/internal/store"
	"gihan9a/docpatch/internal/utils"
	"gihan9a/docpatch/pkg/patchproto"
)

type fixture struct {
	srv   *Server
	coord *coordinator.Coordinator
	http  *httptest.Server
}

func newFixture(t *testing.T, mutate func(cfg *config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Watch = false
	if mutate != nil {
		mutate(cfg)
	}
	coord := coordinator.New(store.NewMemoryStore(), coordinator.Options{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Logger:         logging.Discard(),
	})
	srv, err := New(cfg, coord, logging.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hs := httptest.NewServer(srv.SetupRoutes())
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
	})
	return &fixture{srv: srv, coord: coord, http: hs}
}

func (f *fixture) seed(t *testing.T, id, body string) {
	t.Helper()
	if _, err := f.coord.Put(context.Background(), id, document.MustParse(body), nil); err != nil {
		t.Fatalf("seeding %s: %v", id, err)
	}
}

func (f *fixture) root(t *testing.T, id string) *document.Node {
	t.Helper()
	doc, err := f.coord.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return doc.Root
}

func (f *fixture) do(t *testing.T, method, path, contentType, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := f.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) patchproto.Response {
	t.Helper()
	var out patchproto.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func assertJSON(t *testing.T, want string, got []byte) {
	t.Helper()
	g, err := document.Parse(got)
	if err != nil {
		t.Fatalf("parsing %q: %v", got, err)
	}
	if w := document.MustParse(want); !document.Equal(w, g) {
		t.Errorf("document = %s, want %s", g, w)
	}
}

func TestPatchRequest(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "notes", `{"items":["a","c"]}`)

	resp := f.do(t, http.MethodPost, "/patch-requests", contentTypeJSON,
		`{"id":"notes","operations":[{"op":"add","path":"/items/1","value":"b"}]}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Version"); got != utils.FormatVersion(2) {
		t.Errorf("Version header = %q", got)
	}

	out := decodeResponse(t, resp)
	if out.Status != patchproto.StatusSuccess || out.NewVersion != 2 {
		t.Errorf("response = %+v", out)
	}
	assertJSON(t, `{"items":["a","b","c"]}`, out.Document)
	wantInverse := []patchproto.Operation{{Op: "remove", Path: "/items/1"}}
	if diff := cmp.Diff(wantInverse, out.Inverse); diff != "" {
		t.Errorf("inverse mismatch (-want +got):\n%s", diff)
	}
}

func TestPatchRequestFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "doc", `{"a":{"b":1},"list":[1,2]}`)

	tests := []struct {
		name      string
		body      string
		status    int
		kind      patchproto.ErrorKind
		wantIndex *int
	}{
		{
			name:   "malformed json",
			body:   `{"id":`,
			status: http.StatusBadRequest,
			kind:   patchproto.MalformedPatch,
		},
		{
			name:   "unknown op",
			body:   `{"id":"doc","operations":[{"op":"frob","path":"/a"}]}`,
			status: http.StatusBadRequest,
			kind:   patchproto.MalformedPatch,
		},
		{
			name:   "no operations",
			body:   `{"id":"doc","operations":[]}`,
			status: http.StatusBadRequest,
			kind:   patchproto.MalformedPatch,
		},
		{
			name:      "test failed",
			body:      `{"id":"doc","operations":[{"op":"replace","path":"/a/b","value":2},{"op":"test","path":"/a/b","value":3}]}`,
			status:    http.StatusConflict,
			kind:      patchproto.TestFailed,
			wantIndex: ptr(1),
		},
		{
			name:      "path not found",
			body:      `{"id":"doc","operations":[{"op":"remove","path":"/missing"}]}`,
			status:    http.StatusUnprocessableEntity,
			kind:      patchproto.PathNotFound,
			wantIndex: ptr(0),
		},
		{
			name:      "index past end",
			body:      `{"id":"doc","operations":[{"op":"add","path":"/list/2","value":3}]}`,
			status:    http.StatusUnprocessableEntity,
			kind:      patchproto.PathNotFound,
			wantIndex: ptr(0),
		},
		{
			name:      "move into child",
			body:      `{"id":"doc","operations":[{"op":"move","from":"/a","path":"/a/b/c"}]}`,
			status:    http.StatusUnprocessableEntity,
			kind:      patchproto.InvalidMove,
			wantIndex: ptr(0),
		},
		{
			name:   "unknown document",
			body:   `{"id":"nope","operations":[{"op":"add","path":"/x","value":1}]}`,
			status: http.StatusNotFound,
			kind:   patchproto.NotFound,
		},
		{
			name:   "stale expected version",
			body:   `{"id":"doc","expectedVersion":7,"operations":[{"op":"add","path":"/x","value":1}]}`,
			status: http.StatusPreconditionFailed,
			kind:   patchproto.PreconditionFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/patch-requests", contentTypeJSON, tt.body, nil)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			out := decodeResponse(t, resp)
			if out.Status != patchproto.StatusFailure || out.ErrorKind != tt.kind {
				t.Errorf("response = %+v, want kind %s", out, tt.kind)
			}
			if tt.wantIndex != nil {
				if diff := cmp.Diff(tt.wantIndex, out.OperationIndex); diff != "" {
					t.Errorf("operation index mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}

	// None of the failures may have touched the document.
	doc, err := f.coord.Get(context.Background(), "doc")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != 1 {
		t.Errorf("version = %d after failed requests, want 1", doc.Version)
	}
}

func ptr[T any](v T) *T { return &v }

func TestPatchRequestCreatesWithExpectedZero(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodPost, "/patch-requests", contentTypeJSON,
		`{"id":"fresh","expectedVersion":0,"operations":[{"op":"add","path":"","value":{"n":1}}]}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decodeResponse(t, resp)
	if out.NewVersion != 1 {
		t.Errorf("new version = %d, want 1", out.NewVersion)
	}
	assertJSON(t, `{"n":1}`, out.Document)
}

func TestPut(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPut, "/documents/team/roster", contentTypeJSON, `{"members":[]}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPut, "/documents/team/roster", contentTypeJSON, `{"members":["ana"]}`,
		map[string]string{"If-Match": utils.FormatVersion(1)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replace status = %d, want 200", resp.StatusCode)
	}
	out := decodeResponse(t, resp)
	if out.NewVersion != 2 {
		t.Errorf("new version = %d, want 2", out.NewVersion)
	}

	resp = f.do(t, http.MethodPut, "/documents/team/roster", contentTypeJSON, `{}`,
		map[string]string{"If-Match": utils.FormatVersion(1)})
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Errorf("stale If-Match status = %d, want 412", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPut, "/documents/team/roster", contentTypeJSON, `{"broken"`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid body status = %d, want 400", resp.StatusCode)
	}

	assertJSON(t, `{"members":["ana"]}`, []byte(f.root(t, "team/roster").String()))
}

func TestPatchContentTypes(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "cfg", `{"title":"a","tags":["x"],"n":1}`)

	resp := f.do(t, http.MethodPatch, "/documents/cfg", contentTypeMerge, `{"title":"b","tags":null}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("merge status = %d", resp.StatusCode)
	}
	assertJSON(t, `{"title":"b","n":1}`, decodeResponse(t, resp).Document)

	resp = f.do(t, http.MethodPatch, "/documents/cfg", contentTypeJSONPatch, `[{"op":"replace","path":"/n","value":2}]`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("json patch status = %d", resp.StatusCode)
	}
	assertJSON(t, `{"title":"b","n":2}`, decodeResponse(t, resp).Document)

	resp = f.do(t, http.MethodPatch, "/documents/cfg", "text/plain", `n=3`, nil)
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("text/plain status = %d, want 415", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPatch, "/documents/missing", contentTypeMerge, `{"a":1}`, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("merge on missing status = %d, want 404", resp.StatusCode)
	}
}

func TestGet(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "doc", `{"b":1,"a":2}`)
	f.seed(t, "doc", `{"b":1,"a":3}`)

	resp := f.do(t, http.MethodGet, "/documents/doc", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(body), `{"b":1,"a":3}`; got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
	wantHeaders := map[string]string{
		"Version":      utils.FormatVersion(2),
		"Parents":      utils.FormatVersion(1),
		"Content-Type": contentTypeJSON,
		"ETag":         utils.FormatVersion(2),
	}
	gotHeaders := map[string]string{}
	for k := range wantHeaders {
		gotHeaders[k] = resp.Header.Get(k)
	}
	if diff := cmp.Diff(wantHeaders, gotHeaders); diff != "" {
		t.Errorf("headers mismatch (-want +got):\n%s", diff)
	}

	resp = f.do(t, http.MethodGet, "/documents/doc", "", "", map[string]string{"If-None-Match": `"1", "2"`})
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("If-None-Match status = %d, want 304", resp.StatusCode)
	}
	resp = f.do(t, http.MethodGet, "/documents/doc", "", "", map[string]string{"If-None-Match": utils.FormatVersion(1)})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("stale If-None-Match status = %d, want 200", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/documents/none", "", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", resp.StatusCode)
	}
}

func TestETagRoundTripsThroughIfMatch(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "doc", `{"n":1}`)

	etag := f.do(t, http.MethodGet, "/documents/doc", "", "", nil).Header.Get("ETag")
	resp := f.do(t, http.MethodPatch, "/documents/doc", contentTypeJSONPatch,
		`[{"op":"replace","path":"/n","value":2}]`, map[string]string{"If-Match": etag})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH with If-Match %s: status = %d, want 200", etag, resp.StatusCode)
	}
	next := resp.Header.Get("ETag")
	if next != utils.FormatVersion(2) {
		t.Errorf("ETag after PATCH = %q", next)
	}

	// The old tag is now stale.
	resp = f.do(t, http.MethodPut, "/documents/doc", contentTypeJSON, `{}`, map[string]string{"If-Match": etag})
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Errorf("PUT with stale If-Match: status = %d, want 412", resp.StatusCode)
	}
	resp = f.do(t, http.MethodPut, "/documents/doc", contentTypeJSON, `{}`, map[string]string{"If-Match": next})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("PUT with current If-Match: status = %d, want 200", resp.StatusCode)
	}
}

func TestProtobuf(t *testing.T) {
	f := newFixture(t, nil)

	st, err := structpb.NewStruct(map[string]any{"name": "pb", "n": 2.0, "tags": []any{"x"}})
	if err != nil {
		t.Fatal(err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}
	resp := f.do(t, http.MethodPut, "/documents/pb", contentTypeProtobuf, string(data), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("put status = %d, want 201", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/documents/pb", "", "", map[string]string{"Accept": contentTypeProtobuf})
	if got := resp.Header.Get("Content-Type"); got != contentTypeProtobuf {
		t.Fatalf("Content-Type = %q", got)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var v structpb.Value
	if err := proto.Unmarshal(raw, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := document.MustParse(`{"n":2,"name":"pb","tags":["x"]}`)
	if got := document.FromStructValue(&v); !document.Equal(want, got) {
		t.Errorf("document = %s, want %s", got, want)
	}

	req, err := structpb.NewStruct(map[string]any{
		"id":              "pb",
		"expectedVersion": 1.0,
		"operations": []any{
			map[string]any{"op": "replace", "path": "/n", "value": 3.0},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if data, err = proto.Marshal(req); err != nil {
		t.Fatal(err)
	}
	resp = f.do(t, http.MethodPost, "/patch-requests", contentTypeProtobuf, string(data),
		map[string]string{"Accept": contentTypeProtobuf})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch request status = %d", resp.StatusCode)
	}
	if raw, err = io.ReadAll(resp.Body); err != nil {
		t.Fatal(err)
	}
	var out structpb.Struct
	if err := proto.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	fields := out.GetFields()
	if got := fields["status"].GetStringValue(); got != patchproto.StatusSuccess {
		t.Errorf("status = %q", got)
	}
	if got := fields["newVersion"].GetNumberValue(); got != 2 {
		t.Errorf("newVersion = %v, want 2", got)
	}
	if got := fields["document"].GetStructValue().GetFields()["n"].GetNumberValue(); got != 3 {
		t.Errorf("document.n = %v, want 3", got)
	}
}

// readStreamUpdate reads one update of a subscription stream and returns its
// headers and payload.
func readStreamUpdate(t *testing.T, r *bufio.Reader) (map[string]string, string) {
	t.Helper()
	headers := map[string]string{}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(headers) == 0 {
				continue
			}
			break
		}
		k, v, _ := strings.Cut(line, ":")
		headers[k] = strings.TrimSpace(v)
	}
	n, err := strconv.Atoi(headers["Content-Length"])
	if err != nil {
		t.Fatalf("bad Content-Length in %v", headers)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("reading payload: %v", err)
	}
	return headers, string(buf)
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "live", `{"n":1}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.http.URL+"/documents/live", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Subscribe", "true")
	resp, err := f.http.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 209 {
		t.Fatalf("status = %d, want 209", resp.StatusCode)
	}

	r := bufio.NewReader(resp.Body)
	headers, body := readStreamUpdate(t, r)
	if headers["Version"] != utils.FormatVersion(1) {
		t.Errorf("first Version = %q", headers["Version"])
	}
	assertJSON(t, `{"n":1}`, []byte(body))

	if _, err := f.coord.Put(context.Background(), "live", document.MustParse(`{"n":2}`), nil); err != nil {
		t.Fatal(err)
	}
	headers, body = readStreamUpdate(t, r)
	want := map[string]string{
		"Version":        utils.FormatVersion(2),
		"Parents":        utils.FormatVersion(1),
		"Content-Length": "1",
		"Content-Range":  "replace /n",
	}
	if diff := cmp.Diff(want, headers); diff != "" {
		t.Errorf("patch headers mismatch (-want +got):\n%s", diff)
	}
	if body != "2" {
		t.Errorf("patch value = %q, want 2", body)
	}
}

func TestWebsocket(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "ws/doc", `{"n":1}`)

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/documents/ws/doc/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial patchproto.Update
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatal(err)
	}
	if initial.ID != "ws/doc" || len(initial.Version) != 1 || initial.Version[0] != utils.FormatVersion(1) {
		t.Errorf("initial update = %+v", initial)
	}
	assertJSON(t, `{"n":1}`, initial.Body)

	req := patchproto.Request{Operations: []patchproto.Operation{
		{Op: "replace", Path: "/n", Value: json.RawMessage("3")},
	}}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatal(err)
	}

	// The pushed update and the reply travel independently, so accept either
	// order.
	var (
		update *patchproto.Update
		reply  patchproto.Response
	)
	for i := 0; i < 2; i++ {
		var raw map[string]json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			t.Fatal(err)
		}
		data, _ := json.Marshal(raw)
		if _, ok := raw["status"]; ok {
			if err := json.Unmarshal(data, &reply); err != nil {
				t.Fatal(err)
			}
			continue
		}
		update = new(patchproto.Update)
		if err := json.Unmarshal(data, update); err != nil {
			t.Fatal(err)
		}
	}
	if update == nil {
		t.Fatal("no update pushed for the committed request")
	}
	wantPatches := []patchproto.Operation{{Op: "replace", Path: "/n", Value: json.RawMessage("3")}}
	if diff := cmp.Diff(wantPatches, update.Patches); diff != "" {
		t.Errorf("update patches mismatch (-want +got):\n%s", diff)
	}
	if reply.Status != patchproto.StatusSuccess || reply.NewVersion != 2 {
		t.Errorf("reply = %+v", reply)
	}

	// Failures come back on the same connection.
	if err := conn.WriteJSON(patchproto.Request{Operations: []patchproto.Operation{{Op: "remove", Path: "/gone"}}}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatal(err)
	}
	if reply.Status != patchproto.StatusFailure || reply.ErrorKind != patchproto.PathNotFound {
		t.Errorf("failure reply = %+v", reply)
	}
}

func TestWebsocketUnknownDocument(t *testing.T) {
	f := newFixture(t, nil)
	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/documents/none/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial succeeded for an unknown document")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("handshake response = %v, want 404", resp)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestImportDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), `{"a":1}`)
	writeFile(t, filepath.Join(dir, "nested", "b.json"), `[1,2]`)
	writeFile(t, filepath.Join(dir, "README.md"), `# not a document`)

	f := newFixture(t, func(cfg *config.Config) { cfg.RootDir = dir })
	ctx := context.Background()

	n, err := f.srv.ImportDir(ctx)
	if err != nil {
		t.Fatalf("ImportDir: %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d documents, want 2", n)
	}
	assertJSON(t, `[1,2]`, []byte(f.root(t, "nested/b").String()))

	// Unchanged files are not written again.
	if _, err := f.srv.ImportDir(ctx); err != nil {
		t.Fatal(err)
	}
	doc, err := f.coord.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != 1 {
		t.Errorf("version after re-import = %d, want 1", doc.Version)
	}

	writeFile(t, filepath.Join(dir, "bad.json"), `{`)
	if _, err := f.srv.ImportDir(ctx); err == nil {
		t.Error("ImportDir accepted an invalid file")
	}
}

func TestWatchReimports(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "w.json"), `{"v":1}`)

	f := newFixture(t, func(cfg *config.Config) {
		cfg.RootDir = dir
		cfg.Watch = true
	})
	if _, err := f.srv.ImportDir(context.Background()); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(dir, "w.json"), `{"v":2}`)
	want := document.MustParse(`{"v":2}`)
	deadline := time.Now().Add(5 * time.Second)
	for {
		doc, err := f.coord.Get(context.Background(), "w")
		if err == nil && document.Equal(want, doc.Root) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("document not re-imported, last = %v (err %v)", doc, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestProxyFallback(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "upstream %s", r.URL.Path)
	}))
	defer upstream.Close()
	target, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, func(cfg *config.Config) { cfg.ProxyURL = target })
	f.seed(t, "local", `{"here":true}`)

	tests := []struct {
		method, path string
		wantStatus   int
		wantBody     string
	}{
		{http.MethodGet, "/documents/remote", http.StatusOK, "upstream /documents/remote"},
		{http.MethodGet, "/assets/app.js", http.StatusOK, "upstream /assets/app.js"},
		{http.MethodGet, "/documents/local", http.StatusOK, `{"here":true}`},
	}
	for _, tt := range tests {
		resp := f.do(t, tt.method, tt.path, "", "", nil)
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != tt.wantStatus || string(body) != tt.wantBody {
			t.Errorf("%s %s = %d %q, want %d %q", tt.method, tt.path, resp.StatusCode, body, tt.wantStatus, tt.wantBody)
		}
	}

	// Writes to unknown documents are answered locally.
	resp := f.do(t, http.MethodPatch, "/documents/remote", contentTypeJSONPatch, `[{"op":"add","path":"/x","value":1}]`, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("PATCH unknown status = %d, want 404", resp.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.CORS.Enabled = true })

	resp := f.do(t, http.MethodOptions, "/documents/any", "", "", map[string]string{
		"Origin":                        "http://example.test",
		"Access-Control-Request-Method": http.MethodPatch,
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Expose-Headers"); !strings.Contains(got, "Version") {
		t.Errorf("Expose-Headers = %q", got)
	}
}

func receiveUpdate(t *testing.T, ch <-chan *patchproto.Update) *patchproto.Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an update")
		return nil
	}
}

func TestSubscriberReceivesPatchRequestCommits(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "feed", `{"items":[]}`)

	updates := make(chan *patchproto.Update, 4)
	sub := f.srv.AddSubscription("feed", func(u *patchproto.Update) error {
		updates <- u
		return nil
	})
	defer f.srv.RemoveSubscription("feed", sub.ID)
	f.srv.catchUp(context.Background(), sub)

	resp := f.do(t, http.MethodPost, "/patch-requests", contentTypeJSON,
		`{"id":"feed","operations":[{"op":"add","path":"/items/-","value":{"t":"hi"}}]}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	first := receiveUpdate(t, updates)
	assertJSON(t, `{"items":[]}`, first.Body)
	second := receiveUpdate(t, updates)
	if second.Body != nil || len(second.Patches) == 0 {
		t.Errorf("second update = %+v, want patches", second)
	}

	// Replaying the ops on the first body must give the committed document.
	assertJSON(t, `{"items":[{"t":"hi"}]}`, applyWire(t, first.Body, second.Patches))
}

func TestStalledSubscriberDoesNotBlockWriters(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "busy", `{"n":0}`)

	release := make(chan struct{})
	defer close(release)
	sub := f.srv.AddSubscription("busy", func(u *patchproto.Update) error {
		<-release
		return nil
	})
	f.srv.catchUp(context.Background(), sub)

	done := make(chan error, 1)
	go func() {
		for i := 1; i <= subscriptionQueueSize+4; i++ {
			root := document.Object(document.Field{Key: "n", Value: document.Int(int64(i))})
			if _, err := f.coord.Put(context.Background(), "busy", root, nil); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("writers blocked by a subscriber that stopped reading")
	}

	select {
	case <-sub.done:
	default:
		t.Error("stalled subscriber was not dropped")
	}
	f.srv.mu.RLock()
	n := len(f.srv.subscriptions["busy"])
	f.srv.mu.RUnlock()
	if n != 0 {
		t.Errorf("%d subscriptions left for the document, want 0", n)
	}
}

// applyWire applies ops the way an RFC 6902 client would.
func applyWire(t *testing.T, body []byte, ops []patchproto.Operation) []byte {
	t.Helper()
	data, err := json.Marshal(ops)
	if err != nil {
		t.Fatal(err)
	}
	p, err := jsonpatch.DecodePatch(data)
	if err != nil {
		t.Fatalf("decoding %s: %v", data, err)
	}
	out, err := p.Apply(body)
	if err != nil {
		t.Fatalf("applying %s: %v", data, err)
	}
	return out
}
