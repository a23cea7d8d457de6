package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/camplus/capture"
	"github.com/hazyhaar/camplus/compositor"
	"github.com/hazyhaar/camplus/dbopen"
	"github.com/hazyhaar/camplus/durable"
	"github.com/hazyhaar/camplus/effect"
	"github.com/hazyhaar/camplus/export"
	"github.com/hazyhaar/camplus/gallery"
	"github.com/hazyhaar/camplus/ledger"
	"github.com/hazyhaar/camplus/shots"
	_ "modernc.org/sqlite"
)

type memLibrary struct{ n int }

func (m *memLibrary) CreateAsset(ctx context.Context, fileURI string) (string, error) {
	m.n++
	return fmt.Sprintf("ast_%d", m.n), nil
}
func (m *memLibrary) GetOrCreateAlbum(ctx context.Context, name string) (string, error) {
	return "alb_" + name, nil
}
func (m *memLibrary) AddAssetToAlbum(ctx context.Context, assetID, albumID string) error {
	return nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db := dbopen.OpenMemory(t)
	led := ledger.NewStore(db)
	if err := led.Init(context.Background()); err != nil {
		t.Fatalf("ledger init: %v", err)
	}
	sh := shots.NewStore(db)
	if err := sh.Init(context.Background()); err != nil {
		t.Fatalf("shots init: %v", err)
	}
	store, err := durable.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("durable: %v", err)
	}

	coord := export.New(export.Config{
		Compositor:  compositor.New(compositor.Config{Width: 32, Height: 32, SettleDelay: time.Millisecond}),
		Capture:     capture.Options{Dir: t.TempDir()},
		Durable:     store,
		Ledger:      led,
		Shots:       sh,
		Library:     &memLibrary{},
		Permissions: gallery.StaticPermissions{CanRead: true, CanWrite: true},
	})

	srv := httptest.NewServer(New(coord, led, sh, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func writeSourceJPEG(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 90, G: 90, B: 180, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "shot.jpg")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestEditsLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/edits", DraftRequest{
		SourceURI: "/photos/a.jpg",
		Effect:    effect.Spec{Kind: effect.KindTint, TintHex: "#ff0000", Strength: 0.5},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /edits status = %d", resp.StatusCode)
	}
	entry := decode[ledger.Entry](t, resp)
	if entry.ID == "" || entry.Status != ledger.StatusDraft {
		t.Fatalf("entry = %+v", entry)
	}

	strength := 0.9
	resp = doJSON(t, http.MethodPatch, srv.URL+"/edits/"+entry.ID, ledger.Patch{Strength: &strength})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH status = %d", resp.StatusCode)
	}
	updated := decode[ledger.Entry](t, resp)
	if updated.Effect.Strength != 0.9 {
		t.Fatalf("strength = %v", updated.Effect.Strength)
	}

	resp = doJSON(t, http.MethodPatch, srv.URL+"/edits/edt_missing", ledger.Patch{Strength: &strength})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("PATCH missing status = %d", resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/edits?filter=drafts&sort=newest")
	if err != nil {
		t.Fatalf("GET /edits: %v", err)
	}
	list := decode[[]ledger.Entry](t, resp)
	if len(list) != 1 {
		t.Fatalf("len = %d", len(list))
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/edits/"+entry.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", resp.StatusCode)
	}
}

func TestExportEndpoint(t *testing.T) {
	srv := newTestServer(t)
	src := writeSourceJPEG(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/export", ExportRequest{
		SourceURI: src,
		Effect:    effect.Spec{Kind: effect.KindNight, Strength: 0.3},
		Draft:     true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /export status = %d", resp.StatusCode)
	}
	out := decode[ExportResponse](t, resp)
	if out.Status != "done" {
		t.Fatalf("status = %q, error = %q", out.Status, out.Error)
	}
	if out.ExportedURI == "" || out.ExportedURI == src {
		t.Fatalf("exported_uri = %q", out.ExportedURI)
	}
	if out.EntryID == "" {
		t.Fatal("draft=true should create and report a ledger entry")
	}

	// The exported entry is visible in history and locked against edits.
	resp, err := http.Get(srv.URL + "/edits?filter=exported")
	if err != nil {
		t.Fatalf("GET /edits: %v", err)
	}
	list := decode[[]ledger.Entry](t, resp)
	if len(list) != 1 || list[0].ExportedURI != out.ExportedURI {
		t.Fatalf("exported list = %+v", list)
	}

	k := effect.KindThermal
	resp = doJSON(t, http.MethodPatch, srv.URL+"/edits/"+out.EntryID, ledger.Patch{Kind: &k})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("PATCH exported status = %d, want 409", resp.StatusCode)
	}
}

func TestExportEndpoint_BadEffect(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/export", map[string]any{
		"source_uri": "/photos/a.jpg",
		"effect":     map[string]any{"kind": "sepia"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestShotsAndPrefs(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/shots", ShotRequest{
		SourceURI: "/photos/raw.jpg",
		BakedURI:  "data:image/jpeg;base64,AAAA",
		Effect:    effect.Spec{Kind: effect.KindNone},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /shots status = %d", resp.StatusCode)
	}
	shot := decode[shots.Shot](t, resp)
	if shot.BakedURI == "" {
		t.Fatal("transient baked URI should be echoed to the caller")
	}

	resp, err := http.Get(srv.URL + "/shots")
	if err != nil {
		t.Fatalf("GET /shots: %v", err)
	}
	list := decode[[]shots.Shot](t, resp)
	if len(list) != 1 || list[0].BakedURI != "" {
		t.Fatalf("list = %+v, data: URI must not be persisted", list)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/shots/"+shot.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE /shots status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/prefs")
	if err != nil {
		t.Fatalf("GET /prefs: %v", err)
	}
	prefs := decode[shots.Prefs](t, resp)
	if prefs.Tint != effect.DefaultTint {
		t.Fatalf("default tint = %q", prefs.Tint)
	}

	prefs.Look = effect.KindNight
	prefs.Night = 0.5
	resp = doJSON(t, http.MethodPut, srv.URL+"/prefs", prefs)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /prefs status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/prefs")
	if err != nil {
		t.Fatalf("GET /prefs: %v", err)
	}
	got := decode[shots.Prefs](t, resp)
	if got.Look != effect.KindNight || got.Night != 0.5 {
		t.Fatalf("prefs = %+v", got)
	}
}
