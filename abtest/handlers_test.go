package abtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestMux(t *testing.T) (*Service, *http.ServeMux) {
	t.Helper()
	svc := newTestService(t)
	mux := http.NewServeMux()
	svc.RegisterMux(mux, "")
	return svc, mux
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s response: %v\n%s", method, path, err, w.Body.String())
		}
	}
	return w, out
}

func TestHandleCreate(t *testing.T) {
	_, mux := newTestMux(t)

	w, body := doJSON(t, mux, http.MethodPost, "/experiments",
		`{"subject_ref":"article-9","test_kind":"title","variant_values":["A","B","C"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d\n%s", w.Code, w.Body.String())
	}
	if body["id"] == "" || body["status"] != "active" {
		t.Fatalf("body: %v", body)
	}
	variants, ok := body["variants"].([]any)
	if !ok || len(variants) != 3 {
		t.Fatalf("variants: %v", body["variants"])
	}
}

func TestHandleCreate_BadInput(t *testing.T) {
	_, mux := newTestMux(t)

	w, body := doJSON(t, mux, http.MethodPost, "/experiments",
		`{"subject_ref":"article-9","test_kind":"title","variant_values":["only one"]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", w.Code)
	}
	if body["error"] == "" {
		t.Fatalf("body: %v", body)
	}

	w, _ = doJSON(t, mux, http.MethodPost, "/experiments", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status: got %d", w.Code)
	}
}

func TestHandleList(t *testing.T) {
	svc, mux := newTestMux(t)
	createExperiment(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/experiments?status=active", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var list []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("list: %v", list)
	}

	// No matches must still encode as an empty array.
	req = httptest.NewRequest(http.MethodGet, "/experiments?status=completed", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Fatalf("empty list encoding: %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/experiments?status=archived", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown status filter: got %d", w.Code)
	}
}

func TestHandleGet(t *testing.T) {
	svc, mux := newTestMux(t)
	e := createExperiment(t, svc)

	w, body := doJSON(t, mux, http.MethodGet, "/experiments/"+e.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if body["id"] != e.ID {
		t.Fatalf("body: %v", body)
	}

	w, _ = doJSON(t, mux, http.MethodGet, "/experiments/exp_missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing id status: got %d", w.Code)
	}
}

func TestHandleTrack(t *testing.T) {
	svc, mux := newTestMux(t)
	e := createExperiment(t, svc)

	w, body := doJSON(t, mux, http.MethodPost, "/track",
		fmt.Sprintf(`{"test_id":%q,"event":"impression","subject_key":"visitor-3"}`, e.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d\n%s", w.Code, w.Body.String())
	}
	if body["tracked"] != true {
		t.Fatalf("body: %v", body)
	}
	variantID, _ := body["variant_id"].(string)
	if e.Variant(variantID) == nil {
		t.Fatalf("assigned foreign variant: %q", variantID)
	}
}

func TestHandleTrack_DerivedSubjectKey(t *testing.T) {
	svc, mux := newTestMux(t)
	e := createExperiment(t, svc)

	// Same client signals must bucket identically across calls.
	var ids []string
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/track",
			strings.NewReader(fmt.Sprintf(`{"test_id":%q,"event":"impression"}`, e.ID)))
		req.Header.Set("User-Agent", "essai-test/1.0")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d\n%s", w.Code, w.Body.String())
		}
		var out TrackResult
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !out.Tracked {
			t.Fatalf("not tracked: %+v", out)
		}
		ids = append(ids, out.VariantID)
	}
	if ids[0] != ids[1] {
		t.Fatalf("derived key not stable: %v", ids)
	}
}

func TestHandleTrack_Conflict(t *testing.T) {
	svc, mux := newTestMux(t)
	e := createExperiment(t, svc)

	a, err := Resolve(e.ID, "visitor-3", e.Variants, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var other string
	for _, v := range e.Variants {
		if v.ID != a.VariantID {
			other = v.ID
		}
	}

	w, body := doJSON(t, mux, http.MethodPost, "/track",
		fmt.Sprintf(`{"test_id":%q,"variant_id":%q,"event":"click","subject_key":"visitor-3"}`, e.ID, other))
	if w.Code != http.StatusConflict {
		t.Fatalf("status: got %d\n%s", w.Code, w.Body.String())
	}
	if body["expected_variant_id"] != a.VariantID || body["received_variant_id"] != other {
		t.Fatalf("conflict body: %v", body)
	}
	if body["assignment"] == nil {
		t.Fatalf("conflict body missing assignment: %v", body)
	}
}

func TestHandleTrack_UnknownExperiment(t *testing.T) {
	_, mux := newTestMux(t)

	w, body := doJSON(t, mux, http.MethodPost, "/track",
		`{"test_id":"exp_ghost","event":"impression","subject_key":"v"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if body["tracked"] != false {
		t.Fatalf("body: %v", body)
	}
}

func TestHandleEvaluate(t *testing.T) {
	svc, mux := newTestMux(t)
	e := createExperiment(t, svc)

	// Fresh experiment: below the traffic floor.
	w, body := doJSON(t, mux, http.MethodPost, "/experiments/"+e.ID+"/evaluate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if body["significant"] != false {
		t.Fatalf("body: %v", body)
	}

	variants := e.Variants
	variants[0].Impressions, variants[0].Clicks = 500, 50
	variants[1].Impressions, variants[1].Clicks = 500, 100
	setCounters(t, svc, e.ID, variants)

	w, body = doJSON(t, mux, http.MethodPost, "/experiments/"+e.ID+"/evaluate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if body["significant"] != true || body["winner_id"] != variants[1].ID {
		t.Fatalf("body: %v", body)
	}
}

func TestHandleSelect(t *testing.T) {
	svc, mux := newTestMux(t)
	e := createExperiment(t, svc)

	w, body := doJSON(t, mux, http.MethodGet, "/experiments/"+e.ID+"/select", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	id, _ := body["id"].(string)
	if e.Variant(id) == nil {
		t.Fatalf("selected foreign variant: %v", body)
	}
}

func TestHandler_MountedWithPrefix(t *testing.T) {
	svc := newTestService(t)
	e := createExperiment(t, svc)

	root := http.NewServeMux()
	root.Handle("/api/abtest/", http.StripPrefix("/api/abtest", svc.Handler()))

	w, body := doJSON(t, root, http.MethodGet, "/api/abtest/experiments/"+e.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d\n%s", w.Code, w.Body.String())
	}
	if body["id"] != e.ID {
		t.Fatalf("body: %v", body)
	}

	w, _ = doJSON(t, root, http.MethodGet, "/api/abtest/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown route status: got %d", w.Code)
	}

	if _, err := svc.Track(context.Background(), &TrackInput{
		TestID: e.ID, Event: EventImpression, SubjectKey: "warmup",
	}); err != nil {
		t.Fatalf("track: %v", err)
	}
	w, out := doJSON(t, root, http.MethodPost, "/api/abtest/track",
		fmt.Sprintf(`{"test_id":%q,"event":"click","subject_key":"warmup"}`, e.ID))
	if w.Code != http.StatusOK || out["tracked"] != true {
		t.Fatalf("track via prefix: %d %v", w.Code, out)
	}
}
