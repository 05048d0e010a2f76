package dataverse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

const testToken = "secret-token"

// fakeDataverse is an in-memory stand-in for the Dataverse API.
type fakeDataverse struct {
	mu        sync.Mutex
	calls     []string
	search    []map[string]any
	remote    []map[string]any
	created   [][]byte
	edited    [][]byte
	uploads   []upload
	replaced  []int64
	published []string
	failures  int
	nextFile  int64
}

type upload struct {
	Name     string
	JSONData string
	Content  string
}

func (f *fakeDataverse) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func writeOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "OK", "data": data})
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ERROR", "message": msg})
}

func (f *fakeDataverse) readUpload(r *http.Request) (upload, error) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		return upload{}, err
	}
	fh := r.MultipartForm.File["file"]
	if len(fh) != 1 {
		return upload{}, fmt.Errorf("want one file part, got %d", len(fh))
	}
	src, err := fh[0].Open()
	if err != nil {
		return upload{}, err
	}
	defer src.Close()
	data, _ := io.ReadAll(src)
	return upload{Name: fh[0].Filename, JSONData: r.FormValue("jsonData"), Content: string(data)}, nil
}

func (f *fakeDataverse) router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("X-Dataverse-key") != testToken {
				writeErr(w, http.StatusUnauthorized, "Bad api key")
				return
			}
			f.record(req.Method + " " + req.URL.Path)
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/api/info/version", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		fail := f.failures > 0
		if fail {
			f.failures--
		}
		f.mu.Unlock()
		if fail {
			writeErr(w, http.StatusServiceUnavailable, "try again")
			return
		}
		writeOK(w, map[string]any{"version": "5.12.1", "build": "1234"})
	})
	r.Get("/api/dataverses/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		if id == "missing" {
			writeErr(w, http.StatusNotFound, "Can't find dataverse with identifier='missing'")
			return
		}
		writeOK(w, map[string]any{"id": 1, "alias": id, "name": "LMT Data"})
	})
	r.Get("/api/dataverses/{id}/contents", func(w http.ResponseWriter, _ *http.Request) {
		writeOK(w, []map[string]any{
			{"type": "dataverse", "id": 2, "title": "Sub collection"},
			{"type": "dataset", "id": 3, "protocol": "doi", "authority": "10.5072", "identifier": "FK2/ABC",
				"persistentUrl": "https://doi.org/10.5072/FK2/ABC"},
		})
	})
	r.Get("/api/search", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		items := f.search
		f.mu.Unlock()
		if items == nil {
			items = []map[string]any{}
		}
		writeOK(w, map[string]any{"q": req.URL.Query().Get("q"), "total_count": len(items), "items": items})
	})
	r.Post("/api/dataverses/{id}/datasets", func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		f.mu.Lock()
		f.created = append(f.created, body)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		writeOK(w, map[string]any{"id": 42, "persistentId": "doi:10.5072/FK2/NEW"})
	})
	r.Put("/api/datasets/:persistentId/editMetadata", func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		f.mu.Lock()
		f.edited = append(f.edited, body)
		f.mu.Unlock()
		writeOK(w, map[string]any{"id": 42})
	})
	r.Get("/api/datasets/:persistentId/versions/{version}/files", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		files := f.remote
		f.mu.Unlock()
		if files == nil {
			files = []map[string]any{}
		}
		writeOK(w, files)
	})
	r.Post("/api/datasets/:persistentId/add", func(w http.ResponseWriter, req *http.Request) {
		up, err := f.readUpload(req)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		f.mu.Lock()
		f.uploads = append(f.uploads, up)
		f.nextFile++
		id := 100 + f.nextFile
		f.mu.Unlock()
		writeOK(w, map[string]any{"files": []map[string]any{{"label": up.Name, "dataFile": map[string]any{"id": id}}}})
	})
	r.Post("/api/files/{id}/replace", func(w http.ResponseWriter, req *http.Request) {
		if _, err := f.readUpload(req); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		var id int64
		fmt.Sscan(chi.URLParam(req, "id"), &id)
		f.mu.Lock()
		f.replaced = append(f.replaced, id)
		f.mu.Unlock()
		writeOK(w, map[string]any{"files": []map[string]any{{"dataFile": map[string]any{"id": id + 1000}}}})
	})
	r.Post("/api/datasets/:persistentId/actions/:publish", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.published = append(f.published, req.URL.Query().Get("type"))
		f.mu.Unlock()
		writeOK(w, map[string]any{"id": 42})
	})
	r.Delete("/api/datasets/:persistentId/", func(w http.ResponseWriter, _ *http.Request) {
		writeOK(w, map[string]any{"message": "Draft version of dataset deleted"})
	})
	r.Get("/api/users/:me", func(w http.ResponseWriter, _ *http.Request) {
		writeOK(w, map[string]any{"id": 7, "identifier": "@pipeline", "firstName": "LMT", "lastName": "Pipeline",
			"email": "pipe@lmtgtm.org", "superuser": true})
	})
	r.Get("/api/admin/list-users", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("itemsPerPage") != "1000" {
			writeErr(w, http.StatusBadRequest, "itemsPerPage")
			return
		}
		writeOK(w, map[string]any{"userCount": 2, "users": []map[string]any{
			{"id": 1, "userIdentifier": "dataverseAdmin", "firstName": "Dataverse", "lastName": "Admin", "superuser": true},
			{"id": 7, "userIdentifier": "pipeline", "firstName": "LMT", "lastName": "Pipeline"},
		}})
	})
	return r
}

func serve(t *testing.T, f *fakeDataverse) string {
	t.Helper()
	srv := httptest.NewServer(f.router())
	t.Cleanup(srv.Close)
	return srv.URL
}

func newFake(t *testing.T) (*fakeDataverse, *Client) {
	t.Helper()
	f := &fakeDataverse{}
	c := New(serve(t, f), testToken, WithRetry(0, time.Millisecond))
	t.Cleanup(func() { c.Close() })
	return f, c
}
