package main

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"go.uber.org/zap/zaptest"

	"github.com/smileynet/plantree/internal/config"
	"github.com/smileynet/plantree/internal/nitrate"
)

// fakeNitrate serves the plan filter and update endpoints over an in-memory
// hierarchy: 1←2←3←4←{5,6}, 3←7, 2←8.
type fakeNitrate struct {
	mu      sync.Mutex
	parents map[int]int
	deny    map[int]bool // updates to these plans get HTTP 403
	updates []map[string]string
}

func newFakeNitrate() *fakeNitrate {
	return &fakeNitrate{
		parents: map[int]int{1: 0, 2: 1, 3: 2, 4: 3, 5: 4, 6: 4, 7: 3, 8: 2},
		deny:    make(map[int]bool),
	}
}

func (f *fakeNitrate) plan(id int) nitrate.Plan {
	p := nitrate.Plan{
		ID:       id,
		Name:     "Plan " + strconv.Itoa(id),
		IsActive: id != 8,
		NumCases: id * 2,
	}
	if parent := f.parents[id]; parent != 0 {
		p.Parent = &parent
	}
	for _, parent := range f.parents {
		if parent == id {
			p.NumChildren++
		}
	}
	return p
}

func (f *fakeNitrate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/plans/":
		out := []nitrate.Plan{}
		q := r.URL.Query()
		if v := q.Get("pk"); v != "" {
			id, _ := strconv.Atoi(v)
			if _, ok := f.parents[id]; ok {
				out = append(out, f.plan(id))
			}
		}
		if v := q.Get("parent__pk"); v != "" {
			parent, _ := strconv.Atoi(v)
			for id, p := range f.parents {
				if p == parent {
					out = append(out, f.plan(id))
				}
			}
			sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		}
		_ = json.NewEncoder(w).Encode(out)

	case "/ajax/update/":
		_ = r.ParseForm()
		form := make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		f.updates = append(f.updates, form)

		id, _ := strconv.Atoi(form["object_pk"])
		if f.deny[id] {
			http.Error(w, "permission denied", http.StatusForbidden)
			return
		}
		parent := 0
		if form["value_type"] != "None" {
			parent, _ = strconv.Atoi(form["value"])
		}
		if f.parents[id] == parent {
			_, _ = w.Write([]byte(`{"rc":1,"response":"Nothing changed"}`))
			return
		}
		f.parents[id] = parent
		_, _ = w.Write([]byte(`{"rc":0,"response":"ok"}`))

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeNitrate) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

// testEnv returns an env wired to a fresh fake server.
func testEnv(t *testing.T) (*env, *fakeNitrate) {
	t.Helper()
	fake := newFakeNitrate()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.Server.URL = srv.URL
	e, err := newEnv(&cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("newEnv() error = %v", err)
	}
	return e, fake
}

func approve(string, string) (bool, error) { return true, nil }

func decline(string, string) (bool, error) { return false, nil }
