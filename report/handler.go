package report

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pagecheck/horosafe"
)

// Handler serves run history and artifact files:
//
//	GET /health
//	GET /api/runs?limit=N
//	GET /api/runs/{runID}
//	GET /artifacts/*   files under artifactDir
func Handler(store *Store, artifactDir string) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, securityHeaders, headAsGet)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
				return
			}
			limit = n
		}
		runs, err := store.ListRuns(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if runs == nil {
			runs = []*Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/api/runs/{runID}", func(w http.ResponseWriter, r *http.Request) {
		run, err := store.GetRun(r.Context(), chi.URLParam(r, "runID"))
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	r.Get("/artifacts/*", func(w http.ResponseWriter, r *http.Request) {
		p, err := horosafe.SafePath(artifactDir, chi.URLParam(r, "*"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		fi, err := os.Stat(p)
		if err != nil || fi.IsDir() {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, p)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
