// Package api serves a repository over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"geotig/internal/diff"
	"geotig/internal/errors"
	"geotig/internal/logging"
	"geotig/internal/object"
	"geotig/internal/repository"
	"geotig/internal/validation"
	"geotig/shared/types"
	"geotig/shared/utils"

	"go.uber.org/zap"
)

// Handler exposes one repository. Requests that write to the staging area
// hold mu, since the area expects a single writer.
type Handler struct {
	repo   *repository.Repository
	engine *diff.Engine
	logger *logging.Logger

	mu sync.Mutex
}

func NewHandler(repo *repository.Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{repo: repo, engine: diff.NewEngine(3), logger: logger}
}

// Routes registers every endpoint on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", Health)
	mux.HandleFunc("GET /api/status", h.Status)
	mux.HandleFunc("POST /api/stage", h.Stage)
	mux.HandleFunc("POST /api/write-tree", h.WriteTree)
	mux.HandleFunc("POST /api/commit", h.Commit)
	mux.HandleFunc("GET /api/log", h.Log)
	mux.HandleFunc("GET /api/diff", h.Diff)
	mux.HandleFunc("GET /api/tree", h.Tree)
	return mux
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.repo.Status()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shared.StatusResponse{
		Head:     utils.IDString(st.Head),
		Tree:     utils.IDString(st.Tree),
		Unstaged: st.Unstaged,
		Staged:   st.Staged,
	})
}

func (h *Handler) Stage(w http.ResponseWriter, r *http.Request) {
	var req shared.StageRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validation.ValidateStageRequest(&req); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.mu.Lock()
	n, err := h.repo.Staging.Stage(req.Prefix, nil)
	h.mu.Unlock()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.WithRequestID(r.Context()).Debug("staged changes",
		zap.Strings("prefix", req.Prefix), zap.Int("count", n))
	writeJSON(w, http.StatusOK, shared.StageResponse{Staged: n})
}

func (h *Handler) WriteTree(w http.ResponseWriter, r *http.Request) {
	var req shared.WriteTreeRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.mu.Lock()
	tree, bounds, err := h.repo.WriteTree(req.Target)
	h.mu.Unlock()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shared.WriteTreeResponse{Tree: utils.IDString(tree), Bounds: bounds})
}

func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var req shared.CommitRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validation.ValidateCommitRequest(&req); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.mu.Lock()
	res, err := h.repo.Commit(req.Author, req.Message)
	h.mu.Unlock()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, shared.CommitResponse{
		ID:     res.ID.String(),
		Tree:   utils.IDString(res.Tree),
		Parent: utils.IDString(res.Parent),
		Bounds: res.Bounds,
	})
}

func (h *Handler) Log(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeError(w, r, errors.ValidationError("limit must be a non-negative integer", s))
			return
		}
		limit = n
	}

	entries, err := h.repo.Log(q.Get("ref"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]shared.LogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, shared.LogEntry{
			ID:        e.ID.String(),
			Tree:      utils.IDString(e.Commit.Tree),
			Author:    e.Commit.Author,
			Message:   e.Commit.Message,
			Timestamp: e.Commit.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Diff compares two refs. "from" defaults to HEAD and "to" is required.
// "path" is a slash-separated subtree, "target" a hex content id, and
// "patch=true" adds line patches for changed features.
func (h *Handler) Diff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := q.Get("to")
	if to == "" {
		h.writeError(w, r, errors.ValidationError("missing to", nil))
		return
	}

	opts := diff.Options{Path: utils.SplitPath(q.Get("path"))}
	if s := q.Get("target"); s != "" {
		id, err := object.ParseContentId(s)
		if err != nil {
			h.writeError(w, r, errors.ValidationError("invalid target", err.Error()))
			return
		}
		opts.Target = id
	}
	withPatch, _ := strconv.ParseBool(q.Get("patch"))

	it, err := h.repo.Diff(q.Get("from"), to, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	changes, err := it.Collect()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := shared.DiffResponse{
		From:    q.Get("from"),
		To:      to,
		Changes: make([]shared.Change, 0, len(changes)),
		Summary: utils.ToSummary(diff.Summarize(changes)),
	}
	for _, c := range changes {
		var patch *diff.Patch
		if withPatch {
			if patch, err = h.repo.Patch(h.engine, c); err != nil {
				h.logger.WithRequestID(r.Context()).Warn("Skipping patch",
					zap.String("path", c.Key()), zap.Error(err))
				patch = nil
			}
		}
		resp.Changes = append(resp.Changes, utils.ToChange(c, patch))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := utils.SplitPath(q.Get("path"))
	recursive, _ := strconv.ParseBool(q.Get("recursive"))

	tree, err := h.repo.ResolveTree(q.Get("ref"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.repo.ListTree(q.Get("ref"), path, recursive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := shared.TreeResponse{Tree: utils.IDString(tree), Entries: make([]shared.TreeEntry, 0, len(items))}
	for _, it := range items {
		resp.Entries = append(resp.Entries, shared.TreeEntry{
			Path:   it.Path,
			Kind:   it.Entry.Kind.String(),
			Target: it.Entry.Target.String(),
			Bounds: it.Entry.Bounds,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as an errors.Error body with its status code.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.StatusCode(err)
	body := errors.AsError(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithRequestID(r.Context()).Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}
