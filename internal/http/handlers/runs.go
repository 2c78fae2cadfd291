package handlers

import (
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/panjf2000/ants/v2"

	"shortforge/internal/domain"
	"shortforge/pkg/zip"
)

type runRequest struct {
	Title      string             `json:"title"`
	Topic      string             `json:"topic"`
	SceneCount int                `json:"scene_count"`
	Style      domain.StyleConfig `json:"style"`
}

type runResponse struct {
	Folder string           `json:"folder"`
	Status string           `json:"status"`
	From   domain.StageName `json:"from,omitempty"`
}

type fileInfo struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// CreateRun records the request under a new folder and runs the whole
// pipeline in the background.
func (a *App) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.SceneCount < 0 || req.SceneCount > 20 {
		a.error(w, http.StatusBadRequest, "bad_request", "scene_count must be between 0 and 20")
		return
	}
	folder, err := a.Runner.Prepare(r.Context(), domain.PipelineRequest{
		Title:      strings.TrimSpace(req.Title),
		Topic:      strings.TrimSpace(req.Topic),
		SceneCount: req.SceneCount,
		Style:      req.Style,
	})
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	a.startRun(w, folder, "")
}

// ResumeRun continues an existing folder from the stage in ?from=, or from
// the first stage.
func (a *App) ResumeRun(w http.ResponseWriter, r *http.Request) {
	folder := chi.URLParam(r, "folder")
	var from domain.StageName
	if raw := r.URL.Query().Get("from"); raw != "" {
		name, ok := domain.ParseStageName(raw)
		if !ok {
			a.error(w, http.StatusBadRequest, "bad_request", "unknown stage")
			return
		}
		from = name
	}
	if !a.folderExists(w, r, folder) {
		return
	}
	a.startRun(w, folder, from)
}

func (a *App) startRun(w http.ResponseWriter, folder string, from domain.StageName) {
	err := a.pool.Submit(func() {
		res := a.Runner.Resume(a.baseCtx, folder, from)
		evt := a.Logger.Info()
		if res.ExitCode() != 0 {
			evt = a.Logger.Warn().Str("failed_stage", string(res.FailedStage))
		}
		evt.Str("folder", folder).Str("state", res.State.String()).Msg("background run finished")
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			a.error(w, http.StatusServiceUnavailable, "busy", "too many runs in progress")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to start run")
		return
	}
	a.json(w, http.StatusAccepted, runResponse{Folder: folder, Status: "queued", From: from})
}

// RunStage runs one stage synchronously and returns its summary. The folder
// may be "latest".
func (a *App) RunStage(w http.ResponseWriter, r *http.Request) {
	name, ok := domain.ParseStageName(chi.URLParam(r, "stage"))
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown stage")
		return
	}
	summary, err := a.Runner.RunStage(r.Context(), name, chi.URLParam(r, "folder"))
	switch {
	case err == nil:
		a.json(w, http.StatusOK, summary)
	case errors.Is(err, domain.ErrNotFound):
		a.json(w, http.StatusNotFound, summary)
	case errors.Is(err, domain.ErrStageFailed):
		a.json(w, http.StatusUnprocessableEntity, summary)
	default:
		a.json(w, http.StatusInternalServerError, summary)
	}
}

// RunState reports the phase of the last run against a folder in this
// process.
func (a *App) RunState(w http.ResponseWriter, r *http.Request) {
	folder := chi.URLParam(r, "folder")
	a.json(w, http.StatusOK, map[string]any{
		"folder": folder,
		"state":  a.Runner.State(folder),
	})
}

func (a *App) ListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := a.Store.ListFolders(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("list folders")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list folders")
		return
	}
	if folders == nil {
		folders = []string{}
	}
	a.json(w, http.StatusOK, map[string]any{"folders": folders})
}

// ListFiles lists the files in a folder, optionally filtered by ?glob=.
func (a *App) ListFiles(w http.ResponseWriter, r *http.Request) {
	glob := r.URL.Query().Get("glob")
	if glob == "" {
		glob = "*"
	}
	if _, err := path.Match(glob, ""); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid glob")
		return
	}
	files, err := a.Store.Read(r.Context(), chi.URLParam(r, "folder"), glob)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	out := make([]fileInfo, 0, len(files))
	for _, f := range files {
		out = append(out, fileInfo{Name: f.Name, Size: len(f.Data)})
	}
	a.json(w, http.StatusOK, map[string]any{"files": out})
}

// ArchiveFolder streams every file in the folder as one zip.
func (a *App) ArchiveFolder(w http.ResponseWriter, r *http.Request) {
	folder := chi.URLParam(r, "folder")
	files, err := a.Store.Read(r.Context(), folder, "*")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(files) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "unknown folder")
		return
	}
	data, err := zip.ArchiveFolder(folder, files)
	if err != nil {
		a.Logger.Error().Err(err).Str("folder", folder).Msg("archive folder")
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+folder+`.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *App) folderExists(w http.ResponseWriter, r *http.Request, folder string) bool {
	files, err := a.Store.Read(r.Context(), folder, domain.RequestFile)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return false
	}
	if len(files) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "unknown folder")
		return false
	}
	return true
}
