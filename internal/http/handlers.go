package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/splax/airlock/internal/service/deploy"
	"github.com/splax/airlock/internal/ws"
	"github.com/splax/airlock/pkg/jwt"
)

const (
	scopeRead   = jwt.ScopeRead
	scopeWrite  = jwt.ScopeWrite
	scopeDeploy = jwt.ScopeDeploy
)

func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, r.maxUpload+1<<20)
	file, header, err := req.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()
	if req.MultipartForm != nil {
		defer req.MultipartForm.RemoveAll()
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".zip") {
		writeError(w, http.StatusBadRequest, "only .zip archives are accepted")
		return
	}

	tmp, err := os.CreateTemp(r.uploadDir, "upload-*.zip")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	defer os.Remove(tmp.Name())
	_, err = io.Copy(tmp, file)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}

	name := strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))
	deployment, err := r.svc.Intake(req.Context(), deploy.UploadInput{Name: name, ZipPath: tmp.Name()})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, deployment)
}

func (r *Router) handleList(w http.ResponseWriter, req *http.Request) {
	deployments, err := r.svc.List(req.Context(), queryLimit(req, defaultListLimit))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": deployments})
}

func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) {
	deployment, err := r.svc.Get(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	events, err := r.svc.Events(req.Context(), req.PathValue("id"), queryLimit(req, defaultEventLimit))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(io.LimitReader(req.Body, 1<<16)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	deployment, err := r.svc.Deploy(req.Context(), req.PathValue("id"), payload.Mode)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) {
	if err := r.svc.Delete(req.Context(), req.PathValue("id")); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream upgrades to a websocket that receives every new event of
// the deployment until the client disconnects.
func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if _, err := r.svc.Get(req.Context(), id); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming disabled")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(id, client)
	go func() {
		defer func() {
			r.hub.Unregister(id, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func queryLimit(req *http.Request, fallback int) int {
	raw := strings.TrimSpace(req.URL.Query().Get("limit"))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return min(n, 1000)
}
