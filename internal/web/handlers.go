package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/tdfc/internal/core"
	"github.com/JonMunkholm/tdfc/internal/web/templates"
)

// multipartMemory is how much of an upload ParseMultipartForm keeps in
// memory before spilling to a temp file.
const multipartMemory = 8 << 20

// multipartOverhead covers boundaries and part headers on top of the file.
const multipartOverhead = 1 << 20

var (
	errMissingKey = errors.New("missing lookup key: imprime and codeedi are required")
	errNoFile     = errors.New("no file provided")
	errNotXLSX    = errors.New("only .xlsx files are accepted")
)

// singleResponse is the body of a first-match lookup.
type singleResponse struct {
	Found   bool   `json:"found"`
	Libelle string `json:"libelle"`
}

// allResponse is the body of an all-matches lookup.
type allResponse struct {
	Found    bool     `json:"found"`
	Libelles []string `json:"libelles"`
}

type uploadResponse struct {
	OK      bool                `json:"ok"`
	Message string              `json:"message"`
	Summary core.RebuildSummary `json:"summary"`
}

type statusResponse struct {
	core.IndexStatus
	Uploads core.UploadLimiterStatus `json:"uploads"`
}

// handleHome renders the lookup page.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := templates.Home(templates.HomeData{
		Sheet:         s.service.DefaultSheet(),
		AdminRequired: s.cfg.Security.AdminKey != "",
	})
	if err := page.Render(r.Context(), w); err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
	}
}

// handleLookup answers GET /lookup?imprime=&codeedi=&all=.
// Both keys must be present; an empty value is a valid key that matches nothing.
// Lookups always use the configured sheet. Switching sheets replaces the
// whole index, so only the admin rebuild route may choose one.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("imprime") || !q.Has("codeedi") {
		s.respondError(w, r, errMissingKey, http.StatusBadRequest)
		return
	}

	all, err := parseFlag(q.Get("all"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: all=%q", core.ErrInvalidMode, q.Get("all")), http.StatusBadRequest)
		return
	}
	mode := core.ModeSingle
	if all {
		mode = core.ModeAll
	}

	res, err := s.service.Lookup(r.Context(), core.LookupRequest{
		KeyA:  q.Get("imprime"),
		KeyB:  q.Get("codeedi"),
		Mode:  mode,
	})
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	if all {
		writeJSON(w, http.StatusOK, allResponse{Found: res.Found, Libelles: res.Labels})
		return
	}
	writeJSON(w, http.StatusOK, singleResponse{Found: res.Found, Libelle: res.Label})
}

// handleUpload installs a new source spreadsheet from the multipart "file"
// field and rebuilds the default sheet.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	if maxSize <= 0 {
		maxSize = core.DefaultMaxUploadSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			s.respondError(w, r, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, maxSize), http.StatusBadRequest)
			return
		}
		s.respondError(w, r, fmt.Errorf("%w: %v", errNoFile, err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".xlsx") {
		s.respondError(w, r, errNotXLSX, http.StatusBadRequest)
		return
	}

	sum, err := s.service.InstallSource(r.Context(), file)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		OK:      true,
		Message: "File uploaded and indexed",
		Summary: sum,
	})
}

// handleRebuild forces a rebuild of ?sheet= (default sheet when empty).
// The route sits behind the admin key.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	sum, err := s.service.Rebuild(r.Context(), r.URL.Query().Get("sheet"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleStatus reports index freshness for the configured sheet without
// triggering a rebuild.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Status(r.Context(), "")
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		IndexStatus: st,
		Uploads:     s.service.Uploads().Status(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseFlag accepts the boolean spellings browsers and scripts send.
func parseFlag(v string) (bool, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "":
		return false, nil
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	return strconv.ParseBool(v)
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}
