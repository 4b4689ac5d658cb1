package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/models"
	"go.uber.org/zap"
)

// multipartMemory is how much of an upload is held in memory before spilling to disk.
const multipartMemory = 32 << 20

// ingestBody is the JSON form of an upload: pre-structured sections, or raw text content.
type ingestBody struct {
	Filename string           `json:"filename"`
	Title    string           `json:"title"`
	Authors  []string         `json:"authors"`
	Year     int              `json:"year"`
	Sections []models.Section `json:"sections"`
	Content  string           `json:"content"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleWatchDirectories(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"enabled": false, "directories": []string{}})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"enabled": true, "directories": s.watch.Directories()})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	}
	req, err := s.decodeIngest(r)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	s.logger.Debug("ingest request",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("filename", req.Filename),
		zap.Int("bytes", len(req.Content)),
		zap.Int("sections", len(req.Sections)),
	)
	res, err := s.indexer.Ingest(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	s.respondJSON(w, status, res)
}

func (s *Server) decodeIngest(r *http.Request) (*models.IngestRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, badRequest("ingest", err, "invalid multipart upload")
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return nil, badRequest("ingest", err, "multipart field \"file\" is required")
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return nil, badRequest("ingest", err, "failed to read upload")
		}
		req := &models.IngestRequest{
			Content:  content,
			Filename: hdr.Filename,
			Title:    r.FormValue("title"),
		}
		if authors := strings.TrimSpace(r.FormValue("authors")); authors != "" {
			req.Authors = splitList(authors)
		}
		if y := r.FormValue("year"); y != "" {
			year, err := strconv.Atoi(y)
			if err != nil {
				return nil, badRequest("ingest", err, "year must be a number")
			}
			req.Year = year
		}
		return req, nil
	}

	var body ingestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, badRequest("ingest", err, "invalid request body")
	}
	req := &models.IngestRequest{
		Filename: body.Filename,
		Title:    body.Title,
		Authors:  body.Authors,
		Year:     body.Year,
		Sections: body.Sections,
	}
	if body.Content != "" {
		req.Content = []byte(body.Content)
	}
	return req, nil
}

func (s *Server) handleListPapers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	var (
		papers []*models.Paper
		err    error
	)
	if q == "" {
		papers, err = s.engine.ListPapers(ctx)
	} else {
		limit := 0
		if l := r.URL.Query().Get("limit"); l != "" {
			if limit, err = strconv.Atoi(l); err != nil || limit < 0 {
				s.respondError(w, r, badRequest("list", err, "limit must be a non-negative number"), nil)
				return
			}
		}
		papers, err = s.engine.SearchPapers(ctx, q, limit)
	}
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"papers": papers, "total": len(papers)})
}

func (s *Server) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	paper, err := s.engine.GetPaper(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	s.respondJSON(w, http.StatusOK, paper)
}

func (s *Server) handleGetPaperFile(w http.ResponseWriter, r *http.Request) {
	path, err := s.engine.PaperFile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("open paper file: %w", err), nil)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.respondError(w, r, fmt.Errorf("stat paper file: %w", err), nil)
		return
	}
	name := filepath.Base(path)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleDeletePaper(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete paper request", zap.String("paper_id", id))
	n, err := s.indexer.Delete(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"paper_id": id, "chunks_deleted": n})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, badRequest("query", err, "invalid request body"), nil)
		return
	}
	s.logger.Debug("query request",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("query", req.Query),
		zap.Int("n_results", req.NResults),
		zap.Strings("paper_ids", req.PaperIDs),
	)
	res, err := s.engine.Query(r.Context(), &req)
	if err != nil {
		var contexts []*models.RetrievedContext
		if res != nil {
			contexts = res.Contexts
		}
		s.respondError(w, r, err, contexts)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req models.CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, badRequest("compare", err, "invalid request body"), nil)
		return
	}
	res, err := s.engine.Compare(r.Context(), &req)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidRequest, apperr.KindNoAspects, apperr.KindInsufficientPapers, apperr.KindUnknownPaperID:
		return http.StatusBadRequest
	case apperr.KindPaperNotFound:
		return http.StatusNotFound
	case apperr.KindEmptyDocument, apperr.KindStructureExtractionFailed:
		return http.StatusUnprocessableEntity
	case apperr.KindCompletionServiceUnavailable, apperr.KindUnparseableCompletion:
		return http.StatusBadGateway
	case apperr.KindVectorizerUnavailable, apperr.KindIndexUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindCompletionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type errorPayload struct {
	Kind     apperr.Kind     `json:"kind"`
	Category apperr.Category `json:"category"`
	Message  string          `json:"message"`
}

type errorResponse struct {
	Error    errorPayload               `json:"error"`
	Contexts []*models.RetrievedContext `json:"contexts,omitempty"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, contexts []*models.RetrievedContext) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	fields := []zap.Field{
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("kind", string(kind)),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Debug("request rejected", fields...)
	}
	s.respondJSON(w, status, errorResponse{
		Error: errorPayload{
			Kind:     kind,
			Category: kind.Category(),
			Message:  apperr.MessageOf(err),
		},
		Contexts: contexts,
	})
}

func badRequest(op string, err error, message string) error {
	return apperr.Wrap(apperr.KindInvalidRequest, op, err, message)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
