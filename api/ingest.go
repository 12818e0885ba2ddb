package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"mime"
	"net/http"

	"property-feed-sync/feed"
	"property-feed-sync/models"
	"property-feed-sync/utils"
)

// multipartMemory is how much of a multipart form is kept in memory before
// spilling to disk.
const multipartMemory = 8 << 20

// Ingester runs an XML document through the pipeline.
type Ingester interface {
	IngestXML(ctx context.Context, data []byte) (*models.IngestResult, error)
}

type ingestHandler struct {
	ingester Ingester
	maxBody  int64
	logger   *utils.Logger
}

// bearerAuth rejects requests whose Authorization header is not exactly
// "Bearer <secret>". An empty secret rejects everything.
func bearerAuth(secret string, logger *utils.Logger) func(http.Handler) http.Handler {
	expected := []byte("Bearer " + secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if secret == "" || subtle.ConstantTimeCompare(got, expected) != 1 {
				writeError(w, logger, http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *ingestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	data, status, msg := h.readXML(r)
	if status != 0 {
		writeError(w, h.logger, status, errorResponse{Error: msg})
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		writeError(w, h.logger, http.StatusBadRequest, errorResponse{Error: "Empty XML content"})
		return
	}

	res, err := h.ingester.IngestXML(r.Context(), data)
	if err != nil {
		h.writeIngestError(w, data, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, ingestResponse{
		Success:   true,
		Processed: res.Sync.Processed,
		Total:     res.Sync.Total,
	})
}

// readXML takes the document from a raw XML body or from the multipart
// field "xml". A non-zero status means the request was rejected.
func (h *ingestHandler) readXML(r *http.Request) ([]byte, int, string) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "application/xml" || mediaType == "text/xml" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, bodyErrorStatus(err), "Could not read request body"
		}
		return data, 0, ""
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, "Request body too large"
		}
		return nil, http.StatusBadRequest, "No XML file provided"
	}

	file, _, err := r.FormFile("xml")
	if err != nil {
		if v, ok := r.Form["xml"]; ok && len(v) > 0 {
			return []byte(v[0]), 0, ""
		}
		return nil, http.StatusBadRequest, "No XML file provided"
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, http.StatusInternalServerError, "Could not read uploaded file"
	}
	return data, 0, ""
}

func bodyErrorStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (h *ingestHandler) writeIngestError(w http.ResponseWriter, data []byte, err error) {
	var perr *feed.ParseError
	switch {
	case errors.Is(err, feed.ErrInvalidFeedFormat):
		writeError(w, h.logger, http.StatusBadRequest, errorResponse{Error: "Invalid Hektor XML format"})
	case errors.As(err, &perr):
		preview := perr.Excerpt
		if preview == "" {
			preview = feed.Excerpt(data, 0)
		}
		writeError(w, h.logger, http.StatusBadRequest, errorResponse{
			Error:   "XML parsing failed",
			Details: perr.Error(),
			Preview: preview,
		})
	default:
		h.logger.Error("[api] ingest failed: %v", err)
		writeError(w, h.logger, http.StatusInternalServerError, errorResponse{
			Error:   "Internal server error",
			Details: err.Error(),
		})
	}
}
