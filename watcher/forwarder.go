package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"property-feed-sync/feed"
	"property-feed-sync/models"
	"property-feed-sync/utils"
)

// maxReplyBytes caps how much of the webhook reply is read.
const maxReplyBytes = 1 << 20

// ForwarderConfig points a Forwarder at a remote ingestion endpoint.
type ForwarderConfig struct {
	URL             string
	Secret          string
	WorkDir         string
	ExtractTimeout  time.Duration
	MaxExtractBytes int64
	Retry           utils.RetryConfig
	Client          *http.Client
}

// Forwarder hands feeds to a remote ingestion endpoint instead of syncing
// them locally. Archives are unpacked first; the XML travels as the
// multipart field "xml".
type Forwarder struct {
	cfg    ForwarderConfig
	client *http.Client
	logger *utils.Logger
}

type forwardReply struct {
	Success   bool   `json:"success"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Error     string `json:"error"`
}

// NewForwarder creates a Forwarder.
func NewForwarder(cfg ForwarderConfig, logger *utils.Logger) *Forwarder {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger
	}
	return &Forwarder{cfg: cfg, client: client, logger: logger}
}

// IngestFile extracts path if needed and posts the XML. 5xx replies and
// network errors are retried; other non-2xx replies fail at once.
func (f *Forwarder) IngestFile(ctx context.Context, path string) (*models.IngestResult, error) {
	runID := uuid.NewString()

	workDir := f.cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(path)
	}
	xctx, cancel := ctx, context.CancelFunc(func() {})
	if f.cfg.ExtractTimeout > 0 {
		xctx, cancel = context.WithTimeout(ctx, f.cfg.ExtractTimeout)
	}
	xmlPath, err := feed.Extract(xctx, path, workDir, f.cfg.MaxExtractBytes)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("forwarder: extract %s: %w", filepath.Base(path), err)
	}

	extracted := ""
	if xmlPath != path {
		extracted = xmlPath
	}

	data, err := os.ReadFile(xmlPath)
	if err != nil {
		discard(extracted)
		return nil, fmt.Errorf("forwarder: read %s: %w", filepath.Base(xmlPath), err)
	}

	var reply forwardReply
	err = f.cfg.Retry.Do(ctx, "forward "+filepath.Base(path), func(ctx context.Context) error {
		return f.post(ctx, runID, data, &reply)
	})
	if err != nil {
		discard(extracted)
		return nil, fmt.Errorf("forwarder: %w", err)
	}

	f.logger.Info("[forwarder] run %s: remote synced %d/%d properties", runID, reply.Processed, reply.Total)
	return &models.IngestResult{
		RunID:     runID,
		Extracted: extracted,
		Sync:      &models.SyncResult{Processed: reply.Processed, Total: reply.Total},
	}, nil
}

func (f *Forwarder) post(ctx context.Context, runID string, data []byte, reply *forwardReply) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="xml"; filename="hektor.xml"`)
	header.Set("Content-Type", "application/xml")
	part, err := mw.CreatePart(header)
	if err != nil {
		return utils.Permanent(err)
	}
	if _, err := part.Write(data); err != nil {
		return utils.Permanent(err)
	}
	if err := mw.Close(); err != nil {
		return utils.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.URL, &body)
	if err != nil {
		return utils.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+f.cfg.Secret)
	req.Header.Set("X-Request-Id", runID)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return utils.Permanent(err)
		}
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook replied %d: %s", resp.StatusCode, feed.Excerpt(raw, 0))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return utils.Permanent(fmt.Errorf("webhook replied %d: %s", resp.StatusCode, feed.Excerpt(raw, 0)))
	}
	if err := json.Unmarshal(raw, reply); err != nil {
		return utils.Permanent(fmt.Errorf("decode reply: %w", err))
	}
	return nil
}

func discard(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
