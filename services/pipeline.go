package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"property-feed-sync/feed"
	"property-feed-sync/models"
	"property-feed-sync/storage"
	"property-feed-sync/utils"
)

// PipelineConfig tunes a Pipeline. Dump is optional; MaxExtractBytes <= 0
// leaves archive entries unbounded.
type PipelineConfig struct {
	WorkDir         string
	ExtractTimeout  time.Duration
	MaxExtractBytes int64
	Dump            storage.PropertyDumper
}

// Pipeline runs one feed through extract, clean, parse, map and sync.
type Pipeline struct {
	mapper *Mapper
	engine *SyncEngine
	cfg    PipelineConfig
	logger *utils.Logger
}

// NewPipeline wires a mapper and sync engine into a Pipeline.
func NewPipeline(mapper *Mapper, engine *SyncEngine, cfg PipelineConfig, logger *utils.Logger) *Pipeline {
	return &Pipeline{mapper: mapper, engine: engine, cfg: cfg, logger: logger}
}

// IngestFile processes an .xml or .zip file. When an archive was unpacked
// and the run succeeds, the extracted path is reported so the caller can
// archive it; on failure it is removed.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*models.IngestResult, error) {
	runID := uuid.NewString()
	p.logger.Info("[pipeline] run %s: ingesting %s", runID, path)

	workDir := p.cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(path)
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("pipeline: create work dir: %w", err)
	}

	xctx, cancel := ctx, context.CancelFunc(func() {})
	if p.cfg.ExtractTimeout > 0 {
		xctx, cancel = context.WithTimeout(ctx, p.cfg.ExtractTimeout)
	}
	xmlPath, err := feed.Extract(xctx, path, workDir, p.cfg.MaxExtractBytes)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("pipeline: extract %s: %w", filepath.Base(path), err)
	}

	extracted := ""
	if xmlPath != path {
		extracted = xmlPath
	}

	data, err := os.ReadFile(xmlPath)
	if err != nil {
		discard(extracted)
		return nil, fmt.Errorf("pipeline: read %s: %w", filepath.Base(xmlPath), err)
	}

	res, err := p.run(ctx, runID, data)
	if err != nil {
		discard(extracted)
		return nil, err
	}
	res.Extracted = extracted
	return res, nil
}

// IngestXML processes an in-memory XML document.
func (p *Pipeline) IngestXML(ctx context.Context, data []byte) (*models.IngestResult, error) {
	return p.run(ctx, uuid.NewString(), data)
}

func (p *Pipeline) run(ctx context.Context, runID string, data []byte) (*models.IngestResult, error) {
	start := time.Now()
	tables := p.mapper.Tables()

	root, err := feed.Parse(feed.Clean(data))
	if err != nil {
		p.logger.Error("[pipeline] run %s: %v", runID, err)
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	f, err := feed.NewFeed(root, tables.RootElement, tables.AdElement)
	if err != nil {
		p.logger.Error("[pipeline] run %s: %v", runID, err)
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	ads := f.Ads()
	records := p.mapper.MapAll(ads)

	if p.cfg.Dump != nil {
		if err := p.cfg.Dump.WriteProperties(records); err != nil {
			p.logger.Warn("[pipeline] run %s: dump failed: %v", runID, err)
		}
	}

	result := p.engine.Sync(ctx, records)
	p.logger.Info("[pipeline] run %s: %d ads, %d sale records, %d persisted in %v",
		runID, len(ads), len(records), result.Processed, time.Since(start).Round(time.Millisecond))

	return &models.IngestResult{
		RunID:   runID,
		Ads:     len(ads),
		Mapped:  len(records),
		Dropped: len(ads) - len(records),
		Sync:    result,
	}, nil
}

func discard(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
