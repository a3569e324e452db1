package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/knowledge"
	"github.com/compozy/notebook/engine/knowledge/chunk"
	"github.com/compozy/notebook/engine/knowledge/document"
	"github.com/compozy/notebook/engine/knowledge/vectordb"
	appconfig "github.com/compozy/notebook/pkg/config"
	"github.com/compozy/notebook/pkg/logger"
)

// IngestState is a step of the ingest state machine.
type IngestState string

const (
	StateReceived IngestState = "received"
	StateParsed   IngestState = "parsed"
	StateEmbedded IngestState = "embedded"
	StateIndexed  IngestState = "indexed"
	StateCleaned  IngestState = "cleaned"
	StateFailed   IngestState = "failed"
)

const (
	defaultBatchSize = 64
	rollbackTimeout  = 30 * time.Second
)

// recordNamespace scopes deterministic record IDs.
var recordNamespace = uuid.MustParse("0b8f0f6e-5d5c-4b8e-9a53-6c0e2f7d1a44")

// DocumentParser turns a staged file into positional text chunks.
type DocumentParser interface {
	Ingest(ctx context.Context, filePath, mimeType, fileName string) ([]knowledge.TextChunk, error)
}

// BatchEmbedder embeds texts preserving input order.
type BatchEmbedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
}

// IngestSettings control how one document is written to the index.
type IngestSettings struct {
	Collection string
	BatchSize  int
	Dedupe     bool
	Chunk      chunk.Settings
}

// IngestSettingsFromApp maps the application configuration onto the pipeline.
func IngestSettingsFromApp(cfg *appconfig.Config) IngestSettings {
	return IngestSettings{
		Collection: cfg.VectorDB.Collection,
		BatchSize:  cfg.Ingest.BatchSize,
		Dedupe:     cfg.Ingest.Dedupe,
		Chunk: chunk.Settings{
			MaxSize:     cfg.Chunk.MaxSize,
			Overlap:     cfg.Chunk.Overlap,
			Deduplicate: cfg.Ingest.Dedupe,
		},
	}
}

// IngestResult is the tagged outcome of one run. Err is nil on success and
// State is then StateCleaned. On failure State is StateFailed and FailedAt is
// the last state the run reached.
type IngestResult struct {
	Document   knowledge.UploadedDocument
	Collection string
	Chunks     int
	IDs        []string
	State      IngestState
	FailedAt   IngestState
	Duration   time.Duration
	Err        error
}

// OK reports whether the document was fully indexed.
func (r *IngestResult) OK() bool {
	return r != nil && r.Err == nil
}

// IngestPipeline parses, embeds and indexes one uploaded document and always
// removes its staged file.
type IngestPipeline struct {
	parser   DocumentParser
	chunker  *chunk.Processor
	embedder BatchEmbedder
	store    vectordb.Store
	settings IngestSettings
	now      func() time.Time
}

func NewIngestPipeline(
	parser DocumentParser,
	emb BatchEmbedder,
	store vectordb.Store,
	settings IngestSettings,
) (*IngestPipeline, error) {
	if parser == nil {
		return nil, errors.New("ingest pipeline: document parser is required")
	}
	if emb == nil {
		return nil, errors.New("ingest pipeline: embedder is required")
	}
	if store == nil {
		return nil, errors.New("ingest pipeline: vector store is required")
	}
	if err := vectordb.ValidateCollection(settings.Collection); err != nil {
		return nil, err
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = defaultBatchSize
	}
	chunker, err := chunk.NewProcessor(settings.Chunk)
	if err != nil {
		return nil, err
	}
	return &IngestPipeline{
		parser:   parser,
		chunker:  chunker,
		embedder: emb,
		store:    store,
		settings: settings,
		now:      time.Now,
	}, nil
}

// Collection returns the index the pipeline writes to.
func (p *IngestPipeline) Collection() string {
	return p.settings.Collection
}

// Run indexes doc. Either every chunk of the document is written or none is.
func (p *IngestPipeline) Run(ctx context.Context, doc knowledge.UploadedDocument) (result *IngestResult) {
	start := time.Now()
	collection := p.settings.Collection
	log := logger.FromContext(ctx).With("collection", collection, "file", doc.FileName)
	result = &IngestResult{Document: doc, Collection: collection, State: StateReceived}
	defer func() {
		p.cleanup(log, doc, result)
		result.Duration = time.Since(start)
		p.finish(ctx, log, result)
	}()
	log.Debug("Ingest state", "state", StateReceived, "bytes", doc.ByteSize)
	if err := validateDocument(doc); err != nil {
		result.Err = err
		return result
	}
	chunks, err := p.parse(ctx, doc)
	if err != nil {
		result.Err = err
		return result
	}
	p.advance(log, result, StateParsed, "chunks", len(chunks))
	vectors, err := p.embed(ctx, chunks)
	if err != nil {
		result.Err = err
		return result
	}
	p.advance(log, result, StateEmbedded, "vectors", len(vectors))
	records := p.buildRecords(chunks, vectors)
	if err := p.index(ctx, log, records); err != nil {
		result.Err = err
		return result
	}
	result.Chunks = len(records)
	result.IDs = recordIDs(records)
	p.advance(log, result, StateIndexed, "records", len(records))
	return result
}

func validateDocument(doc knowledge.UploadedDocument) error {
	if strings.TrimSpace(doc.StoragePath) == "" {
		return core.ValidationError("uploaded file is missing")
	}
	if strings.TrimSpace(doc.FileName) == "" {
		return core.ValidationError("uploaded file name is required")
	}
	return nil
}

func (p *IngestPipeline) parse(ctx context.Context, doc knowledge.UploadedDocument) ([]knowledge.TextChunk, error) {
	segments, err := p.parser.Ingest(ctx, doc.StoragePath, doc.MimeType, doc.FileName)
	if err != nil {
		return nil, err
	}
	chunks, err := p.chunker.Process(segments)
	if err != nil {
		return nil, core.NewError(core.KindInternal, "failed to split document", err)
	}
	if len(chunks) == 0 {
		return nil, core.ValidationError("document %s contains no extractable text", doc.FileName)
	}
	return chunks, nil
}

func (p *IngestPipeline) embed(ctx context.Context, chunks []knowledge.TextChunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}
	vectors, err := p.embedder.EmbedAll(ctx, texts)
	if err != nil {
		return nil, core.WrapKind(core.KindEmbeddingService, "failed to embed document", err)
	}
	if len(vectors) != len(chunks) {
		return nil, core.NewError(
			core.KindEmbeddingService,
			fmt.Sprintf("embedding service returned %d vectors for %d chunks", len(vectors), len(chunks)),
			nil,
		)
	}
	return vectors, nil
}

func (p *IngestPipeline) buildRecords(chunks []knowledge.TextChunk, vectors [][]float32) []vectordb.Record {
	ingestedAt := p.now().UTC().Format(time.RFC3339)
	records := make([]vectordb.Record, len(chunks))
	for i := range chunks {
		hash := chunks[i].Hash
		if hash == "" {
			hash = chunk.HashText(chunks[i].Content)
		}
		meta := chunks[i].Metadata.ToMap()
		meta["content_hash"] = hash
		meta["ingested_at"] = ingestedAt
		records[i] = vectordb.Record{
			ID:        p.recordID(&chunks[i], hash),
			Text:      chunks[i].Content,
			Embedding: vectors[i],
			Metadata:  meta,
		}
	}
	return records
}

// recordID is deterministic when dedupe is on so a re-upload replaces the
// records it produced before.
func (p *IngestPipeline) recordID(c *knowledge.TextChunk, hash string) string {
	if !p.settings.Dedupe {
		return uuid.NewString()
	}
	key := strings.Join([]string{
		p.settings.Collection,
		c.Metadata.FileName,
		strconv.Itoa(c.Metadata.Page),
		strconv.Itoa(c.Metadata.Row),
		strconv.Itoa(c.Metadata.ChunkIndex),
		hash,
	}, "\x1f")
	return uuid.NewSHA1(recordNamespace, []byte(key)).String()
}

// index writes all records in one call when the store commits atomically.
// Otherwise it writes in batches and deletes what it wrote if a batch fails.
func (p *IngestPipeline) index(ctx context.Context, log logger.Logger, records []vectordb.Record) error {
	collection := p.settings.Collection
	if atomic, ok := p.store.(vectordb.AtomicUpserter); ok && atomic.AtomicUpsert() {
		if err := p.store.Upsert(ctx, collection, records); err != nil {
			return indexError(collection, err)
		}
		return nil
	}
	written := make([]string, 0, len(records))
	for startIdx := 0; startIdx < len(records); startIdx += p.settings.BatchSize {
		end := min(startIdx+p.settings.BatchSize, len(records))
		batch := records[startIdx:end]
		if err := p.store.Upsert(ctx, collection, batch); err != nil {
			p.rollback(ctx, log, written)
			return indexError(collection, err)
		}
		written = append(written, recordIDs(batch)...)
	}
	return nil
}

func (p *IngestPipeline) rollback(ctx context.Context, log logger.Logger, ids []string) {
	if len(ids) == 0 {
		return
	}
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if err := p.store.Delete(rbCtx, p.settings.Collection, ids); err != nil {
		log.Error("Failed to roll back partially indexed document", "records", len(ids), "error", err)
		return
	}
	log.Warn("Rolled back partially indexed document", "records", len(ids))
}

func indexError(collection string, err error) error {
	return core.WrapKind(core.KindIndexWrite, fmt.Sprintf("failed to write to collection %q", collection), err)
}

func (p *IngestPipeline) cleanup(log logger.Logger, doc knowledge.UploadedDocument, result *IngestResult) {
	if err := document.RemoveTemp(doc.StoragePath); err != nil {
		log.Warn("Failed to remove staged upload", "path", doc.StoragePath, "error", err)
		if result.Err == nil {
			result.Err = core.NewError(core.KindInternal, "failed to remove staged upload", err)
		}
		return
	}
	if result.Err == nil {
		p.advance(log, result, StateCleaned)
	}
}

func (p *IngestPipeline) advance(log logger.Logger, result *IngestResult, state IngestState, keyvals ...any) {
	result.State = state
	log.Debug("Ingest state", append([]any{"state", state}, keyvals...)...)
}

func (p *IngestPipeline) finish(ctx context.Context, log logger.Logger, result *IngestResult) {
	collection := p.settings.Collection
	knowledge.RecordIngestDuration(ctx, collection, result.Duration)
	if result.Err != nil {
		result.FailedAt = result.State
		result.State = StateFailed
		kind := core.KindOf(result.Err)
		knowledge.RecordIngestOutcome(ctx, collection, string(StateFailed), string(kind))
		log.Error(
			"Document ingestion failed",
			"failed_at", result.FailedAt,
			"kind", kind,
			"error", result.Err,
			"duration_seconds", result.Duration.Seconds(),
		)
		return
	}
	knowledge.RecordIngestOutcome(ctx, collection, string(result.State), "")
	knowledge.RecordIngestChunks(ctx, collection, result.Chunks)
	log.Info("Document indexed", "chunks", result.Chunks, "duration_seconds", result.Duration.Seconds())
}

func recordIDs(records []vectordb.Record) []string {
	ids := make([]string, len(records))
	for i := range records {
		ids[i] = records[i].ID
	}
	return ids
}
