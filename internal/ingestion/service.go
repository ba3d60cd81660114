package ingestion

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/google/uuid"
	"github.com/yungbote/docqa-backend/internal/data/repos"
	"github.com/yungbote/docqa-backend/internal/ingestion/chunker"
	"github.com/yungbote/docqa-backend/internal/pkg/textutil"
	"github.com/yungbote/docqa-backend/internal/platform/apierr"
	"github.com/yungbote/docqa-backend/internal/platform/embedding"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
	"github.com/yungbote/docqa-backend/internal/platform/parser"
	"github.com/yungbote/docqa-backend/internal/platform/pdfrender"
	"github.com/yungbote/docqa-backend/internal/storage"
	"github.com/yungbote/docqa-backend/internal/types"
	"github.com/yungbote/docqa-backend/internal/vector"
)

const (
	// fastModeChunkCap bounds prose fragments per document in fast mode.
	fastModeChunkCap = 24

	defaultInsertConcurrency = 8

	hwpConvertTimeout = 2 * time.Minute
)

// Receipt reports what one ingestion produced.
type Receipt struct {
	Chunks             int    `json:"chunks"`
	Stored             int    `json:"stored"`
	Tables             int    `json:"tables"`
	Pages              int    `json:"pages"`
	ImageCaptionChunks int    `json:"image_caption_chunks"`
	Filepath           string `json:"filepath"`
	SHA256             string `json:"sha256"`
}

type Config struct {
	ChunkMaxTokens     int
	ChunkOverlapTokens int

	// MaxChunksEmb caps prose fragments per document; 0 means unlimited.
	// FastMode overrides it with fastModeChunkCap.
	MaxChunksEmb int
	FastMode     bool

	RenderPages bool

	// TableIndex enables the table stage. MaxTableRowsEmb caps row
	// fragments per table; 0 disables rows, FastMode forces 0.
	TableIndex      bool
	MaxTableRowsEmb int
	MaxCaptionPages int

	// HWPConverter is the hwp-to-text executable; empty rejects .hwp uploads.
	HWPConverter string

	InsertConcurrency int
}

// Service turns an uploaded document into durable, searchable fragments.
type Service interface {
	Ingest(ctx context.Context, data []byte, originalName string, mime string) (*Receipt, error)
}

type service struct {
	db       *gorm.DB
	store    vector.Store
	files    storage.Store
	bridge   parser.Bridge
	chunk    *chunker.Chunker
	embedder embedding.Client
	renderer pdfrender.Renderer
	assets   repos.AssetRepo
	bodies   repos.TableBodyRepo
	cfg      Config
	log      *logger.Logger
}

func New(
	gdb *gorm.DB,
	store vector.Store,
	files storage.Store,
	bridge parser.Bridge,
	chunk *chunker.Chunker,
	embedder embedding.Client,
	renderer pdfrender.Renderer,
	assets repos.AssetRepo,
	bodies repos.TableBodyRepo,
	cfg Config,
	baseLog *logger.Logger,
) Service {
	if cfg.InsertConcurrency <= 0 {
		cfg.InsertConcurrency = defaultInsertConcurrency
	}
	if cfg.MaxCaptionPages <= 0 {
		cfg.MaxCaptionPages = 20
	}
	return &service{
		db:       gdb,
		store:    store,
		files:    files,
		bridge:   bridge,
		chunk:    chunk,
		embedder: embedder,
		renderer: renderer,
		assets:   assets,
		bodies:   bodies,
		cfg:      cfg,
		log:      baseLog.With("service", "IngestionService"),
	}
}

// Ingest runs the pipeline: persist the original, extract, optionally render
// pages, index tables and image captions, then chunk and embed the prose.
// Fatal errors surface as *IngestError (or *apierr.Error for bad input);
// fragments committed before the failure stay visible.
func (s *service) Ingest(ctx context.Context, data []byte, originalName string, mime string) (*Receipt, error) {
	if len(data) == 0 {
		return nil, apierr.BadRequest("empty_file", fmt.Errorf("empty upload %q", originalName))
	}

	kind := ClassifyKind(originalName, mime, head(data, 8))
	switch kind {
	case KindImage:
		return nil, apierr.BadRequest("image_only_upload", fmt.Errorf("%q is an image; only documents are indexable", originalName))
	case KindUnknown:
		return nil, apierr.BadRequest("unsupported_type", fmt.Errorf("unsupported file type %q", originalName))
	case KindHWP:
		if strings.TrimSpace(s.cfg.HWPConverter) == "" {
			return nil, apierr.UnsupportedMedia("hwp_converter_missing", fmt.Errorf("no HWP converter configured for %q", originalName))
		}
	}

	saved, err := s.files.SaveOriginal(data, originalName)
	if err != nil {
		return nil, stageErr("save", err)
	}
	started := time.Now()
	s.log.Info("Ingest started",
		"filepath", originalName,
		"kind", string(kind),
		"sha256", saved.SHA256,
		"stored_path", saved.RelPath,
		"size_bytes", len(data),
	)

	text, tables, pictures, engine, err := s.extract(ctx, kind, saved, data)
	if err != nil {
		return nil, err
	}
	text = textutil.CleanText(text)
	if text == "" && len(tables) == 0 && len(pictures) == 0 {
		return nil, apierr.BadRequest("empty_document", fmt.Errorf("no extractable content in %q", originalName))
	}

	receipt := &Receipt{Filepath: originalName, SHA256: saved.SHA256}

	if s.cfg.RenderPages && kind == KindPDF && s.renderer != nil && s.renderer.Enabled() {
		receipt.Pages = s.renderPages(ctx, saved)
	}

	if s.cfg.TableIndex && len(tables) > 0 {
		if err := s.indexTables(ctx, saved, originalName, engine, tables, receipt); err != nil {
			return receipt, err
		}
	}

	if len(pictures) > 0 {
		if err := s.indexPictures(ctx, saved, originalName, pictures, receipt); err != nil {
			return receipt, err
		}
	}

	if err := s.indexProse(ctx, kind, saved, originalName, text, receipt); err != nil {
		return receipt, err
	}

	s.log.Info("Ingest finished",
		"filepath", originalName,
		"chunks", receipt.Chunks,
		"stored", receipt.Stored,
		"tables", receipt.Tables,
		"pages", receipt.Pages,
		"image_caption_chunks", receipt.ImageCaptionChunks,
		"elapsed", time.Since(started).String(),
	)
	return receipt, nil
}

// extract dispatches to the format-specific text path. PDF and Office go
// through the sidecar; the plain-text and Korean formats are handled here.
func (s *service) extract(ctx context.Context, kind Kind, saved *storage.SavedFile, data []byte) (string, []parser.Table, []parser.Picture, string, error) {
	switch kind {
	case KindPDF, KindOffice:
		scratch, err := os.MkdirTemp("", "docqa-parse-*")
		if err != nil {
			return "", nil, nil, "", stageErr("extract", err)
		}
		defer os.RemoveAll(scratch)
		doc, err := s.bridge.Parse(ctx, saved.AbsPath, scratch)
		if err != nil {
			return "", nil, nil, "", stageErr("parse", err)
		}
		// Derived images must leave the scratch dir before it is removed.
		s.claimDerivedImages(saved.SHA256, doc)
		return doc.Text, doc.Tables, doc.Pictures, doc.Engine, nil

	case KindText:
		decoded, err := textutil.DecodeText(data)
		if err != nil {
			return "", nil, nil, "", stageErr("extract", err)
		}
		return decoded, nil, nil, "plaintext", nil

	case KindHWPX:
		text, tables, err := extractHWPX(data)
		if err != nil {
			return "", nil, nil, "", stageErr("extract", err)
		}
		return text, tables, nil, "hwpx", nil

	case KindHWP:
		text, err := s.convertHWP(ctx, saved.AbsPath)
		if err != nil {
			return "", nil, nil, "", stageErr("extract", err)
		}
		return text, nil, nil, "hwp2txt", nil
	}
	return "", nil, nil, "", stageErr("extract", fmt.Errorf("unhandled kind %q", kind))
}

// claimDerivedImages moves sidecar-written table/picture crops into the
// uploads tree so they survive scratch cleanup. Paths are rewritten in
// place; failures drop the image but never the table.
func (s *service) claimDerivedImages(sha string, doc *parser.Document) {
	for i := range doc.Tables {
		t := &doc.Tables[i]
		if t.ImagePath == "" {
			continue
		}
		rel, err := s.files.MoveIntoTree(t.ImagePath, sha, "tables")
		if err != nil {
			s.log.Warn("table image move failed", "image_path", t.ImagePath, "error", err)
			t.ImagePath = ""
			continue
		}
		t.ImagePath = rel
	}
	for i := range doc.Pictures {
		p := &doc.Pictures[i]
		if p.ImagePath == "" {
			continue
		}
		rel, err := s.files.MoveIntoTree(p.ImagePath, sha, "pictures")
		if err != nil {
			s.log.Warn("picture move failed", "image_path", p.ImagePath, "error", err)
			p.ImagePath = ""
			continue
		}
		p.ImagePath = rel
	}
}

func (s *service) convertHWP(ctx context.Context, inputPath string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, hwpConvertTimeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, s.cfg.HWPConverter, inputPath)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("hwp convert %s: %w", s.cfg.HWPConverter, err)
	}
	decoded, err := textutil.DecodeText(out)
	if err != nil {
		return "", err
	}
	return decoded, nil
}

// renderPages rasterizes the PDF into the uploads tree. Best-effort: a
// renderer failure logs and the pipeline moves on.
func (s *service) renderPages(ctx context.Context, saved *storage.SavedFile) int {
	outDir, err := s.files.DerivativeDir(saved.SHA256, "pages")
	if err != nil {
		s.log.Warn("page render dir failed", "sha256", saved.SHA256, "error", err)
		return 0
	}
	pages, err := s.renderer.RenderPages(ctx, saved.AbsPath, outDir)
	if err != nil {
		s.log.Warn("page render failed", "sha256", saved.SHA256, "error", err)
		return 0
	}
	return len(pages)
}

// indexTables persists one Asset+TableBody pair per usable table and embeds
// up to MaxTableRowsEmb row sentences as table_row fragments. Per-table
// database trouble logs and skips that table; embedding and fragment insert
// failures are fatal for the ingestion.
func (s *service) indexTables(ctx context.Context, saved *storage.SavedFile, originalName string, engine string, tables []parser.Table, receipt *Receipt) error {
	rowLimit := s.cfg.MaxTableRowsEmb
	if s.cfg.FastMode {
		rowLimit = 0
	}

	for ti := range tables {
		t := tables[ti]
		nt, ok := normalizeTable(t)
		if !ok {
			continue
		}
		caption := textutil.CleanText(t.Caption)

		var imageURL *string
		if t.ImagePath != "" {
			u := s.files.URLFor(t.ImagePath)
			imageURL = &u
		}

		captionEmb := s.embedCaption(ctx, caption, t.Page)

		asset := &types.Asset{
			ID:       uuid.New().String(),
			SHA256:   saved.SHA256,
			Filepath: originalName,
			Page:     t.Page,
			Type:     types.AssetTypeTable,
			ImageURL: imageURL,
		}
		if caption != "" {
			asset.CaptionText = &caption
		}
		if captionEmb != nil {
			enc, err := types.EncodeVector(captionEmb)
			if err != nil {
				return stageErr("tables", err)
			}
			asset.CaptionEmb = enc
		}
		meta, err := types.EncodeMeta(map[string]any{
			"engine":      engine,
			"source":      t.Source,
			"stored_path": saved.RelPath,
		})
		if err != nil {
			return stageErr("tables", err)
		}
		asset.Meta = meta

		body := &types.TableBody{
			AssetID: asset.ID,
			NRows:   nt.NRows,
			NCols:   nt.NCols,
			TSV:     nt.TSV,
			MD:      nt.MD,
			HTML:    nt.HTML,
		}
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.assets.Create(ctx, tx, asset); err != nil {
				return err
			}
			_, err := s.bodies.Create(ctx, tx, body)
			return err
		})
		if err != nil {
			s.log.Warn("table asset insert failed", "filepath", originalName, "table", ti, "error", err)
			continue
		}
		receipt.Tables++

		if captionEmb != nil {
			if err := s.mirrorCaption(ctx, saved, originalName, asset, captionEmb, caption); err != nil {
				return err
			}
			receipt.ImageCaptionChunks++
		}

		if rowLimit <= 0 || len(nt.Rows) == 0 {
			continue
		}
		rows := nt.Rows
		if len(rows) > rowLimit {
			rows = rows[:rowLimit]
		}
		sentences := make([]string, len(rows))
		for i, row := range rows {
			sentences[i] = textutil.RowSentence(caption, nt.Header, row)
		}
		vecs, err := s.embedder.Embed(ctx, embedding.ModePassage, sentences)
		if err != nil {
			return stageErr("embed", err)
		}

		frags := make([]vector.Fragment, len(rows))
		for i, row := range rows {
			idx := i
			assetID := asset.ID
			frags[i] = vector.Fragment{
				Content:  sentences[i],
				Type:     types.FragmentTypeTableRow,
				SHA256:   saved.SHA256,
				Page:     t.Page,
				AssetID:  &assetID,
				RowIndex: &idx,
				Meta: map[string]any{
					"filepath":    originalName,
					"stored_path": saved.RelPath,
					"caption":     caption,
					"headers":     nt.Header,
					"normalized":  textutil.NormalizeRow(nt.Header, row),
				},
				Embedding: vecs[i],
			}
		}
		if _, err := s.store.InsertBatch(ctx, frags); err != nil {
			return stageErr("insert", err)
		}
	}
	return nil
}

// indexPictures persists image assets and mirrors embedded captions into the
// fragment index so figures are reachable from text queries.
func (s *service) indexPictures(ctx context.Context, saved *storage.SavedFile, originalName string, pictures []parser.Picture, receipt *Receipt) error {
	for pi := range pictures {
		p := pictures[pi]
		caption := textutil.CleanText(p.Caption)
		if p.ImagePath == "" && caption == "" {
			continue
		}

		var imageURL *string
		metaKV := map[string]any{"stored_path": saved.RelPath}
		if p.ImagePath != "" {
			u := s.files.URLFor(p.ImagePath)
			imageURL = &u
			if w, h, err := storage.ImageDimensions(s.files.AbsPath(p.ImagePath)); err == nil {
				metaKV["width"] = w
				metaKV["height"] = h
			}
		}

		captionEmb := s.embedCaption(ctx, caption, p.Page)

		asset := &types.Asset{
			ID:       uuid.New().String(),
			SHA256:   saved.SHA256,
			Filepath: originalName,
			Page:     p.Page,
			Type:     types.AssetTypeImage,
			ImageURL: imageURL,
		}
		if caption != "" {
			asset.CaptionText = &caption
		}
		if captionEmb != nil {
			enc, err := types.EncodeVector(captionEmb)
			if err != nil {
				return stageErr("images", err)
			}
			asset.CaptionEmb = enc
		}
		meta, err := types.EncodeMeta(metaKV)
		if err != nil {
			return stageErr("images", err)
		}
		asset.Meta = meta

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, err := s.assets.Create(ctx, tx, asset)
			return err
		})
		if err != nil {
			s.log.Warn("image asset insert failed", "filepath", originalName, "picture", pi, "error", err)
			continue
		}

		if captionEmb != nil {
			if err := s.mirrorCaption(ctx, saved, originalName, asset, captionEmb, caption); err != nil {
				return err
			}
			receipt.ImageCaptionChunks++
		}
	}
	return nil
}

// mirrorCaption inserts the image_caption fragment that makes an embedded
// caption retrievable alongside prose and table rows.
func (s *service) mirrorCaption(ctx context.Context, saved *storage.SavedFile, originalName string, asset *types.Asset, emb []float32, caption string) error {
	assetID := asset.ID
	meta := map[string]any{
		"filepath":    originalName,
		"stored_path": saved.RelPath,
		"asset_type":  asset.Type,
	}
	if asset.ImageURL != nil {
		meta["image_url"] = *asset.ImageURL
	}
	_, err := s.store.Insert(ctx, vector.Fragment{
		Content:   caption,
		Type:      types.FragmentTypeImageCaption,
		SHA256:    saved.SHA256,
		Page:      asset.Page,
		AssetID:   &assetID,
		Meta:      meta,
		Embedding: emb,
	})
	if err != nil {
		return stageErr("insert", err)
	}
	return nil
}

// embedCaption returns a unit-norm caption embedding, or nil when caption
// policy rules it out or the backend misbehaves. Captions are an enrichment;
// their embedding failures never abort the ingestion.
func (s *service) embedCaption(ctx context.Context, caption string, page *int) []float32 {
	if caption == "" || s.cfg.FastMode {
		return nil
	}
	if page != nil && *page > s.cfg.MaxCaptionPages {
		return nil
	}
	vec, err := s.embedder.EmbedOne(ctx, embedding.ModePassage, caption)
	if err != nil {
		s.log.Warn("caption embed failed", "error", err)
		return nil
	}
	norm, err := vector.Normalize(vec)
	if err != nil {
		s.log.Warn("caption normalize failed", "error", err)
		return nil
	}
	return norm
}

// indexProse chunks the cleaned text, batch-embeds the chunk texts in one
// call, and fans the fragment inserts out with bounded concurrency. The
// first insert failure cancels the rest; fragments already committed stay.
func (s *service) indexProse(ctx context.Context, kind Kind, saved *storage.SavedFile, originalName string, text string, receipt *Receipt) error {
	if text == "" {
		return nil
	}
	pieces, err := s.chunk.Chunk(text, s.cfg.ChunkMaxTokens, s.cfg.ChunkOverlapTokens)
	if err != nil {
		return stageErr("chunk", err)
	}
	if len(pieces) == 0 {
		return nil
	}

	if s.cfg.FastMode && len(pieces) > fastModeChunkCap {
		s.log.Info("fast mode chunk cap applied", "filepath", originalName, "chunks", len(pieces), "cap", fastModeChunkCap)
		pieces = pieces[:fastModeChunkCap]
	} else if s.cfg.MaxChunksEmb > 0 && len(pieces) > s.cfg.MaxChunksEmb {
		s.log.Info("chunk cap applied", "filepath", originalName, "chunks", len(pieces), "cap", s.cfg.MaxChunksEmb)
		pieces = pieces[:s.cfg.MaxChunksEmb]
	}
	receipt.Chunks = len(pieces)

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	vecs, err := s.embedder.Embed(ctx, embedding.ModePassage, texts)
	if err != nil {
		return stageErr("embed", err)
	}
	if len(vecs) != len(pieces) {
		return stageErr("embed", fmt.Errorf("embedding count %d for %d chunks", len(vecs), len(pieces)))
	}

	fragType := kind.FragmentType()
	var stored int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.InsertConcurrency)
	for i := range pieces {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			p := pieces[i]
			chunkIdx := p.Index
			_, err := s.store.Insert(gctx, vector.Fragment{
				Content:    p.Text,
				Type:       fragType,
				SHA256:     saved.SHA256,
				ChunkIndex: &chunkIdx,
				Meta: map[string]any{
					"filepath":    originalName,
					"stored_path": saved.RelPath,
					"startTok":    p.StartTok,
					"endTok":      p.EndTok,
				},
				Embedding: vecs[i],
			})
			if err != nil {
				return fmt.Errorf("chunk %d: %w", p.Index, err)
			}
			atomic.AddInt32(&stored, 1)
			return nil
		})
	}
	err = g.Wait()
	receipt.Stored = int(atomic.LoadInt32(&stored))
	if err != nil {
		return stageErr("insert", err)
	}
	return nil
}

func head(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
