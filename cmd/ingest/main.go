package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/yungbote/docqa-backend/internal/app"
	"github.com/yungbote/docqa-backend/internal/ingestion"
)

// Bulk-ingests a directory of documents through the same pipeline the
// /upload endpoint uses, so a corpus can be seeded without the HTTP server.
func main() {
	var dir string
	var dryRun bool
	var limit int
	flag.StringVar(&dir, "dir", "", "directory to scan for documents")
	flag.BoolVar(&dryRun, "dry-run", false, "list candidate files without ingesting")
	flag.IntVar(&limit, "limit", 0, "limit number of files processed")
	flag.Parse()

	if strings.TrimSpace(dir) == "" {
		fmt.Println("usage: ingest -dir <directory> [-dry-run] [-limit n]")
		os.Exit(2)
	}

	_ = godotenv.Load()

	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	var candidates []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		candidates = append(candidates, path)
		return nil
	})
	if err != nil {
		fmt.Printf("scan %s: %v\n", dir, err)
		os.Exit(1)
	}

	ctx := context.Background()
	ingested := 0
	skipped := 0
	failed := 0
	for _, path := range candidates {
		if limit > 0 && ingested >= limit {
			break
		}
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("read %s: %v\n", path, err)
			failed++
			continue
		}
		name := filepath.Base(path)
		kind := ingestion.ClassifyKind(name, "", data)
		if kind == ingestion.KindUnknown || kind == ingestion.KindImage {
			skipped++
			continue
		}
		if dryRun {
			fmt.Printf("[dry-run] would ingest %s (%s, %d bytes)\n", path, kind, len(data))
			ingested++
			continue
		}
		receipt, err := application.Services.Ingestion.Ingest(ctx, data, name, "")
		if err != nil {
			fmt.Printf("ingest failed for %s: %v\n", path, err)
			failed++
			continue
		}
		ingested++
		fmt.Printf("ingested %s: chunks=%d stored=%d tables=%d pages=%d captions=%d\n",
			path, receipt.Chunks, receipt.Stored, receipt.Tables, receipt.Pages, receipt.ImageCaptionChunks)
	}

	fmt.Printf("done; ingested=%d skipped=%d failed=%d index_size=%d\n", ingested, skipped, failed, application.Store.Size())
}
