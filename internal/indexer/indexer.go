package indexer

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

// maxEmbedBytes bounds the text sent to the embedding model per document.
const maxEmbedBytes = 24_000

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Indexer stores the files of an uploaded repository as documents.
type Indexer struct {
	Store      store.Store
	Client     ai.Client
	Walker     FileSystemWalker
	FileReader FileReader
	Workers    int
}

// Stats counts what a single Run did.
type Stats struct {
	Indexed   int
	Unchanged int
	Failed    int
}

// hashContent returns the SHA-1 hash of the given content as a hex string.
func hashContent(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// New creates a new Indexer instance.
func New(s store.Store, client ai.Client) *Indexer {
	return NewWithDependencies(s, client, &DefaultFileSystemWalker{}, &DefaultFileReader{})
}

// NewWithDependencies creates a new Indexer instance with custom dependencies for testing
func NewWithDependencies(s store.Store, client ai.Client, walker FileSystemWalker, fileReader FileReader) *Indexer {
	return &Indexer{
		Store:      s,
		Client:     client,
		Walker:     walker,
		FileReader: fileReader,
	}
}

// workItem represents a file to be processed
type workItem struct {
	path    string
	content string
}

type counters struct {
	indexed, unchanged, failed atomic.Int64
}

// processWorkItem stores a single file unless its content hash is unchanged.
func (ix *Indexer) processWorkItem(ctx context.Context, e store.Entry, item workItem, c *counters) {
	relPath := rel(e.Dir, item.path)
	hash := hashContent(item.content)

	prev, found, err := ix.Store.GetDocumentHash(ctx, e.ID, relPath)
	if err != nil {
		log.Warn().Err(err).Str("path", relPath).Msg("document lookup failed, reindexing")
	} else if found && prev == hash {
		c.unchanged.Add(1)
		return
	}

	var vec []float32
	if ix.Client != nil {
		text := truncate(item.content, maxEmbedBytes)
		vec, err = ix.Client.Embed(ctx, relPath+"\n"+text)
		if err != nil {
			log.Warn().Err(err).Str("path", relPath).Msg("embedding failed, storing without vector")
			vec = nil
		}
	}

	d := models.Document{
		Repository: e.ID,
		Path:       relPath,
		Language:   guessLang(item.path),
		Content:    item.content,
	}
	log.Info().Str("repository", e.Repository.Name).
		Str("path", relPath).
		Int("bytes", len(item.content)).
		Bool("embedded", vec != nil).
		Msg("indexing document")
	if err := ix.Store.UpsertDocument(ctx, d, vec, hash); err != nil {
		log.Error().Err(err).Str("path", relPath).Msg("upsert failed")
		c.failed.Add(1)
		return
	}
	c.indexed.Add(1)
}

// Run indexes every eligible file under the entry's directory.
// Per-file failures are logged and counted; only walk errors are returned.
func (ix *Indexer) Run(ctx context.Context, e store.Entry) (Stats, error) {
	numWorkers := ix.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
		if numWorkers > 8 {
			numWorkers = 8 // Cap at 8 to avoid overwhelming the AI API
		}
	}

	log.Info().Str("repository", e.Repository.Name).Str("dir", e.Dir).Int("workers", numWorkers).Msg("starting indexing")

	workChan := make(chan workItem, numWorkers*2)
	var c counters

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")
			for item := range workChan {
				ix.processWorkItem(ctx, e, item, &c)
			}
			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}

	walkErr := ix.Walker.Walk(e.Dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			// de is nil when driven by a test walker
			if de != nil && de.IsDir() {
				return nil
			}
			if ShouldSkip(rel(e.Dir, path)) {
				return nil
			}

			b, err := ix.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				c.failed.Add(1)
				return nil
			}

			select {
			case workChan <- workItem{path: path, content: string(b)}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})

	close(workChan)
	wg.Wait()

	stats := Stats{
		Indexed:   int(c.indexed.Load()),
		Unchanged: int(c.unchanged.Load()),
		Failed:    int(c.failed.Load()),
	}
	log.Info().Str("repository", e.Repository.Name).
		Int("indexed", stats.Indexed).
		Int("unchanged", stats.Unchanged).
		Int("failed", stats.Failed).
		Msg("indexing finished")
	return stats, walkErr
}

// ShouldSkip returns true if the file at path, relative to the repository
// root, should not be indexed.
func ShouldSkip(path string) bool {
	p := "/" + strings.TrimPrefix(strings.ToLower(filepath.ToSlash(path)), "/")
	for _, dir := range skipDirs {
		if strings.Contains(p, "/"+dir+"/") {
			return true
		}
	}
	switch filepath.Ext(p) {
	case ".png", ".jpg", ".jpeg", ".gif", ".pdf", ".webp", ".lock", ".zip", ".svg", ".exe", ".dll", ".xml", ".sum", ".mod", ".sql":
		return true
	}
	return false
}

var skipDirs = []string{
	"vendor", ".git", ".terraform", "node_modules", "target", "build", "dist",
	"out", "bin", "obj", ".venv", "venv", "__pycache__", ".pytest_cache",
	".gradle", ".m2", ".idea", "coverage", ".cache",
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(r)
}

func guessLang(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".sh":
		return "shell"
	case ".py":
		return "python"
	case ".go":
		return "go"
	case ".md":
		return "markdown"
	case ".tf":
		return "terraform"
	case ".js", ".jsx", ".mjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".java":
		return "java"
	case ".rb":
		return "ruby"
	case ".rs":
		return "rust"
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return strings.TrimPrefix(ext, ".")
	}
}
