// Package document reads input documents from disk: plain text, HTML, PDF,
// and JSON/JSONL collections of {id, text} records.
package document

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	tarjaotel "github.com/dativo-io/tarja/internal/otel"
	"github.com/dativo-io/tarja/internal/pipeline"
)

var tracer = tarjaotel.Tracer("github.com/dativo-io/tarja/internal/document")

// ErrUnsupported is returned for file types the loader cannot read.
var ErrUnsupported = errors.New("unsupported file type")

// ErrTooLarge is returned when a file exceeds the size limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// Loader extracts document text from files with a per-file size limit.
type Loader struct {
	maxSize int64
	policy  *bluemonday.Policy
}

// NewLoader creates a loader. maxSizeMB <= 0 means 10 MB.
func NewLoader(maxSizeMB int) *Loader {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return &Loader{
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		policy:  bluemonday.StrictPolicy(),
	}
}

// Supported reports whether path has an extension the loader reads.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".csv", ".html", ".htm", ".pdf", ".json", ".jsonl":
		return true
	}
	return false
}

// Load reads path and returns the documents it holds. Text, HTML and PDF
// files hold one document whose id is id; JSON and JSONL files hold many,
// each with its own id (defaulting to id#n).
func (l *Loader) Load(ctx context.Context, path, id string) ([]pipeline.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file %s: %w", path, err)
	}
	if info.Size() > l.maxSize {
		return nil, fmt.Errorf("%s: %d bytes over %d: %w", path, info.Size(), l.maxSize, ErrTooLarge)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return l.LoadBytes(ctx, filepath.Base(path), id, content)
}

// LoadBytes is Load for in-memory content; name selects the format by its
// extension.
func (l *Loader) LoadBytes(ctx context.Context, name, id string, content []byte) ([]pipeline.Document, error) {
	_, span := tracer.Start(ctx, "document.load",
		trace.WithAttributes(
			attribute.String("document.name", name),
			attribute.Int("document.bytes", len(content)),
		))
	defer span.End()

	if int64(len(content)) > l.maxSize {
		return nil, fmt.Errorf("%s: %d bytes over %d: %w", name, len(content), l.maxSize, ErrTooLarge)
	}

	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".txt", ".md", ".csv":
		return []pipeline.Document{{ID: id, Text: string(content)}}, nil

	case ".html", ".htm":
		return []pipeline.Document{{ID: id, Text: l.HTMLText(string(content))}}, nil

	case ".pdf":
		text, err := pdfText(content)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return []pipeline.Document{{ID: id, Text: text}}, nil

	case ".jsonl":
		return parseJSONL(content, id)

	case ".json":
		return parseJSON(content, id)

	default:
		return nil, fmt.Errorf("%s: %w: %s", name, ErrUnsupported, ext)
	}
}

// HTMLText strips all markup and decodes entities, leaving the visible text.
func (l *Loader) HTMLText(s string) string {
	return html.UnescapeString(l.policy.Sanitize(s))
}

// pdfText extracts the plain text layer of a PDF. The parser panics on some
// malformed inputs; that is reported as an error.
func pdfText(content []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("invalid PDF: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting PDF text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("reading PDF text: %w", err)
	}
	return buf.String(), nil
}

func parseJSONL(content []byte, id string) ([]pipeline.Document, error) {
	var docs []pipeline.Document
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), len(content)+1)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var doc pipeline.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", id, line, err)
		}
		if doc.ID == "" {
			doc.ID = fmt.Sprintf("%s#%d", id, line)
		}
		docs = append(docs, doc)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", id, err)
	}
	return docs, nil
}

func parseJSON(content []byte, id string) ([]pipeline.Document, error) {
	var docs []pipeline.Document
	if err := json.Unmarshal(content, &docs); err != nil {
		var wrapped struct {
			Documents []pipeline.Document `json:"documents"`
		}
		if err2 := json.Unmarshal(content, &wrapped); err2 != nil {
			return nil, fmt.Errorf("decoding %s: %w", id, err)
		}
		docs = wrapped.Documents
	}
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = fmt.Sprintf("%s#%d", id, i+1)
		}
	}
	return docs, nil
}

// Walk loads every supported file under root, in lexical path order. Ids
// are paths relative to root with forward slashes. A root that is a file is
// loaded on its own with its base name as id. Unsupported files are skipped.
func (l *Loader) Walk(ctx context.Context, root string) ([]pipeline.Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return l.Load(ctx, root, filepath.Base(root))
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !Supported(path) {
			log.Debug().Str("path", path).Msg("document_skipped_unsupported")
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Strings(paths)

	var docs []pipeline.Document
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		loaded, err := l.Load(ctx, path, filepath.ToSlash(rel))
		if err != nil {
			return nil, err
		}
		docs = append(docs, loaded...)
	}
	return docs, nil
}
