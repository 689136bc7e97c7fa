// Package attachment uploads a user file and extracts text from it to seed
// the next prompt.
package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"omnichat/internal/observability"
	"omnichat/internal/platform"
)

const (
	UploadDir    = "omnichat/uploads"
	MaxTextRunes = 2000
	MaxFileBytes = 10 << 20 // 10 MB

	// AlertMessage is shown to the user for any processing failure.
	AlertMessage = "Could not process file. Please ensure you are signed in."
)

var (
	ErrProcessFile  = errors.New("could not process file")
	ErrFileTooLarge = errors.New("file too large")
	ErrEmptyName    = errors.New("file name is required")
)

// File is one user-selected local file. An empty MediaType is sniffed.
type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// OCR is the image-to-text part of the inference capability.
type OCR interface {
	Img2Txt(ctx context.Context, encodedImage string) (string, error)
}

type Pipeline struct {
	files  platform.FileStore
	ocr    OCR
	parser parser.Parser

	processed metric.Int64Counter
}

func NewPipeline(ctx context.Context, files platform.FileStore, ocr OCR) (*Pipeline, error) {
	ext, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("create document parser: %w", err)
	}
	p := &Pipeline{files: files, ocr: ocr, parser: ext}
	if p.processed, err = observability.Meter().Int64Counter("attachment.processed"); err != nil {
		observability.Logger().Warn("create attachment.processed counter", "error", err)
	}
	return p, nil
}

// Process uploads f, extracts its text and returns the prompt seed. Every
// failure is wrapped in ErrProcessFile.
func (p *Pipeline) Process(ctx context.Context, f File) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "attachment.process")
	defer span.End()

	prompt, err := p.process(ctx, f)
	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.LoggerFromContext(ctx).Error("process attachment failed", "file", f.Name, "error", err)
		err = fmt.Errorf("%w: %w", ErrProcessFile, err)
	}
	if p.processed != nil {
		p.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	return prompt, err
}

func (p *Pipeline) process(ctx context.Context, f File) (string, error) {
	name := baseName(f.Name)
	if name == "" {
		return "", ErrEmptyName
	}
	if len(f.Data) > MaxFileBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(f.Data))
	}
	mediaType := f.MediaType
	if mediaType == "" {
		mediaType = mimetype.Detect(f.Data).String()
	}
	mediaType = stripParams(mediaType)

	uploadPath := UploadPath(name)
	if err := p.files.Write(ctx, uploadPath, f.Data, platform.WriteOptions{CreateMissingParents: true}); err != nil {
		return "", fmt.Errorf("upload %s: %w", uploadPath, err)
	}

	var text string
	if strings.HasPrefix(mediaType, "image/") {
		extracted, err := p.ocr.Img2Txt(ctx, DataURL(mediaType, f.Data))
		if err != nil {
			return "", fmt.Errorf("extract image text: %w", err)
		}
		text = extracted
	} else {
		data, err := p.files.Read(ctx, uploadPath)
		if err != nil {
			return "", fmt.Errorf("read back %s: %w", uploadPath, err)
		}
		decoded, err := p.decode(ctx, uploadPath, data)
		if err != nil {
			return "", err
		}
		text = decoded
	}
	return Prompt(name, text), nil
}

func (p *Pipeline) decode(ctx context.Context, uri string, data []byte) (string, error) {
	docs, err := p.parser.Parse(ctx, bytes.NewReader(data), parser.WithURI(uri))
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", uri, err)
	}
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		parts = append(parts, doc.Content)
	}
	return strings.Join(parts, "\n\n"), nil
}

// UploadPath is where a file named name is stored.
func UploadPath(name string) string {
	return path.Join(UploadDir, baseName(name))
}

// DataURL encodes data as a self-contained data URL.
func DataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Prompt wraps extracted text into the prompt seed, truncated to MaxTextRunes.
func Prompt(name, text string) string {
	r := []rune(text)
	if len(r) > MaxTextRunes {
		text = string(r[:MaxTextRunes]) + "..."
	}
	return fmt.Sprintf("I've uploaded a file \"%s\". Content:\n\n%s\n\nPlease analyze this.", name, text)
}

func baseName(name string) string {
	name = strings.TrimSpace(filepath.ToSlash(strings.ReplaceAll(name, `\`, "/")))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

func stripParams(mediaType string) string {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}
