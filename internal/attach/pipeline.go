// Package attach prepares user-selected files for an outgoing message.
package attach

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/taskpilot-ai/conversational-client/internal/model"
	"github.com/taskpilot-ai/conversational-client/pkg/logger"
	"github.com/taskpilot-ai/conversational-client/pkg/metrics"
)

// Uploader stores binary attachment bytes and returns a public URL.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// DocumentExtractor sends a document for server-side text extraction.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, name string, data []byte) (string, error)
}

// File is a user-selected file entering the pipeline.
type File struct {
	Name string
	MIME string
	Data []byte
}

// Result is the pipeline output for one file: either an attachment reference
// or text to inline into the outgoing message, never both.
type Result struct {
	Attachment *model.Attachment
	InlineText string
}

// Pipeline turns files into message attachments or inline content.
type Pipeline struct {
	uploader  Uploader
	extractor DocumentExtractor

	maxImageDim   int
	maxImageBytes int
	maxBytes      int64

	logger *logger.Logger
}

// NewPipeline constructs the pipeline. uploader and extractor may be nil;
// the corresponding file kinds are then rejected.
func NewPipeline(uploader Uploader, extractor DocumentExtractor, maxImageDim, maxImageBytes int, maxBytes int64, log *logger.Logger) *Pipeline {
	return &Pipeline{
		uploader:      uploader,
		extractor:     extractor,
		maxImageDim:   maxImageDim,
		maxImageBytes: maxImageBytes,
		maxBytes:      maxBytes,
		logger:        log,
	}
}

// Process routes one file through the pipeline.
func (p *Pipeline) Process(ctx context.Context, f File) (*Result, error) {
	if int64(len(f.Data)) > p.maxBytes {
		metrics.UploadsTotal.WithLabelValues(kindOf(f), "rejected").Inc()
		return nil, fmt.Errorf("file %q exceeds the %d byte limit", f.Name, p.maxBytes)
	}

	kind := kindOf(f)
	res, err := p.process(ctx, kind, f)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(kind, "error").Inc()
		return nil, err
	}
	metrics.UploadsTotal.WithLabelValues(kind, "success").Inc()
	return res, nil
}

func (p *Pipeline) process(ctx context.Context, kind string, f File) (*Result, error) {
	switch kind {
	case "text":
		return &Result{InlineText: inlineBlock(f.Name, string(f.Data))}, nil

	case "image":
		if p.uploader == nil {
			return nil, fmt.Errorf("no object store configured for %q", f.Name)
		}
		data, contentType := p.shrinkOrOriginal(f)
		url, err := p.uploader.Upload(ctx, f.Name, contentType, data)
		if err != nil {
			return nil, fmt.Errorf("upload image: %w", err)
		}
		return &Result{Attachment: &model.Attachment{URL: url, Name: f.Name, Type: contentType}}, nil

	case "document":
		if p.extractor == nil {
			return nil, fmt.Errorf("no extraction endpoint configured for %q", f.Name)
		}
		content, err := p.extractor.ExtractText(ctx, f.Name, f.Data)
		if err != nil {
			return nil, fmt.Errorf("extract document: %w", err)
		}
		return &Result{InlineText: inlineBlock(f.Name, content)}, nil

	default:
		if p.uploader == nil {
			return nil, fmt.Errorf("no object store configured for %q", f.Name)
		}
		contentType := f.MIME
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		url, err := p.uploader.Upload(ctx, f.Name, contentType, f.Data)
		if err != nil {
			return nil, fmt.Errorf("upload file: %w", err)
		}
		return &Result{Attachment: &model.Attachment{URL: url, Name: f.Name, Type: contentType}}, nil
	}
}

// shrinkOrOriginal attempts client-side size reduction and falls back to the
// original bytes rather than blocking the send.
func (p *Pipeline) shrinkOrOriginal(f File) ([]byte, string) {
	data, contentType, err := shrinkImage(f.Data, p.maxImageDim, p.maxImageBytes)
	if err != nil {
		p.logger.Warn("image reduction failed, uploading original",
			zap.String("name", f.Name), zap.Error(err))
		contentType = f.MIME
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return f.Data, contentType
	}
	return data, contentType
}

// inlineBlock wraps implicit file content injected into the message text.
func inlineBlock(name, content string) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "\n\n[Attached file: %s]\n%s\n[End of attached file]", name, content)
	return b.String()
}

func kindOf(f File) string {
	mimeType := strings.ToLower(f.MIME)
	ext := strings.ToLower(filepath.Ext(f.Name))

	switch {
	case strings.HasPrefix(mimeType, "text/"),
		ext == ".txt", ext == ".md", ext == ".csv", ext == ".log":
		return "text"
	case strings.HasPrefix(mimeType, "image/"),
		ext == ".png", ext == ".jpg", ext == ".jpeg", ext == ".gif", ext == ".webp":
		return "image"
	case mimeType == "application/pdf",
		ext == ".pdf", ext == ".doc", ext == ".docx":
		return "document"
	default:
		return "binary"
	}
}
