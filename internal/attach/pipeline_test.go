package attach

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpilot-ai/conversational-client/pkg/logger"
)

type fakeUploader struct {
	name        string
	contentType string
	data        []byte
	err         error
}

func (f *fakeUploader) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.name = name
	f.contentType = contentType
	f.data = append([]byte(nil), data...)
	return "https://store.example/" + name, nil
}

type fakeExtractor struct {
	content string
	err     error
}

func (f *fakeExtractor) ExtractText(ctx context.Context, name string, data []byte) (string, error) {
	return f.content, f.err
}

func newTestPipeline(up Uploader, ex DocumentExtractor) *Pipeline {
	return NewPipeline(up, ex, 64, 1<<20, 1<<20, logger.NewNop())
}

func TestProcessInlinesTextFile(t *testing.T) {
	p := newTestPipeline(nil, nil)

	res, err := p.Process(context.Background(), File{Name: "notes.txt", MIME: "text/plain", Data: []byte("abc")})

	require.NoError(t, err)
	assert.Nil(t, res.Attachment, "text files never become attachments")
	assert.Contains(t, res.InlineText, "abc")
	assert.Contains(t, res.InlineText, "notes.txt")
}

func TestProcessUploadsBinary(t *testing.T) {
	up := &fakeUploader{}
	p := newTestPipeline(up, nil)

	res, err := p.Process(context.Background(), File{Name: "data.bin", Data: []byte{0x01, 0x02}})

	require.NoError(t, err)
	require.NotNil(t, res.Attachment)
	assert.Equal(t, "https://store.example/data.bin", res.Attachment.URL)
	assert.Equal(t, "application/octet-stream", res.Attachment.Type)
	assert.Empty(t, res.InlineText)
}

func TestProcessExtractsDocument(t *testing.T) {
	p := newTestPipeline(nil, &fakeExtractor{content: "extracted body"})

	res, err := p.Process(context.Background(), File{Name: "report.pdf", MIME: "application/pdf", Data: []byte("%PDF-")})

	require.NoError(t, err)
	assert.Nil(t, res.Attachment)
	assert.Contains(t, res.InlineText, "extracted body")
}

func TestProcessRejectsOversizeFile(t *testing.T) {
	p := NewPipeline(&fakeUploader{}, nil, 64, 1<<20, 4, logger.NewNop())

	_, err := p.Process(context.Background(), File{Name: "big.bin", Data: []byte("12345")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "byte limit")
}

func TestProcessUndecodableImageFallsBackToOriginal(t *testing.T) {
	up := &fakeUploader{}
	p := newTestPipeline(up, nil)
	original := []byte("not an image at all")

	res, err := p.Process(context.Background(), File{Name: "photo.png", MIME: "image/png", Data: original})

	require.NoError(t, err)
	require.NotNil(t, res.Attachment)
	assert.Equal(t, "image/png", res.Attachment.Type)
	assert.Equal(t, original, up.data, "undecodable images upload as-is")
}

func TestProcessDownscalesLargeImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 200, 100))))

	up := &fakeUploader{}
	p := newTestPipeline(up, nil)

	res, err := p.Process(context.Background(), File{Name: "wide.png", MIME: "image/png", Data: buf.Bytes()})

	require.NoError(t, err)
	require.NotNil(t, res.Attachment)
	assert.Equal(t, "image/jpeg", res.Attachment.Type)

	decoded, format, err := image.Decode(bytes.NewReader(up.data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 64, decoded.Bounds().Dx())
	assert.Equal(t, 32, decoded.Bounds().Dy())
}

func TestProcessPassesSmallImageThrough(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	original := buf.Bytes()

	up := &fakeUploader{}
	p := newTestPipeline(up, nil)

	res, err := p.Process(context.Background(), File{Name: "icon.png", MIME: "image/png", Data: original})

	require.NoError(t, err)
	assert.Equal(t, "image/png", res.Attachment.Type)
	assert.Equal(t, original, up.data, "images inside both budgets are not re-encoded")
}

func TestProcessUploadFailure(t *testing.T) {
	p := newTestPipeline(&fakeUploader{err: errors.New("bucket gone")}, nil)

	_, err := p.Process(context.Background(), File{Name: "data.bin", Data: []byte{0x01}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload file")
}

func TestKindOfFallsBackToExtension(t *testing.T) {
	assert.Equal(t, "text", kindOf(File{Name: "a.md"}))
	assert.Equal(t, "image", kindOf(File{Name: "a.webp"}))
	assert.Equal(t, "document", kindOf(File{Name: "a.docx"}))
	assert.Equal(t, "binary", kindOf(File{Name: "a.zip"}))
	assert.Equal(t, "text", kindOf(File{Name: "noext", MIME: "text/plain"}))
}
