package attachment

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnichat/internal/platform/memory"
)

func newPipeline(t *testing.T) (*Pipeline, *memory.Files, *memory.Inference) {
	t.Helper()
	files := memory.NewFiles()
	inf := memory.NewInference()
	p, err := NewPipeline(context.Background(), files, inf)
	require.NoError(t, err)
	return p, files, inf
}

func TestPromptCapsAt2000(t *testing.T) {
	long := strings.Repeat("a", 3000)
	got := Prompt("doc.txt", long)
	want := "I've uploaded a file \"doc.txt\". Content:\n\n" + strings.Repeat("a", 2000) + "...\n\nPlease analyze this."
	assert.Equal(t, want, got)

	short := strings.Repeat("b", 500)
	got = Prompt("doc.txt", short)
	assert.Equal(t, "I've uploaded a file \"doc.txt\". Content:\n\n"+short+"\n\nPlease analyze this.", got)
}

func TestProcessTextFileReadsBackUpload(t *testing.T) {
	p, files, inf := newPipeline(t)
	body := strings.Repeat("x", 3000)
	prompt, err := p.Process(context.Background(), File{Name: "notes.txt", MediaType: "text/plain", Data: []byte(body)})
	require.NoError(t, err)
	assert.Contains(t, prompt, "\"notes.txt\"")
	assert.Contains(t, prompt, strings.Repeat("x", 2000)+"...")
	assert.NotContains(t, prompt, strings.Repeat("x", 2001))
	assert.Empty(t, inf.OCRCalls())

	stored, err := files.Read(context.Background(), "omnichat/uploads/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, body, string(stored))
}

func TestProcessSniffsMissingMediaType(t *testing.T) {
	p, _, inf := newPipeline(t)
	inf.OCRText = "text in picture"
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	prompt, err := p.Process(context.Background(), File{Name: "shot.png", Data: png})
	require.NoError(t, err)
	assert.Contains(t, prompt, "text in picture")
	calls := inf.OCRCalls()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0], "data:image/png;base64,"))
}

func TestProcessImageUsesOCR(t *testing.T) {
	p, _, inf := newPipeline(t)
	inf.OCRText = "hello from ocr"
	prompt, err := p.Process(context.Background(), File{Name: "dir/scan.jpg", MediaType: "image/jpeg", Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, "I've uploaded a file \"scan.jpg\". Content:\n\nhello from ocr\n\nPlease analyze this.", prompt)
	assert.Equal(t, []string{"data:image/jpeg;base64,AQID"}, inf.OCRCalls())
}

func TestProcessUploadFailureAborts(t *testing.T) {
	p, files, inf := newPipeline(t)
	files.WriteErr = errors.New("not signed in")
	_, err := p.Process(context.Background(), File{Name: "a.png", MediaType: "image/png", Data: []byte{1}})
	assert.ErrorIs(t, err, ErrProcessFile)
	assert.Empty(t, inf.OCRCalls())
}

func TestProcessOCRFailure(t *testing.T) {
	p, _, inf := newPipeline(t)
	inf.OCRErr = errors.New("quota")
	_, err := p.Process(context.Background(), File{Name: "a.png", MediaType: "image/png", Data: []byte{1}})
	assert.ErrorIs(t, err, ErrProcessFile)
}

func TestProcessReadFailure(t *testing.T) {
	p, files, _ := newPipeline(t)
	files.ReadErr = errors.New("gone")
	_, err := p.Process(context.Background(), File{Name: "a.txt", MediaType: "text/plain", Data: []byte("hi")})
	assert.ErrorIs(t, err, ErrProcessFile)
}

func TestProcessRejectsOversize(t *testing.T) {
	p, files, _ := newPipeline(t)
	_, err := p.Process(context.Background(), File{Name: "big.txt", MediaType: "text/plain", Data: make([]byte, MaxFileBytes+1)})
	assert.ErrorIs(t, err, ErrProcessFile)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	_, readErr := files.Read(context.Background(), "omnichat/uploads/big.txt")
	assert.Error(t, readErr)
}

func TestUploadPathUsesBaseName(t *testing.T) {
	assert.Equal(t, "omnichat/uploads/c.txt", UploadPath(`a\b\c.txt`))
	assert.Equal(t, "omnichat/uploads/c.txt", UploadPath("../../c.txt"))
}
