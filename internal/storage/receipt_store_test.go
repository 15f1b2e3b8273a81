package storage

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func newTestStore(maxBytes int64) (*ReceiptStore, afero.Fs) {
	fs := afero.NewMemMapFs()
	return NewReceiptStore(fs, "/receipts", maxBytes, []string{"image/png", "image/jpeg", "application/pdf"}), fs
}

func TestInspectAcceptsAllowedTypes(t *testing.T) {
	store, _ := newTestStore(1024)

	png, err := store.Inspect(bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "image/png", png.ContentType)
	assert.Equal(t, ".png", png.Extension)

	pdf, err := store.Inspect(strings.NewReader("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n"))
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdf.ContentType)
}

func TestInspectRejectsNonConformingFiles(t *testing.T) {
	store, _ := newTestStore(64)

	_, err := store.Inspect(strings.NewReader(""))
	assert.True(t, errors.Is(err, ErrReceiptEmpty))

	_, err = store.Inspect(strings.NewReader("just some words, not a receipt"))
	assert.True(t, errors.Is(err, ErrReceiptTypeNotAllowed))

	big := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 100)...)
	_, err = store.Inspect(bytes.NewReader(big))
	assert.True(t, errors.Is(err, ErrReceiptTooLarge))
}

func TestSaveOpenDelete(t *testing.T) {
	store, fs := newTestStore(1024)
	txID := uuid.New()

	receipt, err := store.Inspect(bytes.NewReader(pngHeader))
	require.NoError(t, err)

	rel, err := store.Save(txID, receipt)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rel, txID.String()+"/"))
	assert.True(t, strings.HasSuffix(rel, ".png"))

	exists, err := afero.Exists(fs, "/receipts/"+rel)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, contentType, err := store.Open(rel)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, pngHeader, data)
	assert.Equal(t, "image/png", contentType)

	require.NoError(t, store.Delete(rel))
	exists, err = afero.Exists(fs, "/receipts/"+rel)
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting twice is fine.
	require.NoError(t, store.Delete(rel))

	_, _, err = store.Open(rel)
	assert.True(t, errors.Is(err, ErrReceiptNotFound))
}

func TestPathsCannotEscapeRoot(t *testing.T) {
	store, _ := newTestStore(1024)

	_, _, err := store.Open("../etc/passwd")
	assert.True(t, errors.Is(err, ErrReceiptNotFound))
	assert.Error(t, store.Delete("../../x"))
}
