package app

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/remittance-service/internal/domain"
	"github.com/transfa/remittance-service/internal/store"
)

func TestAttachReceiptMovesToUnderReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tx := env.createPending(t)

	updated, err := env.svc.AttachReceipt(ctx, tx.ID, env.owner, bytes.NewReader(pngReceipt))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, updated.Status)
	require.NotNil(t, updated.ReceiptFilePath)
	assert.True(t, strings.HasSuffix(*updated.ReceiptFilePath, ".png"))
	assert.Equal(t, 1, env.storedReceiptCount(t))

	rc, contentType, err := env.svc.OpenReceipt(ctx, tx.ID, env.admin)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, pngReceipt, body)
	assert.Equal(t, "image/png", contentType)
}

func TestAttachReceiptRejectsNonConformingFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tx := env.createPending(t)

	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"plain text", []byte("this is not a receipt")},
		{"too large", append(append([]byte{}, pngReceipt...), bytes.Repeat([]byte{0}, 2048)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.AttachReceipt(ctx, tx.ID, env.owner, bytes.NewReader(tt.body))
			require.ErrorIs(t, err, domain.ErrInvalidReceipt)
		})
	}

	stored, err := env.svc.GetTransaction(ctx, tx.ID, env.owner)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Nil(t, stored.ReceiptFilePath)
	assert.Zero(t, env.storedReceiptCount(t))
}

func TestAttachReceiptTwiceIsRefused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tx := env.createUnderReview(t)

	_, err := env.svc.AttachReceipt(ctx, tx.ID, env.owner, bytes.NewReader(pngReceipt))
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 1, env.storedReceiptCount(t))
}

func TestAttachReceiptHidesOtherUsersTransactions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tx := env.createPending(t)

	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleUser}
	_, err := env.svc.AttachReceipt(ctx, tx.ID, stranger, bytes.NewReader(pngReceipt))
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)
	assert.Zero(t, env.storedReceiptCount(t))
}

func TestAttachReceiptDiscardsFileWhenTransitionLoses(t *testing.T) {
	env := newTestEnvWithRepo(t, func(m *store.MemoryRepository) store.Repository {
		return staleRepository{m}
	})
	ctx := context.Background()
	tx := env.createPending(t)

	_, err := env.svc.AttachReceipt(ctx, tx.ID, env.owner, bytes.NewReader(pngReceipt))
	require.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Zero(t, env.storedReceiptCount(t))
}

func TestOpenReceiptWithoutUpload(t *testing.T) {
	env := newTestEnv(t)
	tx := env.createPending(t)

	_, _, err := env.svc.OpenReceipt(context.Background(), tx.ID, env.owner)
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)
}
