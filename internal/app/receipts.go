package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/transfa/remittance-service/internal/domain"
	"github.com/transfa/remittance-service/internal/logger"
	"github.com/transfa/remittance-service/internal/storage"
)

// AttachReceipt validates the uploaded file, stores it and moves the
// transaction from PENDING to UNDER_REVIEW. When the transition is refused the
// stored file is removed again, so no receipt outlives a failed upload.
func (s *Service) AttachReceipt(ctx context.Context, id uuid.UUID, actor domain.Actor, file io.Reader) (*domain.Transaction, error) {
	log := logger.Component("receipt_ingestion").WithFields(logrus.Fields{
		"transaction_id": id,
		"user_id":        actor.ID,
	})

	current, err := s.loadTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(current) {
		return nil, domain.ErrTransactionNotFound
	}
	// Fail fast on an illegal state before touching storage.
	if _, err := domain.NextStatus(current.Status, domain.EventReceiptUploaded); err != nil {
		return nil, err
	}
	if current.HasReceipt() {
		return nil, fmt.Errorf("%w: receipt already attached", domain.ErrInvalidTransition)
	}

	receipt, err := s.receipts.Inspect(file)
	if err != nil {
		log.WithError(err).Info("receipt rejected by policy")
		return nil, receiptError(err)
	}

	path, err := s.receipts.Save(id, receipt)
	if err != nil {
		return nil, fmt.Errorf("store receipt: %w", err)
	}

	updated, err := s.fire(ctx, id, domain.TransitionInput{
		Event:           domain.EventReceiptUploaded,
		Actor:           actor,
		ReceiptFilePath: path,
	})
	if err != nil {
		if delErr := s.receipts.Delete(path); delErr != nil {
			log.WithError(delErr).WithField("path", path).Error("failed to discard receipt after refused transition")
		}
		return nil, err
	}

	log.WithFields(logrus.Fields{"path": path, "content_type": receipt.ContentType}).Info("receipt attached")
	return updated, nil
}

// OpenReceipt streams the stored receipt of a transaction to staff or its owner.
func (s *Service) OpenReceipt(ctx context.Context, id uuid.UUID, actor domain.Actor) (io.ReadCloser, string, error) {
	tx, err := s.GetTransaction(ctx, id, actor)
	if err != nil {
		return nil, "", err
	}
	if !tx.HasReceipt() {
		return nil, "", fmt.Errorf("%w: no receipt uploaded", domain.ErrTransactionNotFound)
	}
	rc, contentType, err := s.receipts.Open(*tx.ReceiptFilePath)
	if err != nil {
		if errors.Is(err, storage.ErrReceiptNotFound) {
			return nil, "", fmt.Errorf("%w: receipt file missing", domain.ErrTransactionNotFound)
		}
		return nil, "", err
	}
	return rc, contentType, nil
}

func receiptError(err error) error {
	switch {
	case errors.Is(err, storage.ErrReceiptEmpty),
		errors.Is(err, storage.ErrReceiptTooLarge),
		errors.Is(err, storage.ErrReceiptTypeNotAllowed):
		return fmt.Errorf("%w: %v", domain.ErrInvalidReceipt, err)
	}
	return fmt.Errorf("read receipt: %w", err)
}
