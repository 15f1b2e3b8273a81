// Package storage keeps uploaded payment receipts on an afero filesystem.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var (
	ErrReceiptEmpty          = errors.New("receipt file is empty")
	ErrReceiptTooLarge       = errors.New("receipt file exceeds the size limit")
	ErrReceiptTypeNotAllowed = errors.New("receipt file type is not allowed")
	ErrReceiptNotFound       = errors.New("receipt file not found")
)

// Receipt is an upload that passed the type and size policy.
type Receipt struct {
	Data        []byte
	ContentType string
	Extension   string
}

// ReceiptStore validates and persists receipts under root.
type ReceiptStore struct {
	fs           afero.Fs
	root         string
	maxBytes     int64
	allowedTypes []string
}

// NewReceiptStore returns a store writing below root on fs. allowedTypes are
// MIME types such as "image/png"; a sniffed type is accepted when it equals
// one of them or descends from one.
func NewReceiptStore(fs afero.Fs, root string, maxBytes int64, allowedTypes []string) *ReceiptStore {
	types := make([]string, 0, len(allowedTypes))
	for _, t := range allowedTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			types = append(types, t)
		}
	}
	return &ReceiptStore{fs: fs, root: root, maxBytes: maxBytes, allowedTypes: types}
}

// Inspect reads at most maxBytes+1 bytes from r and checks size and content type.
func (s *ReceiptStore) Inspect(r io.Reader) (*Receipt, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read receipt: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrReceiptEmpty
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes max)", ErrReceiptTooLarge, s.maxBytes)
	}

	detected := mimetype.Detect(data)
	if !s.allowed(detected) {
		return nil, fmt.Errorf("%w: %s", ErrReceiptTypeNotAllowed, detected.String())
	}

	contentType := detected.String()
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return &Receipt{Data: data, ContentType: contentType, Extension: detected.Extension()}, nil
}

func (s *ReceiptStore) allowed(detected *mimetype.MIME) bool {
	for m := detected; m != nil; m = m.Parent() {
		for _, t := range s.allowedTypes {
			if m.Is(t) {
				return true
			}
		}
	}
	return false
}

// Save writes the receipt to <root>/<transactionID>/<uuid><ext> and returns
// the path relative to root.
func (s *ReceiptStore) Save(transactionID uuid.UUID, receipt *Receipt) (string, error) {
	rel := path.Join(transactionID.String(), uuid.NewString()+receipt.Extension)
	full := s.fullPath(rel)

	if err := s.fs.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create receipt dir: %w", err)
	}
	if err := afero.WriteReader(s.fs, full, bytes.NewReader(receipt.Data)); err != nil {
		return "", fmt.Errorf("write receipt: %w", err)
	}
	return rel, nil
}

// Delete removes a stored receipt. Deleting a missing file is not an error.
func (s *ReceiptStore) Delete(rel string) error {
	full, err := s.safePath(rel)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Open returns the stored receipt and its sniffed content type.
func (s *ReceiptStore) Open(rel string) (io.ReadCloser, string, error) {
	full, err := s.safePath(rel)
	if err != nil {
		return nil, "", err
	}
	f, err := s.fs.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrReceiptNotFound
		}
		return nil, "", err
	}

	detected, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, "", err
	}
	return f, detected.String(), nil
}

func (s *ReceiptStore) fullPath(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// safePath rejects relative paths that would escape root.
func (s *ReceiptStore) safePath(rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if clean == "/" || strings.Contains(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrReceiptNotFound, rel)
	}
	return s.fullPath(strings.TrimPrefix(clean, "/")), nil
}
