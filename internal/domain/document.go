package domain

import "time"

// Document is a professional-ethics case narrative. Body text is
// addressable by character offsets; when object storage is configured the
// body lives there and StorageKey is set.
type Document struct {
	ID         string
	Title      string
	Body       string
	StorageKey string
	CreatedAt  time.Time
}

// ValidateDocument validates a Document.
func ValidateDocument(d *Document) error {
	if d == nil {
		return NewDomainError(ErrCodeValidation, "document cannot be nil")
	}
	if d.ID == "" {
		return NewDomainError(ErrCodeValidation, "document ID is required")
	}
	if d.Title == "" {
		return NewDomainError(ErrCodeValidation, "document title is required")
	}
	if d.Body == "" && d.StorageKey == "" {
		return NewDomainError(ErrCodeValidation, "document body or storage key is required")
	}
	return nil
}
