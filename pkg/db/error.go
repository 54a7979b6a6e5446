package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ErrStorageUnavailable marks persistence failures that abort the current operation.
var ErrStorageUnavailable = errors.New("storage_unavailable")

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// SQLite (2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// Classify wraps driver errors as ErrStorageUnavailable. The listed domain
// errors, context errors and gorm.ErrRecordNotFound pass through unchanged.
func Classify(err error, domainErrs ...error) error {
	if err == nil {
		return nil
	}
	for _, target := range domainErrs {
		if errors.Is(err, target) {
			return err
		}
	}
	if errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
