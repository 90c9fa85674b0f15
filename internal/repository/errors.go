package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a record does not exist (or belongs to another company).
	ErrNotFound = gorm.ErrRecordNotFound

	// ErrStaleStatus is returned by conditional updates when the row's status moved on.
	ErrStaleStatus = errors.New("status changed concurrently")
)
