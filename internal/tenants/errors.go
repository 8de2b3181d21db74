package tenants

import "errors"

var (
	ErrNotFound  = errors.New("tenant not found")
	ErrSlugTaken = errors.New("slug already taken")
)
