// Package pagination normalizes page windows for list endpoints.
package pagination

import (
	"fmt"
	"strconv"
	"strings"
)

// PageSizeConfig configures page size normalization.
type PageSizeConfig struct {
	Default int
	Max     int
}

// ClampPageSize applies defaults and limits for page sizes.
func ClampPageSize(value int, cfg PageSizeConfig) int {
	pageSize := value
	if pageSize <= 0 {
		pageSize = cfg.Default
	}
	if cfg.Max > 0 && pageSize > cfg.Max {
		pageSize = cfg.Max
	}
	if pageSize <= 0 {
		pageSize = 1
	}
	return pageSize
}

// Offset returns the number of rows before page. Pages start at 1.
func Offset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}

// ParsePositive parses a query parameter that must be a positive integer.
// An empty value yields fallback.
func ParsePositive(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, fmt.Errorf("invalid positive integer %q", raw)
	}
	return value, nil
}
