package domain

import (
	"strconv"
	"strings"

	dErrors "assetdesk/pkg/domain-errors"
)

// RenewalID identifies a compliance record. IDs are assigned by the store and
// are always positive.
type RenewalID int64

// ParseRenewalID parses a path or query parameter into a RenewalID.
func ParseRenewalID(s string) (RenewalID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "renewal id is required")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "renewal id must be an integer")
	}
	if n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "renewal id must be positive")
	}
	return RenewalID(n), nil
}

func (id RenewalID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IsNil reports whether the ID is unassigned.
func (id RenewalID) IsNil() bool {
	return id <= 0
}
