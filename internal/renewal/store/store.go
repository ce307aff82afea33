// Package store persists compliance records. Stores return sentinel errors;
// the renewal service translates them into domain errors.
package store

import "assetdesk/internal/renewal/models"

// clone copies a record so callers never share pointers with stored state.
func clone(r *models.ComplianceRecord) *models.ComplianceRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.SN = copyPtr(r.SN)
	c.LastYearDetails = copyPtr(r.LastYearDetails)
	c.AuthorityProvider = copyPtr(r.AuthorityProvider)
	c.AuthorityAddress = copyPtr(r.AuthorityAddress)
	c.LawOrStatute = copyPtr(r.LawOrStatute)
	c.ActualCost = copyPtr(r.ActualCost)
	return &c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
