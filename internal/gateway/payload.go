package gateway

import (
	"strings"
	"time"
)

// InventoryDateLayout is the accepted inventoryDate format.
const InventoryDateLayout = "2006-01-02"

// BearerPrefix must start every Authorization value forwarded upstream.
const BearerPrefix = "Bearer "

// SubmissionPayload is the OWSR inventory import body. Records are forwarded
// as-is; their contents are owned by the submission service.
type SubmissionPayload struct {
	InventoryDate string           `json:"inventoryDate"`
	Records       []map[string]any `json:"records"`
}

// Validate checks the payload fields that must hold before any upstream call.
func (p *SubmissionPayload) Validate() error {
	if p == nil {
		return &Error{Kind: KindInvalidPayload, Op: OpInventorySubmission, Message: "payload is required"}
	}
	if _, err := time.Parse(InventoryDateLayout, p.InventoryDate); err != nil {
		return &Error{
			Kind:    KindInvalidPayload,
			Op:      OpInventorySubmission,
			Message: "inventoryDate must be a calendar date in YYYY-MM-DD format",
			Err:     err,
		}
	}
	if p.Records == nil {
		return &Error{Kind: KindInvalidPayload, Op: OpInventorySubmission, Message: "records is required"}
	}
	return nil
}

// ValidateAuthorization checks that the caller supplied a bearer credential.
// The token itself is opaque and never inspected.
func ValidateAuthorization(authorization string) error {
	if !strings.HasPrefix(authorization, BearerPrefix) {
		return &Error{
			Kind:    KindUnauthorized,
			Op:      OpInventorySubmission,
			Message: "Authorization header must use the Bearer scheme",
		}
	}
	return nil
}
