package clinicapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// ListDoctorsBySpecialization returns the doctors offering one specialization.
// The directory endpoint returns either a bare array or an {items} wrapper
// depending on backend version, so both shapes are accepted.
func (c *Client) ListDoctorsBySpecialization(ctx context.Context, specialization string) ([]DoctorSummary, error) {
	if !ValidSpecialization(specialization) {
		return nil, &Error{
			Kind:    KindValidation,
			Message: fmt.Sprintf("unknown specialization %q", specialization),
			Fields:  map[string]string{"specialization": "unknown"},
		}
	}

	q := url.Values{}
	q.Set("role", "DOCTOR")
	q.Set("doctorType", specialization)

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/users", q, nil, &raw, nil); err != nil {
		return nil, fmt.Errorf("list doctors for %s: %w", specialization, err)
	}

	var doctors []DoctorSummary
	if err := json.Unmarshal(raw, &doctors); err == nil {
		return doctors, nil
	}
	var wrapped struct {
		Items []DoctorSummary `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, &Error{Kind: KindTransient, Message: fmt.Sprintf("decode doctor listing: %v", err)}
	}
	return wrapped.Items, nil
}
