package models

import "strings"

// JobRequest is the original analysis job submitted by a client.
type JobRequest struct {
	Segment    string `json:"segment"`
	Product    string `json:"product"`
	Audience   string `json:"audience,omitempty"`
	Objectives string `json:"objectives,omitempty"`
	Context    string `json:"context,omitempty"`
	Query      string `json:"query,omitempty"`
}

// SearchQuery returns the explicit query if present, otherwise synthesizes
// one from segment and product.
func (j JobRequest) SearchQuery() string {
	if j.Query != "" {
		return j.Query
	}
	parts := make([]string, 0, 3)
	if j.Segment != "" {
		parts = append(parts, j.Segment)
	}
	if j.Product != "" {
		parts = append(parts, j.Product)
	}
	parts = append(parts, "market analysis trends")
	return strings.Join(parts, " ")
}

// Valid reports whether the request carries enough information to analyze.
func (j JobRequest) Valid() bool {
	return j.Segment != "" || j.Product != "" || j.Query != ""
}
