package csrf

import "sync/atomic"

// CSRFMetrics tracks CSRF check outcomes using atomic counters.
type CSRFMetrics struct {
	TotalRequests     atomic.Int64
	Skipped           atomic.Int64
	TokenGenerated    atomic.Int64
	ValidationSuccess atomic.Int64
	ValidationFailed  atomic.Int64
	MissingToken      atomic.Int64
	TokenMismatch     atomic.Int64
}

// CSRFStatus is the admin API representation of a protector's state.
type CSRFStatus struct {
	Protection        string `json:"protection"`
	TokenName         string `json:"token_name"`
	HeaderName        string `json:"header_name"`
	CookieName        string `json:"cookie_name,omitempty"`
	Expire            int    `json:"expire"`
	Regenerate        bool   `json:"regenerate"`
	Redirect          bool   `json:"redirect"`
	Randomize         bool   `json:"randomize"`
	TotalRequests     int64  `json:"total_requests"`
	Skipped           int64  `json:"skipped"`
	TokenGenerated    int64  `json:"token_generated"`
	ValidationSuccess int64  `json:"validation_success"`
	ValidationFailed  int64  `json:"validation_failed"`
	MissingToken      int64  `json:"missing_token"`
	TokenMismatch     int64  `json:"token_mismatch"`
}
