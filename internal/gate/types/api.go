package types

// JSON shapes for the HTTP surface. Kept next to the domain types the way
// the rest of the package is laid out: requests are what the portal or the
// gate terminal sends, responses are what they get back.

type LoginRequest struct {
	Name       string `json:"name"`
	AccessCode string `json:"access_code"`
}

type LoginResponse struct {
	OK           bool   `json:"ok"`
	SessionToken string `json:"session_token"`
	ResidentID   string `json:"resident_id"`
	ResidentName string `json:"resident_name"`
	ServerTime   string `json:"server_time"`
}

type IssueTokenRequest struct {
	Purpose     string `json:"purpose"` // "vehicular" | "pedestrian"
	VisitorName string `json:"visitor_name,omitempty"`
	TTLMinutes  int    `json:"ttl_minutes,omitempty"` // 0 = server default
}

type IssueTokenResponse struct {
	OK        bool   `json:"ok"`
	TokenID   string `json:"token_id"`
	Encoded   string `json:"encoded"`
	Status    string `json:"status"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
}

type RegisterPedestrianRequest struct {
	VisitorName string `json:"visitor_name"`
}

type VisitorResponse struct {
	OK         bool   `json:"ok"`
	VisitorID  string `json:"visitor_id"`
	TokenID    string `json:"token_id,omitempty"`
	Name       string `json:"name"`
	EntryAt    string `json:"entry_at"`
	ExitAt     string `json:"exit_at,omitempty"`
	ResidentID string `json:"resident_id"`
}

type ScanRequest struct {
	Payload string `json:"payload"`
}

type ScanResponse struct {
	OK         bool   `json:"ok"`
	Admitted   bool   `json:"admitted"`
	Reason     string `json:"reason,omitempty"`
	TokenID    string `json:"token_id,omitempty"`
	VisitorID  string `json:"visitor_id,omitempty"`
	ServerTime string `json:"server_time"`
}
