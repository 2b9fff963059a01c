package model

// ConfidenceFactors records the signals behind an overall confidence score.
type ConfidenceFactors struct {
	HasDirectSource    bool `json:"has_direct_source"`
	HasMultipleSources bool `json:"has_multiple_sources"`
	IsVerified         bool `json:"is_verified"`
	IsRecent           bool `json:"is_recent"`
}

// ConfidenceScore summarizes trust in one program's extracted fields.
type ConfidenceScore struct {
	Overall    float64            `json:"overall"`
	ByCategory map[string]float64 `json:"by_category"`
	Factors    ConfidenceFactors  `json:"factors"`
}
