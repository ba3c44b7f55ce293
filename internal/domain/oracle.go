package domain

// OraclePayload is the evidence bundle sent to the decision oracle for one symbol.
type OraclePayload struct {
	Symbol      string          `json:"symbol"`
	Contract    string          `json:"contract,omitempty"`
	Social      SocialSummary   `json:"social"`
	News        []NewsRef       `json:"news"`
	Market      *MarketSnapshot `json:"market,omitempty"`
	QuickFilter bool            `json:"quick_filter"`
}

// SocialSummary is the hype score of a symbol with its inputs.
type SocialSummary struct {
	Score           float64 `json:"score"`
	Mentions        int     `json:"mentions"`
	Authors         int     `json:"authors"`
	WeightedAuthors float64 `json:"weighted_authors"`
	Engagement      float64 `json:"engagement"`
	RedFlag         bool    `json:"red_flag"`
	ZM              float64 `json:"z_m"`
	ZA              float64 `json:"z_a"`
	ZAW             float64 `json:"z_aw"`
	ZE              float64 `json:"z_e"`
}

// NewsRef is a headline reference included in an oracle payload.
type NewsRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// MaxPayloadNews bounds the headlines sent per payload.
const MaxPayloadNews = 6
