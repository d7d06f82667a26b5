package upstream

import (
	"strconv"
	"strings"
)

// -----------------------------------------------------------------------------
// Wire Types
// -----------------------------------------------------------------------------
// The exchange's internal API is loosely typed: numeric values arrive as
// numbers or as quoted strings depending on the endpoint, and fields come and
// go. Every numeric field goes through OptFloat so a shape mismatch resolves
// to "unknown" instead of failing the containing record.

// OptFloat unmarshals from a JSON number or a numeric string. Any other shape
// (null, empty, garbage) leaves the value nil.
type OptFloat struct {
	value *float64
}

func (o *OptFloat) UnmarshalJSON(b []byte) error {
	o.value = nil
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	o.value = &f
	return nil
}

// Float returns the parsed value, nil if the field was absent or malformed.
func (o OptFloat) Float() *float64 {
	return o.value
}

// -----------------------------------------------------------------------------

type directoryResponse struct {
	Code string           `json:"code"`
	Data []directoryEntry `json:"data"`
}

type directoryEntry struct {
	Symbol   string `json:"symbol"`
	Code     string `json:"currencyCode"`
	Name     string `json:"name"`
	FullName string `json:"fullName"`
}

type holdersResponse struct {
	Code string `json:"code"`
	Data struct {
		HolderNum OptFloat `json:"holderNum"`
	} `json:"data"`
}

type circulationResponse struct {
	Code string `json:"code"`
	Data struct {
		Amount        OptFloat `json:"amount"`
		ChangePercent OptFloat `json:"changePercent"`
	} `json:"data"`
}

type holderConcentrationResponse struct {
	Code string `json:"code"`
	Data struct {
		InfluencePercent OptFloat `json:"influencePercent"`
		PurityPercent    OptFloat `json:"purityPercent"`
	} `json:"data"`
}

type traderConcentrationResponse struct {
	Code string `json:"code"`
	Data struct {
		InfluencePercent OptFloat `json:"influencePercent"`
	} `json:"data"`
}

type tickerResponse struct {
	Code string `json:"code"`
	Data struct {
		Symbol string   `json:"symbol"`
		Price  OptFloat `json:"price"`
		Time   int64    `json:"time"`
	} `json:"data"`
}

type klineResponse struct {
	Code string      `json:"code"`
	Data [][]OptFloat `json:"data"`
}
