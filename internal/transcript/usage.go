// ABOUTME: Token usage and cost carried by completion signals and assistant messages
// ABOUTME: Decodes the several naming conventions hosts use for the same counters

package transcript

import (
	"encoding/json"
)

// Usage is token consumption for one model call or one turn.
type Usage struct {
	Input      int64   `json:"input"`
	Output     int64   `json:"output"`
	CacheRead  int64   `json:"cache_read"`
	CacheWrite int64   `json:"cache_write"`
	Total      int64   `json:"total"`
	CostUSD    float64 `json:"cost_usd"`
}

var (
	usageInputFields      = []string{"input", "input_tokens", "inputTokens", "prompt_tokens"}
	usageOutputFields     = []string{"output", "output_tokens", "outputTokens", "completion_tokens"}
	usageCacheReadFields  = []string{"cacheRead", "cache_read", "cache_read_input_tokens", "cacheReadTokens"}
	usageCacheWriteFields = []string{"cacheWrite", "cache_write", "cache_creation_input_tokens", "cacheWriteTokens"}
	usageTotalFields      = []string{"totalTokens", "total_tokens", "total"}
	usageCostFields       = []string{"cost", "cost_usd", "costUsd"}
)

// UnmarshalJSON reads whichever candidate names are present.
func (u *Usage) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*u = UsageFromMap(obj)
	return nil
}

// UsageFromMap decodes a usage object. Cost may be a number or an object
// with a "total" field.
func UsageFromMap(obj map[string]any) Usage {
	u := Usage{
		Input:      intField(obj, usageInputFields),
		Output:     intField(obj, usageOutputFields),
		CacheRead:  intField(obj, usageCacheReadFields),
		CacheWrite: intField(obj, usageCacheWriteFields),
		Total:      intField(obj, usageTotalFields),
	}
	if v, ok := FieldFrom(obj, usageCostFields...); ok {
		switch c := v.(type) {
		case float64:
			u.CostUSD = c
		case map[string]any:
			u.CostUSD, _ = c["total"].(float64)
		}
	}
	if u.Total == 0 {
		u.Total = u.Input + u.Output + u.CacheRead + u.CacheWrite
	}
	return u
}

// IsZero reports whether the usage carries no data.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// Add sums two usage records.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		Input:      u.Input + o.Input,
		Output:     u.Output + o.Output,
		CacheRead:  u.CacheRead + o.CacheRead,
		CacheWrite: u.CacheWrite + o.CacheWrite,
		Total:      u.Total + o.Total,
		CostUSD:    u.CostUSD + o.CostUSD,
	}
}

func intField(obj map[string]any, candidates []string) int64 {
	for _, name := range candidates {
		if f, ok := obj[name].(float64); ok {
			return int64(f)
		}
	}
	return 0
}
