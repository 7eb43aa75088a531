package etherscan

import (
	"encoding/json"
	"strings"
)

// response covers both envelopes the API returns: the legacy
// status/message/result shape and the JSON-RPC shape of the proxy module
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// resultText returns the result when it is a JSON string, as error
// responses put their detail there
func (r *response) resultText() string {
	var s string
	if err := json.Unmarshal(r.Result, &s); err != nil {
		return ""
	}
	return s
}

func isEmptyResult(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "no records found") || strings.Contains(m, "no transactions found")
}

func isRateLimit(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "rate limit")
}
