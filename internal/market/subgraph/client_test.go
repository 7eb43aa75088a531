package subgraph

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/liamashdown/whalewatch/internal/fault"
)

const pool = "0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8"

func newTestServer(t *testing.T, respond func(query string) string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req graphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(respond(req.Query)))
	}))
	t.Cleanup(server.Close)
	return NewClient(server.URL, pool, 100)
}

func TestVolume(t *testing.T) {
	client := newTestServer(t, func(q string) string {
		if !strings.Contains(q, "pools") {
			t.Errorf("unexpected query %s", q)
		}
		return `{"data":{"pools":[{"feeTier":"3000","volumeUSD":"123456.78","txCount":"99"}]}}`
	})

	got, err := client.Volume(context.Background())
	if err != nil {
		t.Fatalf("Volume() error = %v", err)
	}
	if got != 123456.78 {
		t.Errorf("Volume() = %f", got)
	}
}

func TestVolumeGraphQLError(t *testing.T) {
	client := newTestServer(t, func(q string) string {
		return `{"errors":[{"message":"indexer unavailable"}]}`
	})

	_, err := client.Volume(context.Background())
	if !fault.Is(err, fault.KindRejected) {
		t.Errorf("err = %v, want rejected", err)
	}
}

func TestVolatility(t *testing.T) {
	// sqrtPriceX96 of 2^96 gives ratio 1, 2^96*sqrt(1.21) gives 1.21
	one := "79228162514264337593543950336"
	onePointOne := "87150978765690771352898345369"

	tests := []struct {
		name  string
		swaps string
		want  float64
	}{
		{"too few swaps", `[{"timestamp":"1","amountUSD":"1","sqrtPriceX96":"` + one + `"}]`, DefaultVolatility},
		{"flat price", `[{"sqrtPriceX96":"` + one + `"},{"sqrtPriceX96":"` + one + `"}]`, 0},
		{"two prices", `[{"sqrtPriceX96":"` + one + `"},{"sqrtPriceX96":"` + onePointOne + `"}]`, 13.4382},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, func(q string) string {
				return `{"data":{"swaps":` + tt.swaps + `}}`
			})
			got, err := client.Volatility(context.Background())
			if err != nil {
				t.Fatalf("Volatility() error = %v", err)
			}
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("Volatility() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestVolatilityCap(t *testing.T) {
	cv, ok := CoefficientOfVariation([]float64{1, 100})
	if !ok || cv <= maxVolatility {
		t.Fatalf("expected raw CV above the cap, got %f", cv)
	}
}

func TestPriceFromSqrtX96(t *testing.T) {
	got, err := PriceFromSqrtX96("79228162514264337593543950336")
	if err != nil || got != 1 {
		t.Errorf("PriceFromSqrtX96(2^96) = %f, %v", got, err)
	}
	if _, err := PriceFromSqrtX96("0xabc"); err == nil {
		t.Error("expected error for non-decimal input")
	}
}
