package attom

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/retry"
)

const homeEquityPath = "propertyapi/v1.0.0/valuation/homeequity"

// Equity is the subset of the home-equity valuation the enricher keeps.
// Missing values stay invalid (null) rather than zero.
type Equity struct {
	EstBalance      decimal.NullDecimal
	AvailableEquity decimal.NullDecimal
	LTV             decimal.NullDecimal
	LoansCount      int
	Loans           []Loan
}

type Loan struct {
	AmortizedAmount decimal.NullDecimal
	LoanAmount      decimal.NullDecimal
	LenderName      string
	LoanType        string
}

// amount is a provider number. null, "" and an absent field all decode as unknown.
type amount struct {
	decimal.NullDecimal
}

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		a.NullDecimal = decimal.NullDecimal{}
		return nil
	}
	return a.NullDecimal.UnmarshalJSON(b)
}

type loanJSON struct {
	AmortizedAmount amount `json:"amortizedAmount"`
	LoanAmount      amount `json:"loanAmount"`
	LenderName      string `json:"lenderName"`
	LoanType        string `json:"loanType"`
}

type homeEquityResponse struct {
	Property []struct {
		HomeEquity struct {
			EstimatedAvailableEquity amount     `json:"estimatedAvailableEquity"`
			LTV                      amount     `json:"LTV"`
			Loans                    []loanJSON `json:"loans"`
		} `json:"homeEquity"`
	} `json:"property"`
}

// FetchEquity requests the home-equity valuation for attomID as of calcDate.
// A zero calcDate means today (UTC).
//
// The estimated balance is the amortized amount of the first listed loan. A property
// with no loans is a success with LoansCount 0 and every monetary field null, whatever
// equity figures the provider reports for it.
func (c *Client) FetchEquity(ctx context.Context, attomID string, calcDate time.Time) (Equity, error) {
	if calcDate.IsZero() {
		calcDate = time.Now().UTC()
	}
	q := url.Values{}
	q.Set("attomid", strings.TrimSpace(attomID))
	q.Set("calculationdate", calcDate.Format(time.DateOnly))

	eq, err := retry.Do(ctx, c.exec, "fetch_equity", func(ctx context.Context) (Equity, error) {
		var out homeEquityResponse
		if err := c.get(ctx, "homeEquity", homeEquityPath, q, &out); err != nil {
			return Equity{}, err
		}
		return equityFromResponse(out), nil
	})
	if err != nil {
		if isNoMatch(err) {
			return Equity{}, nil
		}
		return Equity{}, err
	}
	return eq, nil
}

func equityFromResponse(out homeEquityResponse) Equity {
	if len(out.Property) == 0 {
		return Equity{}
	}
	he := out.Property[0].HomeEquity
	if len(he.Loans) == 0 {
		return Equity{}
	}
	eq := Equity{
		EstBalance:      he.Loans[0].AmortizedAmount.NullDecimal,
		AvailableEquity: he.EstimatedAvailableEquity.NullDecimal,
		LTV:             he.LTV.NullDecimal,
		LoansCount:      len(he.Loans),
		Loans:           make([]Loan, 0, len(he.Loans)),
	}
	for _, l := range he.Loans {
		eq.Loans = append(eq.Loans, Loan{
			AmortizedAmount: l.AmortizedAmount.NullDecimal,
			LoanAmount:      l.LoanAmount.NullDecimal,
			LenderName:      l.LenderName,
			LoanType:        l.LoanType,
		})
	}
	return eq
}
