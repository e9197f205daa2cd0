package ibkr

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/coachpo/asxtrader/errs"
)

// AuthStatus is the broker's view of the brokerage session.
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	Competing     bool   `json:"competing"`
	Connected     bool   `json:"connected"`
	Message       string `json:"message"`
	Fail          string `json:"fail"`
}

// AccountSummary holds the headline balances of one account.
type AccountSummary struct {
	Account        string          `json:"account"`
	Currency       string          `json:"currency"`
	NetLiquidation decimal.Decimal `json:"net_liquidation"`
	TotalCash      decimal.Decimal `json:"total_cash"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	AvailableFunds decimal.Decimal `json:"available_funds"`
}

// Status fetches the broker's session status.
func (c *Connection) Status(ctx context.Context) (AuthStatus, error) {
	var status AuthStatus
	if err := c.RequestInto(ctx, http.MethodGet, c.opts.metadata.authStatusPath, nil, nil, &status); err != nil {
		return AuthStatus{}, err
	}
	return status, nil
}

// AccountSummary fetches balances for the connected account.
func (c *Connection) AccountSummary(ctx context.Context) (AccountSummary, error) {
	account, err := c.Account()
	if err != nil {
		return AccountSummary{}, err
	}
	path := fmt.Sprintf(c.opts.metadata.summaryPathFormat, url.PathEscape(account))
	raw, err := c.request(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return AccountSummary{}, err
	}
	return ParseAccountSummary(account, raw)
}

// ParseAccountSummary reads the portfolio summary reply. Each field is an object
// with an amount and a currency; absent fields are zero.
func ParseAccountSummary(account string, raw []byte) (AccountSummary, error) {
	if !gjson.ValidBytes(raw) {
		return AccountSummary{}, errs.New(component, errs.CodeRequest, errs.WithMessage("summary reply is not JSON"))
	}
	root := gjson.ParseBytes(raw)
	summary := AccountSummary{
		Account:  account,
		Currency: strings.ToUpper(root.Get("netliquidation.currency").String()),
	}
	fields := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"netliquidation", &summary.NetLiquidation},
		{"totalcashvalue", &summary.TotalCash},
		{"buyingpower", &summary.BuyingPower},
		{"availablefunds", &summary.AvailableFunds},
	}
	for _, f := range fields {
		amount := root.Get(f.key + ".amount")
		if !amount.Exists() || amount.Type == gjson.Null {
			*f.dst = decimal.Zero
			continue
		}
		text := amount.String()
		if amount.Type == gjson.Number {
			text = amount.Raw
		}
		v, err := decimal.NewFromString(text)
		if err != nil {
			return AccountSummary{}, errs.New(component, errs.CodeRequest,
				errs.WithMessage("summary amount for "+f.key),
				errs.WithCause(err))
		}
		*f.dst = v
	}
	return summary, nil
}
