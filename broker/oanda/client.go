// Package oanda is a broker.Gateway over the OANDA v20 REST API.
package oanda

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/fxhedge/broker"
	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/market"
)

type Client struct {
	BaseURL string // e.g. https://api-fxpractice.oanda.com
	Token   string
	HTTP    *http.Client

	limiter *rate.Limiter
}

var _ broker.Gateway = (*Client)(nil)
var _ broker.CashReporter = (*Client)(nil)

func BaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "practice", "demo":
		return "https://api-fxpractice.oanda.com", nil
	case "live":
		return "https://api-fxtrade.oanda.com", nil
	default:
		return "", fmt.Errorf("unknown OANDA env %q (want practice|live)", env)
	}
}

// New returns a client issuing at most rps requests per second.
func New(baseURL, token string, rps float64) *Client {
	if rps <= 0 {
		rps = 20
	}
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

type positionSide struct {
	Units string `json:"units"`
}

type positionsResponse struct {
	Positions []struct {
		Instrument string       `json:"instrument"`
		Long       positionSide `json:"long"`
		Short      positionSide `json:"short"`
	} `json:"positions"`
}

func (c *Client) Positions(ctx context.Context, account string) (map[string]float64, error) {
	var resp positionsResponse
	if err := c.do(ctx, http.MethodGet, "/v3/accounts/"+account+"/openPositions", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("oanda positions: %w", err)
	}

	out := make(map[string]float64, len(resp.Positions))
	for _, p := range resp.Positions {
		long, err := parseFloat(p.Long.Units)
		if err != nil {
			return nil, fmt.Errorf("oanda positions %s: %w", p.Instrument, err)
		}
		short, err := parseFloat(p.Short.Units)
		if err != nil {
			return nil, fmt.Errorf("oanda positions %s: %w", p.Instrument, err)
		}
		if net := long + short; net != 0 {
			out[p.Instrument] = net
		}
	}
	return out, nil
}

type orderBody struct {
	Order marketOrder `json:"order"`
}

type marketOrder struct {
	Type             string           `json:"type"`
	Instrument       string           `json:"instrument"`
	Units            string           `json:"units"`
	TimeInForce      string           `json:"timeInForce"`
	PositionFill     string           `json:"positionFill"`
	ClientExtensions clientExtensions `json:"clientExtensions"`
}

type clientExtensions struct {
	ID  string `json:"id,omitempty"`
	Tag string `json:"tag,omitempty"`
}

type createOrderResponse struct {
	OrderCreateTransaction struct {
		ID string `json:"id"`
	} `json:"orderCreateTransaction"`
}

// SubmitOrder places a fill-or-kill market order tagged with the cycle ID.
// The order ID is the ticket reference.
func (c *Client) SubmitOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	pair := market.NormalizePair(req.Pair)
	body := orderBody{Order: marketOrder{
		Type:         "MARKET",
		Instrument:   pair,
		Units:        strconv.FormatFloat(req.Amount, 'f', -1, 64),
		TimeInForce:  "FOK",
		PositionFill: "DEFAULT",
		ClientExtensions: clientExtensions{
			ID:  req.CycleID + "-" + pair,
			Tag: req.CycleID,
		},
	}}

	var resp createOrderResponse
	if err := c.do(ctx, http.MethodPost, "/v3/accounts/"+req.BrokerAccountID+"/orders", nil, body, &resp); err != nil {
		return "", fmt.Errorf("oanda submit %s: %w", pair, err)
	}
	if resp.OrderCreateTransaction.ID == "" {
		return "", fmt.Errorf("oanda submit %s: no order id in response", pair)
	}
	return req.BrokerAccountID + "/" + resp.OrderCreateTransaction.ID, nil
}

type orderResponse struct {
	Order struct {
		ID                   string           `json:"id"`
		Instrument           string           `json:"instrument"`
		Units                string           `json:"units"`
		State                string           `json:"state"`
		FillingTransactionID string           `json:"fillingTransactionID"`
		ClientExtensions     clientExtensions `json:"clientExtensions"`
	} `json:"order"`
}

type transactionResponse struct {
	Transaction struct {
		Units      string `json:"units"`
		Price      string `json:"price"`
		Commission string `json:"commission"`
	} `json:"transaction"`
}

// TicketState maps an OANDA order onto a ticket. Filled orders are joined
// with their fill transaction for price and commission.
func (c *Client) TicketState(ctx context.Context, ref string) (hedge.Ticket, error) {
	account, orderID, ok := strings.Cut(ref, "/")
	if !ok {
		return hedge.Ticket{}, fmt.Errorf("%w: malformed ref %q", hedge.ErrTicketUnknown, ref)
	}

	var or orderResponse
	if err := c.do(ctx, http.MethodGet, "/v3/accounts/"+account+"/orders/"+orderID, nil, nil, &or); err != nil {
		return hedge.Ticket{}, fmt.Errorf("oanda ticket %s: %w", ref, err)
	}

	units, err := parseFloat(or.Order.Units)
	if err != nil {
		return hedge.Ticket{}, fmt.Errorf("oanda ticket %s: %w", ref, err)
	}
	tk := hedge.Ticket{
		Ref:             ref,
		Pair:            or.Order.Instrument,
		CycleID:         or.Order.ClientExtensions.Tag,
		AmountRemaining: units,
		State:           mapState(or.Order.State),
	}
	if tk.State != hedge.StateFilled || or.Order.FillingTransactionID == "" {
		return tk, nil
	}

	var tr transactionResponse
	path := "/v3/accounts/" + account + "/transactions/" + or.Order.FillingTransactionID
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &tr); err != nil {
		return hedge.Ticket{}, fmt.Errorf("oanda fill %s: %w", ref, err)
	}
	filled, err := parseFloat(tr.Transaction.Units)
	if err != nil {
		return hedge.Ticket{}, err
	}
	price, err := parseFloat(tr.Transaction.Price)
	if err != nil {
		return hedge.Ticket{}, err
	}
	commission, err := parseFloat(tr.Transaction.Commission)
	if err != nil {
		return hedge.Ticket{}, err
	}

	tk.AmountFilled = filled
	tk.AmountRemaining = units - filled
	tk.AveragePrice = price
	tk.Commission = commission
	if price > 0 {
		tk.CntrCommission = commission / price
	}
	return tk, nil
}

func mapState(s string) hedge.TicketState {
	switch s {
	case "FILLED":
		return hedge.StateFilled
	case "CANCELLED":
		return hedge.StateCancelled
	case "TRIGGERED":
		return hedge.StateWorking
	case "PENDING":
		return hedge.StatePending
	default:
		return hedge.TicketState(s)
	}
}

type summaryResponse struct {
	Account struct {
		Currency string `json:"currency"`
		Balance  string `json:"balance"`
	} `json:"account"`
}

func (c *Client) CashHoldings(ctx context.Context, account string) (map[string]float64, error) {
	var resp summaryResponse
	if err := c.do(ctx, http.MethodGet, "/v3/accounts/"+account+"/summary", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("oanda summary: %w", err)
	}
	bal, err := parseFloat(resp.Account.Balance)
	if err != nil {
		return nil, err
	}
	return map[string]float64{resp.Account.Currency: bal}, nil
}

type pricingResponse struct {
	Prices []struct {
		Instrument string `json:"instrument"`
		Bids       []struct {
			Price string `json:"price"`
		} `json:"bids"`
		Asks []struct {
			Price string `json:"price"`
		} `json:"asks"`
	} `json:"prices"`
}

// LoadRates fetches mid prices for pairs into cache.
func (c *Client) LoadRates(ctx context.Context, account string, pairs []string, cache *market.SpotCache) error {
	var resp pricingResponse
	q := map[string]string{"instruments": strings.Join(pairs, ",")}
	if err := c.do(ctx, http.MethodGet, "/v3/accounts/"+account+"/pricing", q, nil, &resp); err != nil {
		return fmt.Errorf("oanda pricing: %w", err)
	}
	for _, p := range resp.Prices {
		if len(p.Bids) == 0 || len(p.Asks) == 0 {
			continue
		}
		bid, err := parseFloat(p.Bids[0].Price)
		if err != nil {
			return err
		}
		ask, err := parseFloat(p.Asks[0].Price)
		if err != nil {
			return err
		}
		cache.Set(p.Instrument, (bid+ask)/2)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, opts map[string]string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return err
	}
	u.Path = path
	q := u.Query()
	for k, v := range opts {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	var body io.Reader
	if in != nil {
		b, err := sonic.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", hedge.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", hedge.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", hedge.ErrTicketUnknown, path)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: http %d", hedge.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if out == nil {
		return nil
	}
	return sonic.Unmarshal(b, out)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
