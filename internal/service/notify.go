package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ovalpay/settlements/internal/models"
	"github.com/ovalpay/settlements/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Callback kinds the admin can dispatch manually.
const (
	CallbackSuccess  = "success"
	CallbackFail     = "fail"
	CallbackStandard = "standard"
)

var ErrCallbackURINotSet = errors.New("callback URI is not set on the transaction")

const merchantTokenHeader = "X-Merchant-Token"

// NotifyResult carries the merchant callback outcome back to the caller as
// data. A failed delivery never affects the committed transition.
type NotifyResult struct {
	URL    string          `json:"url,omitempty"`
	Status int             `json:"status,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Notifier delivers the post-transition merchant callback.
type Notifier interface {
	NotifyStatus(ctx context.Context, trx *models.Transaction, merchantToken string) *NotifyResult
}

// CallbackNotifier posts status callbacks to merchant endpoints over HTTP.
type CallbackNotifier struct {
	client *http.Client
}

func NewCallbackNotifier(timeout time.Duration) *CallbackNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CallbackNotifier{client: &http.Client{Timeout: timeout}}
}

// NotifyStatus posts {id, status} to the transaction's callback URI.
func (n *CallbackNotifier) NotifyStatus(ctx context.Context, trx *models.Transaction, merchantToken string) *NotifyResult {
	payload := map[string]string{
		"id":     trx.ID,
		"status": trx.Status,
	}
	return n.post(ctx, trx.CallbackURI, payload, merchantToken)
}

// Dispatch sends one of the three manual callback kinds.
func (n *CallbackNotifier) Dispatch(ctx context.Context, trx *models.Transaction, merchantToken, kind, statusOverride string) (*NotifyResult, error) {
	url, payload, err := callbackPayload(trx, kind, statusOverride)
	if err != nil {
		return nil, err
	}
	return n.post(ctx, url, payload, merchantToken), nil
}

func callbackPayload(trx *models.Transaction, kind, statusOverride string) (string, any, error) {
	switch kind {
	case CallbackSuccess:
		return trx.SuccessURI, terminalCallback(trx, "success"), uriRequired(trx.SuccessURI)
	case CallbackFail:
		return trx.FailURI, terminalCallback(trx, "failed"), uriRequired(trx.FailURI)
	case CallbackStandard:
		status := trx.Status
		if statusOverride != "" {
			status = statusOverride
		}
		return trx.CallbackURI, map[string]string{"id": trx.ID, "status": status}, uriRequired(trx.CallbackURI)
	default:
		return "", nil, fmt.Errorf("unknown callback type: %q", kind)
	}
}

type terminalCallbackPayload struct {
	TransactionID string          `json:"transactionId"`
	OrderID       string          `json:"orderId"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     string          `json:"timestamp"`
}

func terminalCallback(trx *models.Transaction, status string) terminalCallbackPayload {
	return terminalCallbackPayload{
		TransactionID: trx.ID,
		OrderID:       trx.OrderID,
		Status:        status,
		Amount:        trx.Amount,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

func uriRequired(uri string) error {
	if uri == "" {
		return ErrCallbackURINotSet
	}
	return nil
}

func (n *CallbackNotifier) post(ctx context.Context, url string, payload any, merchantToken string) *NotifyResult {
	result := &NotifyResult{URL: url}
	if url == "" {
		result.Error = ErrCallbackURINotSet.Error()
		observability.IncrementCallback("no_uri")
		return result
	}

	body, err := json.Marshal(payload)
	if err != nil {
		result.Error = fmt.Sprintf("encode payload: %v", err)
		observability.IncrementCallback("encode_error")
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Sprintf("build request: %v", err)
		observability.IncrementCallback("request_error")
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	if merchantToken != "" {
		req.Header.Set(merchantTokenHeader, merchantToken)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		result.Error = err.Error()
		observability.IncrementCallback("delivery_error")
		zap.L().Warn("merchant callback delivery failed", zap.String("url", url), zap.Error(err))
		return result
	}
	defer resp.Body.Close()

	result.Status = resp.StatusCode
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && json.Valid(respBody) {
		result.Body = respBody
	}
	observability.IncrementCallback("delivered")
	return result
}
