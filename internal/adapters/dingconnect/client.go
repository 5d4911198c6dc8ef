package dingconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/airtimehq/topup-core/internal/domain/ports"
)

const (
	defaultBaseURL = "https://api.dingconnect.com/api/V1"
	providerName   = "dingconnect"
)

// Config carries the vendor credentials and transport limits
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the DingConnect fulfillment adapter. It implements
// ports.TopupProvider; all auth and response parsing stays here so the core
// only sees transfer verdicts.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  ports.Logger
}

func NewClient(cfg Config, logger ports.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

var _ ports.TopupProvider = (*Client)(nil)

func (c *Client) Name() string { return providerName }

// Retryable is true: DingConnect deduplicates on the distributor reference,
// so re-dispatching a claimed retry with a fresh reference is safe.
func (c *Client) Retryable() bool { return true }

type sendTransferRequest struct {
	SkuCode           string  `json:"SkuCode"`
	AccountNumber     string  `json:"AccountNumber"`
	DistributorRef    string  `json:"DistributorRef"`
	SendValue         *string `json:"SendValue,omitempty"`
	ValidateOnly      bool    `json:"ValidateOnly"`
	SendCurrencyIso   string  `json:"SendCurrencyIso,omitempty"`
	BillRefNumber     string  `json:"BillRefNumber,omitempty"`
	AccountCountryIso string  `json:"AccountCountryIso,omitempty"`
}

type sendTransferResponse struct {
	ResultCode int `json:"ResultCode"`
	ErrorCodes []struct {
		Code string `json:"Code"`
	} `json:"ErrorCodes"`
	TransferRecord struct {
		TransferID struct {
			TransferRef string `json:"TransferRef"`
		} `json:"TransferId"`
		ProcessingState string `json:"ProcessingState"`
	} `json:"TransferRecord"`
}

func (c *Client) SendTransfer(ctx context.Context, req ports.TransferRequest) (*ports.TransferResult, error) {
	body := sendTransferRequest{
		SkuCode:           req.ProductID,
		AccountNumber:     req.PhoneNumber,
		DistributorRef:    req.IdempotencyRef,
		AccountCountryIso: req.Country,
	}
	if req.SendAmount != nil {
		v := req.SendAmount.String()
		body.SendValue = &v
	}

	var resp sendTransferResponse
	if err := c.post(ctx, "/SendTransfer", body, &resp); err != nil {
		return nil, err
	}

	result := &ports.TransferResult{
		ProviderTransactionID: resp.TransferRecord.TransferID.TransferRef,
	}
	switch resp.TransferRecord.ProcessingState {
	case "Complete":
		result.Status = ports.TransferCompleted
	case "Submitted", "InProgress":
		result.Status = ports.TransferProcessing
	default:
		result.Status = ports.TransferFailed
		if len(resp.ErrorCodes) > 0 {
			result.ErrorCode = resp.ErrorCodes[0].Code
			result.ErrorMessage = fmt.Sprintf("provider rejected transfer: %s", resp.ErrorCodes[0].Code)
		} else {
			result.ErrorMessage = fmt.Sprintf("provider returned state %q", resp.TransferRecord.ProcessingState)
		}
	}
	return result, nil
}

type estimatePricesRequest struct {
	SkuCode   string `json:"SkuCode"`
	SendValue string `json:"SendValue"`
}

type estimatePricesResponse struct {
	Items []struct {
		Price struct {
			DistributorFee string `json:"DistributorFee"`
			CustomerFee    string `json:"CustomerFee"`
			SendValue      string `json:"SendValue"`
		} `json:"Price"`
	} `json:"Items"`
}

// EstimateCost asks the vendor for the wholesale send cost of a variable
// value product
func (c *Client) EstimateCost(ctx context.Context, productID string, sendAmount decimal.Decimal) (decimal.Decimal, error) {
	var resp estimatePricesResponse
	err := c.post(ctx, "/GetEstimatedPrices", estimatePricesRequest{
		SkuCode:   productID,
		SendValue: sendAmount.String(),
	}, &resp)
	if err != nil {
		return decimal.Zero, err
	}
	if len(resp.Items) == 0 {
		return decimal.Zero, fmt.Errorf("provider returned no price estimate for sku %s", productID)
	}
	cost, err := decimal.NewFromString(resp.Items[0].Price.SendValue)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse estimated price: %w", err)
	}
	return cost, nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api_key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call provider %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
