/**
 * @description
 * This package provides a client for the Safaricom Daraja (M-Pesa) API. It
 * encapsulates OAuth token acquisition and caching, STK push initiation, and
 * C2B callback URL registration.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, sync, time: Standard Go libraries.
 */
package darajaclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const timestampLayout = "20060102150405"

// Client is a client for the Daraja API.
type Client struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	HTTPClient     *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a new Daraja API client. callbackURL is the public base
// the provider posts STK results to.
func NewClient(baseURL, consumerKey, consumerSecret, shortCode, passkey, callbackURL string) *Client {
	return &Client{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		ShortCode:      shortCode,
		Passkey:        passkey,
		CallbackURL:    callbackURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// StkPushResponse is the expected response from the STK push endpoint.
type StkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// ErrorResponse represents an error from the Daraja API.
type ErrorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorCode != "" || e.ErrorMessage != "" {
		return fmt.Sprintf("daraja api error: %s - %s", e.ErrorCode, e.ErrorMessage)
	}
	return "unknown daraja api error"
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// accessToken returns a cached OAuth token, refreshing it when stale.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	url := fmt.Sprintf("%s/oauth/v1/generate?grant_type=client_credentials", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ConsumerKey, c.ConsumerSecret)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request daraja token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.decodeError(resp)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decode daraja token: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("daraja token response missing access_token")
	}

	// Daraja tokens last 3600s; refresh a minute early.
	c.token = token.AccessToken
	c.tokenExpiry = time.Now().Add(59 * time.Minute)
	return c.token, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// InitiateStkPush prompts the payer's phone for the given amount. The amount
// is supplied in cents and sent to Daraja in whole shillings.
func (c *Client) InitiateStkPush(ctx context.Context, phone string, amountCents int64, accountReference, description string) (*StkPushResponse, error) {
	timestamp := time.Now().Format(timestampLayout)
	password := base64.StdEncoding.EncodeToString([]byte(c.ShortCode + c.Passkey + timestamp))

	amount := amountCents / 100
	if amount < 1 {
		amount = 1
	}

	payload := stkPushRequest{
		BusinessShortCode: c.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.CallbackURL + "/payments/stk-callback",
		AccountReference:  accountReference,
		TransactionDesc:   description,
	}

	var response StkPushResponse
	if err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", payload, &response); err != nil {
		return nil, err
	}
	if response.ResponseCode != "0" {
		return nil, &ErrorResponse{ErrorCode: response.ResponseCode, ErrorMessage: response.ResponseDescription}
	}
	return &response, nil
}

type registerURLRequest struct {
	ShortCode       string `json:"ShortCode"`
	ResponseType    string `json:"ResponseType"`
	ConfirmationURL string `json:"ConfirmationURL"`
	ValidationURL   string `json:"ValidationURL"`
}

// RegisterC2BURLs registers the confirmation and validation callback URLs
// for the paybill. Safe to call repeatedly; Daraja treats it as an upsert.
func (c *Client) RegisterC2BURLs(ctx context.Context) error {
	payload := registerURLRequest{
		ShortCode:       c.ShortCode,
		ResponseType:    "Completed",
		ConfirmationURL: c.CallbackURL + "/payments/confirmation",
		ValidationURL:   c.CallbackURL + "/payments/validation",
	}
	return c.post(ctx, "/mpesa/c2b/v1/registerurl", payload, &struct{}{})
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("daraja request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var apiErr ErrorResponse
	if err := json.Unmarshal(raw, &apiErr); err == nil && (apiErr.ErrorCode != "" || apiErr.ErrorMessage != "") {
		return &apiErr
	}
	return fmt.Errorf("daraja api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}
