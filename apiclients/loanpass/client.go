// Package loanpass is a client for the LoanPASS pricing engine execute endpoints, and
// the mapping of its nested product and scenario payloads.
package loanpass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lendz/syncer/apiclients/rest"
	"github.com/lendz/syncer/internal/logging"
)

// BaseURL is the production API root.
const BaseURL = "https://api.loanpass.io/v1"

// PricingRequest is the fixed request template posted to the execute endpoints.
type PricingRequest struct {
	PricingProfileID        string            `json:"pricingProfileId"`
	CreditApplicationFields []json.RawMessage `json:"creditApplicationFields"`
	CurrentTime             string            `json:"currentTime"`
	ProductID               string            `json:"productId,omitempty"`
}

// APIClient is a wrapper for making authenticated calls to the LoanPASS API. The
// provided http.Client is expected to add the bearer token.
type APIClient struct {
	rest             *rest.Client
	pricingProfileID string
	now              func() time.Time
	log              *slog.Logger
}

// NewAPIClient creates a new LoanPASS API client. An empty baseURL selects BaseURL.
func NewAPIClient(baseURL, pricingProfileID string, httpClient *http.Client, logger *slog.Logger) *APIClient {
	if baseURL == "" {
		baseURL = BaseURL
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &APIClient{
		rest:             rest.NewClient(baseURL, httpClient, logger),
		pricingProfileID: pricingProfileID,
		now:              time.Now,
		log:              logger,
	}
}

// request builds the request template for the current time.
func (c *APIClient) request(productID string) PricingRequest {
	return PricingRequest{
		PricingProfileID:        c.pricingProfileID,
		CreditApplicationFields: []json.RawMessage{},
		CurrentTime:             c.now().UTC().Format(time.RFC3339),
		ProductID:               productID,
	}
}

// ExecuteSummary lists the products available under the pricing profile.
func (c *APIClient) ExecuteSummary(ctx context.Context) (*Summary, error) {
	req, err := c.rest.NewRequest(ctx, http.MethodPost, "/execute-summary", nil, c.request(""))
	if err != nil {
		return nil, err
	}

	var summary Summary
	body, err := rest.Do(c.rest, req, &summary)
	if err != nil {
		c.log.Error(fmt.Sprintf("ExecuteSummary: %v", err))
		return nil, err
	}
	summary.Body = body
	c.log.Info(fmt.Sprintf("ExecuteSummary: retrieved %d products", len(summary.ProductResults)))
	return &summary, nil
}

// ExecuteProduct prices a single product. The returned result carries the raw body
// for archiving, the mapped product, and any fields or scenarios which were skipped.
func (c *APIClient) ExecuteProduct(ctx context.Context, productID string) (*ProductResult, error) {
	if productID == "" {
		return nil, errors.New("empty product id")
	}
	req, err := c.rest.NewRequest(ctx, http.MethodPost, "/execute-product", nil, c.request(productID))
	if err != nil {
		return nil, err
	}

	body, err := rest.Do[Product](c.rest, req, nil)
	if err != nil {
		c.log.Error(fmt.Sprintf("ExecuteProduct: product %s: %v", productID, err))
		return nil, err
	}

	product, skipped, err := DecodeProduct(body)
	if err != nil {
		return nil, &rest.FetchError{
			Kind: rest.KindDecode,
			Err:  fmt.Errorf("product %s (%d bytes): %w", productID, len(body), err),
		}
	}
	return &ProductResult{
		Product: product,
		Skipped: skipped,
		Body:    body,
	}, nil
}
