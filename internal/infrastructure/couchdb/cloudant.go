package couchdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/baechuer/sofauth/internal/config"
	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/util"
)

// CloudantProvider extends the plain provider with the hosting service's
// API-key endpoint, so session credentials are issued by the server instead
// of generated locally.
type CloudantProvider struct {
	*Provider
	httpClient *http.Client
	baseURL    string
}

func NewCloudantProvider(p *Provider, cfg *config.DBServer) *CloudantProvider {
	return &CloudantProvider{
		Provider:   p,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(util.GetDBURL(cfg), "/"),
	}
}

func (c *CloudantProvider) GenerateAPIKey(ctx context.Context) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/_api/v2/api_keys", nil)
	if err != nil {
		return "", "", domain.ErrInternal(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", domain.ErrDBUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", "", domain.ErrDBUnavailable(fmt.Errorf("api key endpoint returned %d", resp.StatusCode))
	}

	var out struct {
		OK       bool   `json:"ok"`
		Key      string `json:"key"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", domain.ErrDBUnavailable(err)
	}
	if !out.OK || out.Key == "" {
		return "", "", domain.ErrDBUnavailable(fmt.Errorf("api key endpoint refused the request"))
	}
	return out.Key, out.Password, nil
}
