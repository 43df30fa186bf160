package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/user/threatmap/internal/domain"
)

// IPAPIClient looks up one IP per request against an ip-api.com style JSON
// endpoint.
type IPAPIClient struct {
	baseURL string
	client  *http.Client
}

// NewIPAPIClient creates a client for the given base URL
// (e.g. http://ip-api.com/json).
func NewIPAPIClient(baseURL string, timeout time.Duration) *IPAPIClient {
	return &IPAPIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type ipapiResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Query   string  `json:"query"`
}

// Lookup resolves a single IP. A "fail" status from the provider is reported
// as ErrUnresolvable so callers know retrying will not help.
func (c *IPAPIClient) Lookup(ctx context.Context, ip string) (domain.GeoLocation, error) {
	u := fmt.Sprintf("%s/%s?fields=status,message,country,lat,lon,query", c.baseURL, url.PathEscape(ip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.GeoLocation{}, fmt.Errorf("failed to build geolocation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.GeoLocation{}, fmt.Errorf("geolocation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.GeoLocation{}, fmt.Errorf("geolocation service returned status %d", resp.StatusCode)
	}

	var body ipapiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.GeoLocation{}, fmt.Errorf("failed to decode geolocation response: %w", err)
	}

	if body.Status != "success" {
		return domain.GeoLocation{}, fmt.Errorf("%w: %s", domain.ErrUnresolvable, body.Message)
	}

	return domain.GeoLocation{
		IP:         ip,
		Country:    body.Country,
		Latitude:   body.Lat,
		Longitude:  body.Lon,
		ResolvedAt: time.Now().UTC(),
	}, nil
}
