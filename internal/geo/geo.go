package geo

import (
	"FlowSentry/internal/logger"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// IPInfo is the geolocation record returned by ip-api.
type IPInfo struct {
	Status        string  `json:"status"`
	Message       string  `json:"message,omitempty"`
	Continent     string  `json:"continent"`
	ContinentCode string  `json:"continentCode"`
	Country       string  `json:"country"`
	CountryCode   string  `json:"countryCode"`
	Region        string  `json:"region"`
	RegionName    string  `json:"regionName"`
	City          string  `json:"city"`
	District      string  `json:"district"`
	Zip           string  `json:"zip"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	Timezone      string  `json:"timezone"`
	Offset        int64   `json:"offset"`
	Currency      string  `json:"currency"`
	ISP           string  `json:"isp"`
	Org           string  `json:"org"`
	AS            string  `json:"as"`
	ASName        string  `json:"asname"`
	Reverse       string  `json:"reverse"`
	Mobile        bool    `json:"mobile"`
	Proxy         bool    `json:"proxy"`
	Hosting       bool    `json:"hosting"`
	Query         string  `json:"query"`
}

const (
	cacheSize = 4096
	cacheTTL  = time.Hour
)

// Client looks up IP geolocation through an ip-api compatible endpoint and
// caches successful answers.
type Client struct {
	urlFormat string
	http      *http.Client
	cache     *expirable.LRU[string, IPInfo]
}

// NewClient creates a client. urlFormat holds one %s for the address.
func NewClient(urlFormat string) *Client {
	return &Client{
		urlFormat: urlFormat,
		http:      &http.Client{Timeout: 5 * time.Second},
		cache:     expirable.NewLRU[string, IPInfo](cacheSize, nil, cacheTTL),
	}
}

// Lookup returns the geolocation of ip.
func (c *Client) Lookup(ctx context.Context, ip string) (IPInfo, error) {
	if info, ok := c.cache.Get(ip); ok {
		return info, nil
	}

	url := fmt.Sprintf(c.urlFormat, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return IPInfo{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return IPInfo{}, fmt.Errorf("geo lookup %s: %w", ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return IPInfo{}, fmt.Errorf("geo lookup %s: unexpected status %s", ip, resp.Status)
	}
	var info IPInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return IPInfo{}, fmt.Errorf("geo lookup %s: %w", ip, err)
	}
	if info.Status == "fail" {
		return info, fmt.Errorf("geo lookup %s: %s", ip, info.Message)
	}

	c.cache.Add(ip, info)
	logger.Debug("Geo lookup", "ip", ip, "country", info.CountryCode)
	return info, nil
}
