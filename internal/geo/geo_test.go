package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/json/93.184.216.34":
			w.Write([]byte(`{"status":"success","country":"United States","countryCode":"US","as":"AS15133","lat":42.1,"query":"93.184.216.34"}`))
		case "/json/10.0.0.1":
			w.Write([]byte(`{"status":"fail","message":"private range","query":"10.0.0.1"}`))
		default:
			http.Error(w, "nope", http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/json/%s?fields=66846719")
	ctx := context.Background()

	info, err := c.Lookup(ctx, "93.184.216.34")
	require.NoError(t, err)
	assert.Equal(t, "US", info.CountryCode)
	assert.Equal(t, "AS15133", info.AS)
	assert.Equal(t, 42.1, info.Lat)

	_, err = c.Lookup(ctx, "93.184.216.34")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second lookup is served from cache")

	_, err = c.Lookup(ctx, "10.0.0.1")
	assert.ErrorContains(t, err, "private range")

	_, err = c.Lookup(ctx, "1.2.3.4")
	assert.ErrorContains(t, err, "429")
}
