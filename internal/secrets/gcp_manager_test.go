package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/config"
)

type fakeAccessor struct {
	payloads map[string]string
	calls    int
}

func (f *fakeAccessor) Access(_ context.Context, name string) ([]byte, error) {
	f.calls++
	v, ok := f.payloads[name]
	if !ok {
		return nil, errors.New("NotFound")
	}
	return []byte(v), nil
}

func (f *fakeAccessor) Close() error { return nil }

func TestBuildSecretName(t *testing.T) {
	sm := newManager("proj", &fakeAccessor{})
	assert.Equal(t, "projects/proj/secrets/shopify-access-token", sm.BuildSecretName("shopify-access-token"))
	assert.Equal(t, "projects/proj/secrets/a-b-c", sm.BuildSecretName("a.b/c"))
}

func TestGetSecretValueCaches(t *testing.T) {
	accessor := &fakeAccessor{payloads: map[string]string{
		"projects/proj/secrets/flowtrac-pin": "1234\n",
	}}
	sm := newManager("proj", accessor)
	ctx := context.Background()

	v, err := sm.GetSecretValue(ctx, "flowtrac-pin")
	require.NoError(t, err)
	assert.Equal(t, "1234", v)

	_, err = sm.GetSecretValue(ctx, "flowtrac-pin")
	require.NoError(t, err)
	assert.Equal(t, 1, accessor.calls)

	sm.InvalidateCache("flowtrac-pin")
	_, err = sm.GetSecretValue(ctx, "flowtrac-pin")
	require.NoError(t, err)
	assert.Equal(t, 2, accessor.calls)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	sm := newManager("proj", &fakeAccessor{payloads: map[string]string{
		"projects/proj/secrets/token": "from-secret",
	}})

	t.Run("explicit value wins", func(t *testing.T) {
		v, err := sm.Resolve(ctx, "from-env", "token")
		require.NoError(t, err)
		assert.Equal(t, "from-env", v)
	})

	t.Run("falls back to secret", func(t *testing.T) {
		v, err := sm.Resolve(ctx, "", "token")
		require.NoError(t, err)
		assert.Equal(t, "from-secret", v)
	})

	t.Run("missing secret", func(t *testing.T) {
		_, err := sm.Resolve(ctx, "", "absent")
		assert.ErrorIs(t, err, ErrSecretUnavailable)
	})

	t.Run("nil manager", func(t *testing.T) {
		var none *GCPSecretManager
		v, err := none.Resolve(ctx, "x", "token")
		require.NoError(t, err)
		assert.Equal(t, "x", v)

		_, err = none.Resolve(ctx, "", "token")
		assert.ErrorIs(t, err, ErrSecretUnavailable)
	})
}

func TestChannelCredentials(t *testing.T) {
	ctx := context.Background()
	sm := newManager("proj", &fakeAccessor{payloads: map[string]string{
		"projects/proj/secrets/shopify-access-token": "shpat_1",
		"projects/proj/secrets/flowtrac-pin":         "9999",
	}})

	creds, err := ShopifyCredentials(ctx, sm, config.ShopifyConfig{
		StoreURL:          "acme",
		AccessTokenSecret: "shopify-access-token",
		LocationID:        "42",
	})
	require.NoError(t, err)
	assert.Equal(t, "acme", creds["store"])
	assert.Equal(t, "shpat_1", creds["access_token"])
	assert.Equal(t, "42", creds["location_id"])

	creds, err = ShopifyCredentials(ctx, sm, config.ShopifyConfig{StoreURL: "http://localhost:9000", AccessToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", creds["store_url"])

	creds, err = WarehouseCredentials(ctx, sm, config.WarehouseConfig{
		BaseURL:        "https://flowtrac.example.com/api",
		Username:       "badge",
		PasswordSecret: "flowtrac-pin",
	})
	require.NoError(t, err)
	assert.Equal(t, "9999", creds["pin"])
	assert.Equal(t, "badge", creds["badge"])

	_, err = ShipStationCredentials(ctx, sm, config.ShipStationConfig{APIKeySecret: "shipstation-api-key"})
	assert.ErrorIs(t, err, ErrSecretUnavailable)

	creds, err = AmazonCredentials(ctx, sm, config.AmazonConfig{
		ClientID:      "cid",
		ClientSecret:  "cs",
		RefreshToken:  "rt",
		SellerID:      "seller",
		MarketplaceID: "ATVPDKIKX0DER",
		Region:        "na",
	})
	require.NoError(t, err)
	assert.Equal(t, "rt", creds["refresh_token"])
}
