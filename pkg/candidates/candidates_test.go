package candidates

import (
	"testing"

	"github.com/speedrun-hq/paywatch/pkg/jsonvalue"
	"github.com/speedrun-hq/paywatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const origin = "https://api.shop.test"

func mustParse(t *testing.T, raw string) jsonvalue.Value {
	t.Helper()
	v, err := jsonvalue.Parse([]byte(raw))
	require.NoError(t, err)
	return v
}

func urls(list []models.StatusCandidate) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.URL)
	}
	return out
}

func TestBuildTemplatesOnly(t *testing.T) {
	body := mustParse(t, `{"success":true,"amountToPay":50,"payments":[{"upiId":"a@b"}]}`)

	got := Build(body, "ord-42", origin, DefaultTemplates)

	require.Len(t, got, len(DefaultTemplates))
	assert.Equal(t, "https://api.shop.test/api/payments/ord-42/status", got[0].URL)
	for _, c := range got {
		assert.Equal(t, models.SourceTemplate, c.Source)
	}
}

func TestBuildDiscoveredFirst(t *testing.T) {
	body := mustParse(t, `{
		"data": {
			"statusUrl": "/api/payments/abc/verify",
			"links": ["https://pay.gateway.test/txn/abc", "not a url"],
			"qr": "data:image/png;base64,iVBORw0KGgo="
		}
	}`)

	got := Build(body, "abc", origin, []string{"/api/payments/{id}/status"})

	assert.Equal(t, []string{
		"https://api.shop.test/api/payments/abc/verify",
		"https://pay.gateway.test/txn/abc",
		"https://api.shop.test/api/payments/abc/status",
	}, urls(got))
	assert.Equal(t, models.SourceDiscovered, got[0].Source)
	assert.Equal(t, models.SourceDiscovered, got[1].Source)
	assert.Equal(t, models.SourceTemplate, got[2].Source)
}

func TestBuildIsDeterministic(t *testing.T) {
	raw := `{"z":"/api/z","a":"/api/a","m":{"k":"http://x.test/m"}}`
	first := Build(mustParse(t, raw), "1", origin, DefaultTemplates)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Build(mustParse(t, raw), "1", origin, DefaultTemplates))
	}
	assert.Equal(t, "https://api.shop.test/api/z", first[0].URL)
}

func TestBuildDeduplicates(t *testing.T) {
	body := mustParse(t, `{"statusUrl":"/api/payments/7/status","again":"https://api.shop.test/api/payments/7/status"}`)

	got := Build(body, "7", origin, []string{"/api/payments/{id}/status", "/api/orders/{id}"})

	assert.Equal(t, []string{
		"https://api.shop.test/api/payments/7/status",
		"https://api.shop.test/api/orders/7",
	}, urls(got))
}

func TestBuildEscapesID(t *testing.T) {
	got := Build(jsonvalue.Value{}, "a/b c", origin, []string{"/api/orders/{id}"})
	require.Len(t, got, 1)
	assert.Equal(t, "https://api.shop.test/api/orders/a%2Fb%20c", got[0].URL)
}

func TestBuildWithoutIDSkipsTemplates(t *testing.T) {
	body := mustParse(t, `{"check":"v2/api/status/9"}`)

	got := Build(body, "", origin+"/", DefaultTemplates)

	assert.Equal(t, []string{"https://api.shop.test/v2/api/status/9"}, urls(got))
}

func TestDiscover(t *testing.T) {
	body := mustParse(t, `{"a":"hello","b":" https://x.test/q ","c":{"d":"/api/e"},"n":5}`)
	assert.Equal(t, []string{"https://x.test/q", "/api/e"}, Discover(body))
}

func TestBuildKeepsOriginPathPrefix(t *testing.T) {
	body := mustParse(t, `{"statusUrl":"/backend/api/pay/check/1","relative":"/api/pay/verify/1?src=qr"}`)

	got := Build(body, "o1", "https://shop.test/backend", []string{"/api/payments/{id}/status", "/api/orders/{id}"})

	assert.Equal(t, []string{
		"https://shop.test/backend/api/pay/check/1",
		"https://shop.test/backend/api/pay/verify/1?src=qr",
		"https://shop.test/backend/api/payments/o1/status",
		"https://shop.test/backend/api/orders/o1",
	}, urls(got))
}

func TestBuildKeepsEscapingUnderPrefix(t *testing.T) {
	got := Build(jsonvalue.Value{}, "a/b", "https://shop.test/backend/", []string{"/api/orders/{id}"})
	require.Len(t, got, 1)
	assert.Equal(t, "https://shop.test/backend/api/orders/a%2Fb", got[0].URL)
}

func TestBuildMarksSameOrigin(t *testing.T) {
	body := mustParse(t, `{"gateway":"https://pay.gateway.test/txn/abc","own":"https://API.shop.test/api/x"}`)

	got := Build(body, "abc", origin, []string{"/api/orders/{id}"})

	require.Len(t, got, 3)
	assert.False(t, got[0].SameOrigin, "third-party host")
	assert.True(t, got[1].SameOrigin)
	assert.True(t, got[2].SameOrigin)
}
