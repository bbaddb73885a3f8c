package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cristianortiz/bidengine/internal/auction/application"
	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/cristianortiz/bidengine/internal/auction/infra/repository/memory"
	"github.com/cristianortiz/bidengine/internal/shared/auth"
	"github.com/cristianortiz/bidengine/internal/shared/httpserver"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(int64, []domain.Event)            {}
func (nopBroadcaster) Notify(int64, []domain.Notice)            {}
func (nopBroadcaster) PublishState(int64, domain.StateSnapshot) {}

type testAPI struct {
	app    *fiber.App
	issuer *auth.Issuer
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	engine := application.NewEngine(memory.NewStore(), nopBroadcaster{}, application.Options{})
	issuer := auth.NewIssuer("test-secret", time.Hour, time.Minute, auth.NewMemoryReplayGuard())
	srv := httpserver.NewServer(httpserver.Options{})
	NewAuctionHandler(engine, issuer).RegisterRoutes(srv.App())
	return &testAPI{app: srv.App(), issuer: issuer}
}

type response struct {
	status int
	body   map[string]any
	raw    string
}

func (a *testAPI) do(t *testing.T, method, path string, userID int64, body any, headers ...string) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		role := auth.RoleUser
		if userID == 100 {
			role = auth.RoleAdmin
		}
		token, _, err := a.issuer.IssueSession(userID, role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := response{status: resp.StatusCode, raw: string(raw)}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out.body))
	}
	return out
}

func (r response) errorCode() string {
	e, _ := r.body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func (r response) data() map[string]any {
	d, _ := r.body["data"].(map[string]any)
	return d
}

// openAuction creates and activates an auction owned by user 1.
func (a *testAPI) openAuction(t *testing.T, extra map[string]any) {
	t.Helper()
	now := time.Now().UTC()
	body := map[string]any{
		"listing_id":             7,
		"allowed_min_bid":        10000,
		"min_increment":          500,
		"start_at":               now.Add(-time.Minute),
		"end_at":                 now.Add(time.Hour),
		"soft_close_trigger_sec": 0,
		"soft_close_extend_sec":  0,
	}
	for k, v := range extra {
		body[k] = v
	}
	res := a.do(t, "POST", "/api/v1/auctions", 1, body)
	require.Equal(t, http.StatusCreated, res.status, res.raw)
	assert.Equal(t, "draft", res.data()["status_code"])

	res = a.do(t, "POST", "/api/v1/auctions/1/activate", 1, nil)
	require.Equal(t, http.StatusOK, res.status, res.raw)
}

func TestPlaceBidResponses(t *testing.T) {
	api := newTestAPI(t)
	api.openAuction(t, nil)

	res := api.do(t, "POST", "/api/v1/auctions/1/bids", 2, map[string]any{"amount": 10000, "client_seq": 1})
	require.Equal(t, http.StatusOK, res.status, res.raw)
	assert.Equal(t, true, res.body["accepted"])
	assert.Equal(t, float64(1), res.body["event_id"])
	assert.NotEmpty(t, res.body["server_time"])
	assert.Equal(t, map[string]any{"extended": false}, res.body["soft_close"])

	res = api.do(t, "POST", "/api/v1/auctions/1/bids", 3, map[string]any{"amount": 100, "client_seq": 1})
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, false, res.body["accepted"])
	assert.Equal(t, domain.RejectAmountOutOfRange, res.body["reject_reason"])
	assert.Equal(t, float64(2), res.body["event_id"])
	assert.NotContains(t, res.body, "soft_close")

	res = api.do(t, "POST", "/api/v1/auctions/1/bids", 1, map[string]any{"amount": 20000, "client_seq": 1})
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, domain.RejectSellerCannotBid, res.body["reject_reason"])

	tests := []struct {
		name     string
		userID   int64
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"zero amount", 2, "/api/v1/auctions/1/bids", map[string]any{"amount": 0, "client_seq": 2}, 400, "validation_error"},
		{"missing client_seq", 2, "/api/v1/auctions/1/bids", map[string]any{"amount": 12000}, 400, "validation_error"},
		{"fractional amount", 2, "/api/v1/auctions/1/bids", map[string]any{"amount": 100.5, "client_seq": 2}, 400, "validation_error"},
		{"no session", 0, "/api/v1/auctions/1/bids", map[string]any{"amount": 12000, "client_seq": 2}, 401, "unauthorized"},
		{"unknown auction", 2, "/api/v1/auctions/9/bids", map[string]any{"amount": 12000, "client_seq": 2}, 404, "not_found"},
		{"bad id", 2, "/api/v1/auctions/abc/bids", map[string]any{"amount": 12000, "client_seq": 2}, 400, "validation_error"},
		{"reused seq", 2, "/api/v1/auctions/1/bids", map[string]any{"amount": 12000, "client_seq": 1}, 409, "idempotency_conflict"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := api.do(t, "POST", tt.path, tt.userID, tt.body)
			assert.Equal(t, tt.wantCode, res.status, res.raw)
			assert.Equal(t, tt.wantErr, res.errorCode())
		})
	}
}

func TestLifecycleAuthorization(t *testing.T) {
	api := newTestAPI(t)
	res := api.do(t, "POST", "/api/v1/auctions", 1, map[string]any{"listing_id": 7, "allowed_min_bid": 0})
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "validation_error", res.errorCode())

	api.openAuction(t, nil)

	res = api.do(t, "POST", "/api/v1/auctions/1/close", 2, nil)
	assert.Equal(t, http.StatusForbidden, res.status)
	assert.Equal(t, "forbidden", res.errorCode())

	res = api.do(t, "POST", "/api/v1/auctions/1/activate", 1, nil)
	assert.Equal(t, http.StatusConflict, res.status)
	assert.Equal(t, "invalid_state", res.errorCode())

	res = api.do(t, "POST", "/api/v1/auctions/1/cancel", 100, nil)
	require.Equal(t, http.StatusOK, res.status, res.raw)
	auction := res.data()["auction"].(map[string]any)
	assert.Equal(t, "cancelled", auction["status_code"])

	res = api.do(t, "POST", "/api/v1/auctions/1/bids", 2, map[string]any{"amount": 10000, "client_seq": 1})
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, domain.RejectAuctionNotActive, res.body["reject_reason"])
}

func TestBuyNowIdempotency(t *testing.T) {
	api := newTestAPI(t)
	api.openAuction(t, map[string]any{"buy_it_now": 50000})

	res := api.do(t, "POST", "/api/v1/auctions/1/buy-now", 2, map[string]any{"client_seq": 1})
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "validation_error", res.errorCode())

	first := api.do(t, "POST", "/api/v1/auctions/1/buy-now", 2, map[string]any{"client_seq": 1}, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, first.status, first.raw)
	assert.Equal(t, true, first.body["accepted"])
	assert.Equal(t, float64(50000), first.body["amount"])
	assert.Equal(t, "ended", first.body["status"])

	again := api.do(t, "POST", "/api/v1/auctions/1/buy-now", 2, map[string]any{"client_seq": 1}, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, again.status)
	assert.Equal(t, first.raw, again.raw)

	res = api.do(t, "POST", "/api/v1/auctions/1/buy-now", 2, map[string]any{"client_seq": 2}, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusConflict, res.status)
	assert.Equal(t, "idempotency_conflict", res.errorCode())

	res = api.do(t, "POST", "/api/v1/auctions/1/buy-now", 3, map[string]any{"client_seq": 1}, "Idempotency-Key", "k-2")
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, false, res.body["accepted"])
	assert.Equal(t, domain.RejectBuyItNowUnavailable, res.body["reject_reason"])

	res = api.do(t, "POST", "/api/v1/auctions/1/close", 1, nil)
	assert.Equal(t, http.StatusConflict, res.status)
	assert.Equal(t, "invalid_state", res.errorCode())
}

func TestQueries(t *testing.T) {
	api := newTestAPI(t)
	api.openAuction(t, map[string]any{"reserve_price": 10400})
	api.do(t, "POST", "/api/v1/auctions/1/bids", 2, map[string]any{"amount": 10000, "client_seq": 1})
	api.do(t, "POST", "/api/v1/auctions/1/bids", 3, map[string]any{"amount": 10500, "client_seq": 1})

	res := api.do(t, "GET", "/api/v1/auctions/1", 0, nil)
	require.Equal(t, http.StatusOK, res.status)
	auction := res.data()["auction"].(map[string]any)
	assert.Equal(t, float64(10500), auction["current_price"])
	assert.Equal(t, float64(3), auction["highest_bidder_id"])
	assert.Equal(t, "user_3", auction["highest_bidder"])
	assert.NotContains(t, auction, "reserve_price")

	res = api.do(t, "GET", "/api/v1/auctions/1", 1, nil)
	assert.Equal(t, float64(10400), res.data()["auction"].(map[string]any)["reserve_price"])

	res = api.do(t, "GET", "/api/v1/auctions/2", 0, nil)
	assert.Equal(t, http.StatusNotFound, res.status)

	res = api.do(t, "GET", "/api/v1/auctions?limit=1", 0, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Len(t, res.body["items"], 1)
	assert.Equal(t, "", res.body["next_page_token"])

	res = api.do(t, "GET", "/api/v1/auctions?status=sold", 0, nil)
	assert.Equal(t, http.StatusBadRequest, res.status)

	res = api.do(t, "GET", "/api/v1/auctions/1/my-bids", 2, nil)
	require.Equal(t, http.StatusOK, res.status)
	bids := res.body["data"].([]any)
	require.Len(t, bids, 1)
	assert.Equal(t, false, bids[0].(map[string]any)["is_winning"])

	res = api.do(t, "GET", "/api/v1/auctions/1/my-bids", 3, nil)
	assert.Equal(t, true, res.body["data"].([]any)[0].(map[string]any)["is_winning"])

	res = api.do(t, "GET", "/api/v1/auctions/1/my-bids", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)

	res = api.do(t, "GET", "/api/v1/auctions/1/results", 0, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, float64(2), res.data()["total_participants"])
	top := res.data()["top_bidders"].([]any)
	require.Len(t, top, 2)
	assert.Equal(t, "user_3", top[0].(map[string]any)["alias"])

	res = api.do(t, "GET", "/api/v1/auctions/stats", 0, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, res.raw, `"avg_bid_amount":10250.00`)
	assert.Equal(t, float64(2), res.data()["total_bids"])
}

func TestWSToken(t *testing.T) {
	api := newTestAPI(t)

	res := api.do(t, "GET", "/api/v1/auth/ws-token", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)

	res = api.do(t, "GET", "/api/v1/auth/ws-token", 5, nil)
	require.Equal(t, http.StatusOK, res.status)
	token, _ := res.data()["token"].(string)
	require.NotEmpty(t, token)
	assert.NotEmpty(t, res.data()["expires_at"])

	p, err := api.issuer.RedeemWSToken(t.Context(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.UserID)
}
