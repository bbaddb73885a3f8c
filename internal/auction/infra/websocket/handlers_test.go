package websocket

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/cristianortiz/bidengine/internal/auction/application"
	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/cristianortiz/bidengine/internal/auction/infra/repository/memory"
	"github.com/cristianortiz/bidengine/internal/shared/auth"
	"github.com/cristianortiz/bidengine/internal/shared/websocket"
	wsclient "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	EventID    int64           `json:"event_id"`
	ServerTime time.Time       `json:"server_time"`
}

type testServer struct {
	engine *application.Engine
	issuer *auth.Issuer
	url    string
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	hub := websocket.NewHub(32)
	engine := application.NewEngine(memory.NewStore(), NewHubBroadcaster(hub), application.Options{})
	issuer := auth.NewIssuer("test-secret", time.Hour, time.Minute, auth.NewMemoryReplayGuard())

	handler := NewAuctionWSHandler(engine, hub)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.RegisterRoutes(ctx, app, issuer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	go hub.Run(ctx)
	go handler.ListenForMessages(ctx)

	t.Cleanup(func() {
		cancel()
		_ = app.Shutdown()
	})
	return &testServer{engine: engine, issuer: issuer, url: "ws://" + ln.Addr().String()}
}

func (s *testServer) openAuction(t *testing.T) int64 {
	t.Helper()
	ctx := context.Background()
	seller := domain.Actor{UserID: 1}
	zero := 0
	now := time.Now().UTC()
	a, err := s.engine.CreateAuction(ctx, seller, application.CreateAuctionCommand{
		ListingID:           7,
		AllowedMinBid:       10000,
		MinIncrement:        500,
		StartAt:             now.Add(-time.Minute),
		EndAt:               now.Add(time.Hour),
		SoftCloseTriggerSec: &zero,
		SoftCloseExtendSec:  &zero,
	})
	require.NoError(t, err)
	_, err = s.engine.ActivateAuction(ctx, seller, a.ID)
	require.NoError(t, err)
	return a.ID
}

func (s *testServer) dial(t *testing.T, path string, userID int64) (*wsclient.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if userID > 0 {
		token, _, err := s.issuer.IssueSession(userID, auth.RoleUser)
		require.NoError(t, err)
		header.Set("Authorization", "Bearer "+token)
	}
	return wsclient.DefaultDialer.Dial(s.url+path, header)
}

func readFrame(t *testing.T, conn *wsclient.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func bid(t *testing.T, s *testServer, auctionID, bidderID, amount int64) {
	t.Helper()
	out, err := s.engine.PlaceBid(context.Background(), auctionID, domain.BidSubmission{
		BidderID:  bidderID,
		Amount:    amount,
		ClientSeq: 1,
	})
	require.NoError(t, err)
	require.True(t, out.Accepted)
}

func TestStreamDeliversEventsInOrder(t *testing.T) {
	s := startServer(t)
	id := s.openAuction(t)

	conn, _, err := s.dial(t, "/ws/auctions/1", 2)
	require.NoError(t, err)
	defer conn.Close()

	hello := readFrame(t, conn)
	assert.Equal(t, "hello", hello.Type)
	assert.Zero(t, hello.EventID)
	var hp HelloPayload
	require.NoError(t, json.Unmarshal(hello.Data, &hp))
	assert.Equal(t, id, hp.AuctionID)
	assert.NotEmpty(t, hp.SessionID)

	state := readFrame(t, conn)
	assert.Equal(t, "state", state.Type)
	var snap domain.StateSnapshot
	require.NoError(t, json.Unmarshal(state.Data, &snap))
	assert.Equal(t, domain.StatusActive, snap.Status)
	assert.Equal(t, int64(10000), snap.CurrentPrice)

	bid(t, s, id, 2, 10000)
	bid(t, s, id, 3, 10500)

	var got []string
	var ids []int64
	for i := 0; i < 5; i++ {
		f := readFrame(t, conn)
		got = append(got, f.Type)
		ids = append(ids, f.EventID)
	}
	assert.Equal(t, []string{"bid_accepted", "price_changed", "bid_accepted", "price_changed", "outbid"}, got)
	assert.Equal(t, []int64{1, 2, 3, 4, 0}, ids)
}

func TestOutbidGoesOnlyToTheBidder(t *testing.T) {
	s := startServer(t)
	id := s.openAuction(t)

	watcher, _, err := s.dial(t, "/ws/auctions/1", 9)
	require.NoError(t, err)
	defer watcher.Close()
	readFrame(t, watcher)
	readFrame(t, watcher)

	bid(t, s, id, 2, 10000)
	bid(t, s, id, 3, 10500)
	_, err = s.engine.CloseAuction(context.Background(), domain.Actor{UserID: 1}, id)
	require.NoError(t, err)

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, readFrame(t, watcher).Type)
	}
	assert.Equal(t, []string{"bid_accepted", "price_changed", "bid_accepted", "price_changed", "closed", "leaderboard"}, got)
}

func TestResumeAndControlMessages(t *testing.T) {
	s := startServer(t)
	id := s.openAuction(t)
	bid(t, s, id, 2, 10000)
	bid(t, s, id, 3, 10500)

	conn, _, err := s.dial(t, "/ws/auctions/1", 4)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "resume", "last_event_id": 2}))
	res := readFrame(t, conn)
	require.Equal(t, "resume_ok", res.Type)
	var rp struct {
		State     domain.StateSnapshot `json:"state"`
		Events    []frame              `json:"events"`
		Truncated bool                 `json:"truncated"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &rp))
	assert.False(t, rp.Truncated)
	assert.Equal(t, int64(4), rp.State.LastEventID)
	require.Len(t, rp.Events, 2)
	assert.Equal(t, int64(3), rp.Events[0].EventID)
	assert.Equal(t, "bid_accepted", rp.Events[0].Type)
	assert.Equal(t, int64(4), rp.Events[1].EventID)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "resume", "last_event_id": -1}))
	assert.Equal(t, "error", readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "state"}))
	assert.Equal(t, "state", readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bid"}))
	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Type)
	var ep ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &ep))
	assert.Equal(t, "validation_error", ep.Code)
}

func TestHandshakeRejections(t *testing.T) {
	s := startServer(t)
	s.openAuction(t)

	_, resp, err := s.dial(t, "/ws/auctions/1", 0)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = s.dial(t, "/ws/auctions/99", 2)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	p := auth.Principal{UserID: 2, Role: auth.RoleUser}
	token, _, err := s.issuer.IssueWSToken(p)
	require.NoError(t, err)
	conn, _, err := wsclient.DefaultDialer.Dial(s.url+"/ws/auctions/1?token="+token, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", readFrame(t, conn).Type)
	conn.Close()

	// ws tokens are single use
	_, resp, err = wsclient.DefaultDialer.Dial(s.url+"/ws/auctions/1?token="+token, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHubBroadcasterEncoding(t *testing.T) {
	hub := websocket.NewHub(8)
	b := NewHubBroadcaster(hub)
	bidder := hub.NewClient(nil, Topic(5), 2)
	other := hub.NewClient(nil, Topic(5), 3)
	hub.RegisterClient(bidder)
	hub.RegisterClient(other)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.Publish(5, []domain.Event{{ID: 7, ServerTime: at, Payload: domain.ReserveMet{ReservePrice: 11000, CurrentPrice: 12000}}})
	b.Notify(5, []domain.Notice{{BidderID: 2, Payload: domain.Outbid{CurrentPrice: 12000, HighestBidder: "user_3"}}})

	assert.JSONEq(t, `{"type":"reserve_met","data":{"reserve_price":11000,"current_price":12000},"event_id":7,"server_time":"2025-06-01T12:00:00Z"}`,
		string(<-bidder.Send))
	assert.JSONEq(t, `{"type":"reserve_met","data":{"reserve_price":11000,"current_price":12000},"event_id":7,"server_time":"2025-06-01T12:00:00Z"}`,
		string(<-other.Send))

	var outbid frame
	require.NoError(t, json.Unmarshal(<-bidder.Send, &outbid))
	assert.Equal(t, "outbid", outbid.Type)
	assert.Zero(t, outbid.EventID)
	assert.Empty(t, other.Send)
}

func TestControlMessagesAreAnsweredInOrder(t *testing.T) {
	s := startServer(t)
	id := s.openAuction(t)
	bid(t, s, id, 2, 10000)

	conn, _, err := s.dial(t, "/ws/auctions/1", 4)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn)
	readFrame(t, conn)

	var sent []string
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			require.NoError(t, conn.WriteJSON(map[string]any{"type": "state"}))
			sent = append(sent, "state")
		} else {
			require.NoError(t, conn.WriteJSON(map[string]any{"type": "resume", "last_event_id": 0}))
			sent = append(sent, "resume_ok")
		}
	}
	got := make([]string, 0, len(sent))
	for range sent {
		got = append(got, readFrame(t, conn).Type)
	}
	assert.Equal(t, sent, got)
}

func TestShardIsStablePerClient(t *testing.T) {
	for _, id := range []string{"a", "b", "client-42", ""} {
		first := shard(id, inboundWorkers)
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, inboundWorkers)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, shard(id, inboundWorkers))
		}
	}
}
