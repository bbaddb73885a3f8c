package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/cristianortiz/bidengine/internal/auction/application"
	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/cristianortiz/bidengine/internal/shared/auth"
	"github.com/cristianortiz/bidengine/internal/shared/httpserver"
	"github.com/cristianortiz/bidengine/internal/shared/logger"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

const idempotencyHeader = "Idempotency-Key"

// AuctionHandler exposes the auction use cases over REST.
type AuctionHandler struct {
	auctionService application.AuctionService
	issuer         *auth.Issuer
}

// NewAuctionHandler creates a new instance of AuctionHandler
func NewAuctionHandler(auctionService application.AuctionService, issuer *auth.Issuer) *AuctionHandler {
	return &AuctionHandler{auctionService: auctionService, issuer: issuer}
}

// RegisterRoutes mounts the /api/v1 routes on app.
func (h *AuctionHandler) RegisterRoutes(app *fiber.App) {
	required := auth.Middleware(h.issuer, true)
	optional := auth.Middleware(h.issuer, false)

	v1 := app.Group("/api/v1")
	v1.Get("/auth/ws-token", required, h.WSToken)

	auctions := v1.Group("/auctions")
	auctions.Get("/stats", h.Stats)
	auctions.Get("/", optional, h.ListAuctions)
	auctions.Post("/", required, h.CreateAuction)
	auctions.Get("/:id", optional, h.GetAuction)
	auctions.Post("/:id/activate", required, h.ActivateAuction)
	auctions.Post("/:id/close", required, h.CloseAuction)
	auctions.Post("/:id/cancel", required, h.CancelAuction)
	auctions.Post("/:id/bids", required, h.PlaceBid)
	auctions.Post("/:id/buy-now", required, h.BuyNow)
	auctions.Get("/:id/my-bids", required, h.MyBids)
	auctions.Get("/:id/results", h.Results)
}

func (h *AuctionHandler) CreateAuction(c *fiber.Ctx) error {
	p := mustPrincipal(c)
	var req createAuctionRequest
	if err := c.BodyParser(&req); err != nil {
		return httpserver.WriteError(c, fiber.StatusBadRequest, "validation_error", "invalid request body")
	}
	a, err := h.auctionService.CreateAuction(c.UserContext(), actorOf(p), req.command())
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(envelope{Data: toAuctionResponse(a, &p)})
}

func (h *AuctionHandler) ActivateAuction(c *fiber.Ctx) error {
	return h.transition(c, h.auctionService.ActivateAuction)
}

func (h *AuctionHandler) CloseAuction(c *fiber.Ctx) error {
	return h.transition(c, h.auctionService.CloseAuction)
}

func (h *AuctionHandler) CancelAuction(c *fiber.Ctx) error {
	return h.transition(c, h.auctionService.CancelAuction)
}

type transitionFunc func(ctx context.Context, actor domain.Actor, auctionID int64) (*domain.Auction, error)

func (h *AuctionHandler) transition(c *fiber.Ctx, fn transitionFunc) error {
	p := mustPrincipal(c)
	id, err := auctionID(c)
	if err != nil {
		return err
	}
	a, err := fn(c.UserContext(), actorOf(p), id)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(envelope{Data: fiber.Map{"auction": toAuctionResponse(a, &p)}})
}

// PlaceBid answers 200 for accepted and rejected bids alike; rejections carry
// reject_reason.
func (h *AuctionHandler) PlaceBid(c *fiber.Ctx) error {
	p := mustPrincipal(c)
	id, err := auctionID(c)
	if err != nil {
		return err
	}
	var req placeBidRequest
	if err := c.BodyParser(&req); err != nil {
		return httpserver.WriteError(c, fiber.StatusBadRequest, "validation_error", "invalid request body")
	}

	out, err := h.auctionService.PlaceBid(c.UserContext(), id, domain.BidSubmission{
		BidderID:       p.UserID,
		Amount:         req.Amount,
		ClientSeq:      req.ClientSeq,
		MaxProxyAmount: req.MaxProxyAmount,
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(toBidResponse(out))
}

func (h *AuctionHandler) BuyNow(c *fiber.Ctx) error {
	p := mustPrincipal(c)
	id, err := auctionID(c)
	if err != nil {
		return err
	}
	var req buyNowRequest
	if err := c.BodyParser(&req); err != nil {
		return httpserver.WriteError(c, fiber.StatusBadRequest, "validation_error", "invalid request body")
	}

	res, err := h.auctionService.BuyNow(c.UserContext(), id, domain.BuyNowRequest{
		Key:       c.Get(idempotencyHeader),
		BidderID:  p.UserID,
		ClientSeq: req.ClientSeq,
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(res)
}

func (h *AuctionHandler) ListAuctions(c *fiber.Ctx) error {
	page, err := h.auctionService.ListAuctions(c.UserContext(), application.ListQuery{
		Status:    c.Query("status"),
		Limit:     c.QueryInt("limit"),
		PageToken: c.Query("page_token"),
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	viewer := principalOrNil(c)
	res := listResponse{
		Items:         make([]auctionResponse, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, a := range page.Items {
		res.Items = append(res.Items, toAuctionResponse(a, viewer))
	}
	return c.JSON(res)
}

func (h *AuctionHandler) GetAuction(c *fiber.Ctx) error {
	id, err := auctionID(c)
	if err != nil {
		return err
	}
	a, err := h.auctionService.GetAuction(c.UserContext(), id)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(envelope{Data: fiber.Map{"auction": toAuctionResponse(a, principalOrNil(c))}})
}

func (h *AuctionHandler) MyBids(c *fiber.Ctx) error {
	p := mustPrincipal(c)
	id, err := auctionID(c)
	if err != nil {
		return err
	}
	bids, err := h.auctionService.MyBids(c.UserContext(), id, p.UserID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(envelope{Data: toBidViews(bids)})
}

func (h *AuctionHandler) Results(c *fiber.Ctx) error {
	id, err := auctionID(c)
	if err != nil {
		return err
	}
	res, err := h.auctionService.Results(c.UserContext(), id, c.QueryInt("limit"))
	if err != nil {
		return writeServiceError(c, err)
	}
	if res.TopBidders == nil {
		res.TopBidders = []domain.Standing{}
	}
	return c.JSON(envelope{Data: res})
}

func (h *AuctionHandler) Stats(c *fiber.Ctx) error {
	s, err := h.auctionService.Stats(c.UserContext())
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(envelope{Data: statsResponse{
		TotalAuctions:  s.TotalAuctions,
		ActiveAuctions: s.ActiveAuctions,
		TotalBids:      s.TotalBids,
		AvgBidAmount:   json.Number(s.AvgBidAmount.StringFixed(2)),
	}})
}

// WSToken issues a single use token for the WebSocket handshake.
func (h *AuctionHandler) WSToken(c *fiber.Ctx) error {
	p := mustPrincipal(c)
	token, expiresAt, err := h.issuer.IssueWSToken(p)
	if err != nil {
		log.Error("Failed to issue ws token", zap.Int64("userID", p.UserID), zap.Error(err))
		return httpserver.WriteError(c, fiber.StatusInternalServerError, "internal_error", "internal error")
	}
	return c.JSON(envelope{Data: wsTokenResponse{Token: token, ExpiresAt: expiresAt}})
}

func auctionID(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid auction id")
	}
	return int64(id), nil
}

// mustPrincipal reads the caller of a route behind the required middleware.
func mustPrincipal(c *fiber.Ctx) auth.Principal {
	p, _ := auth.PrincipalFrom(c)
	return p
}

func principalOrNil(c *fiber.Ctx) *auth.Principal {
	if p, ok := auth.PrincipalFrom(c); ok {
		return &p
	}
	return nil
}

func actorOf(p auth.Principal) domain.Actor {
	return domain.Actor{UserID: p.UserID, Admin: p.IsAdmin()}
}

// writeServiceError maps application errors to status codes. Anything unknown
// is logged and reported as a generic failure.
func writeServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidBid),
		errors.Is(err, domain.ErrInvalidAuction),
		errors.Is(err, domain.ErrInvalidQuery),
		errors.Is(err, domain.ErrMissingIdempotency):
		return httpserver.WriteError(c, fiber.StatusBadRequest, "validation_error", clientMessage(err))
	case errors.Is(err, domain.ErrAuctionNotFound):
		return httpserver.WriteError(c, fiber.StatusNotFound, "not_found", "auction not found")
	case errors.Is(err, domain.ErrNotAuctionOwner):
		return httpserver.WriteError(c, fiber.StatusForbidden, "forbidden", domain.ErrNotAuctionOwner.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return httpserver.WriteError(c, fiber.StatusConflict, "invalid_state", clientMessage(err))
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return httpserver.WriteError(c, fiber.StatusConflict, "idempotency_conflict", domain.ErrIdempotencyConflict.Error())
	default:
		log.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return httpserver.WriteError(c, fiber.StatusInternalServerError, "internal_error", "internal error")
	}
}

// clientMessage drops the operation prefixes added while the error travelled
// up, keeping the sentinel and its detail.
func clientMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{
		domain.ErrInvalidBid,
		domain.ErrInvalidAuction,
		domain.ErrInvalidQuery,
		domain.ErrMissingIdempotency,
		domain.ErrInvalidTransition,
	} {
		if i := strings.Index(msg, sentinel.Error()); i >= 0 {
			return msg[i:]
		}
	}
	return msg
}
