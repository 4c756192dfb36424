// Package webapi exposes the credit purchase flow over HTTP: checkout
// session creation, the Stripe webhook receiver, the synchronous payment
// verifier the dashboard polls after redirect, and the session-guarded
// account endpoints.
package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/kitewise/credits/internal/stripe"
	"github.com/kitewise/credits/pkg/credits"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	authClaimsKey       = "auth_claims"
	maxWebhookBodyBytes = 1 << 20
	shutdownTimeout     = 5 * time.Second
)

// Reconciler is the slice of the credit service the handlers need.
type Reconciler interface {
	Apply(ctx context.Context, grant credits.Grant) (bool, error)
	Provision(ctx context.Context, account credits.Account) (bool, error)
	Balance(ctx context.Context, userID credits.UserID) (credits.Account, error)
	History(ctx context.Context, userID credits.UserID, limit int) ([]credits.TransactionRecord, error)
}

// CheckoutClient creates and inspects hosted checkout sessions.
type CheckoutClient interface {
	CreateCheckoutSession(ctx context.Context, params stripe.CheckoutSessionParams) (stripe.CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (stripe.CheckoutSession, error)
}

// WebhookVerifier authenticates raw webhook payloads.
type WebhookVerifier interface {
	Verify(payload []byte, signatureHeader string) error
}

// Dependencies carries the constructed collaborators into Run.
type Dependencies struct {
	Logger     *zap.Logger
	Reconciler Reconciler
	Checkout   CheckoutClient
	Webhooks   WebhookVerifier
}

func (deps Dependencies) validate() error {
	if deps.Logger == nil {
		return fmt.Errorf("logger dependency is nil")
	}
	if deps.Reconciler == nil {
		return fmt.Errorf("reconciler dependency is nil")
	}
	if deps.Checkout == nil {
		return fmt.Errorf("checkout client dependency is nil")
	}
	if deps.Webhooks == nil {
		return fmt.Errorf("webhook verifier dependency is nil")
	}
	return nil
}

// Run boots the HTTP server and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := deps.validate(); err != nil {
		return err
	}

	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{
		logger:     deps.Logger,
		reconciler: deps.Reconciler,
		checkout:   deps.Checkout,
		webhooks:   deps.Webhooks,
		cfg:        cfg,
	}
	router := setupRouter(cfg, handler, sessionValidator)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		deps.Logger.Info("web api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			deps.Logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.HandleMethodNotAllowed = true
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/webhooks/stripe", handler.handleStripeWebhook)

	api := router.Group("/api")
	api.POST("/checkout/sessions", handler.handleCreateCheckoutSession)
	api.POST("/checkout/verify", handler.handleVerifyPayment)

	account := api.Group("/account")
	account.Use(validator.GinMiddleware(authClaimsKey))
	account.GET("", handler.handleWallet)
	account.POST("/bootstrap", handler.handleBootstrap)

	return router
}

type httpHandler struct {
	logger     *zap.Logger
	reconciler Reconciler
	checkout   CheckoutClient
	webhooks   WebhookVerifier
	cfg        Config
}

type checkoutRequest struct {
	PriceID    string `json:"priceId"`
	UserID     string `json:"userId"`
	UserEmail  string `json:"userEmail"`
	BundleID   string `json:"bundleId"`
	Credits    int64  `json:"credits"`
	BundleName string `json:"bundleName"`
}

func (handler *httpHandler) handleCreateCheckoutSession(ctx *gin.Context) {
	var request checkoutRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "expected JSON body"))
		return
	}
	if request.PriceID == "" || request.UserID == "" || request.UserEmail == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "priceId, userId and userEmail are required"))
		return
	}
	bundle, ok := handler.cfg.Catalog.LookupPrice(request.PriceID)
	if !ok {
		ctx.JSON(http.StatusBadRequest, errorResponse("unknown_price_id", "price id is not a configured bundle"))
		return
	}

	session, err := handler.checkout.CreateCheckoutSession(ctx.Request.Context(), stripe.CheckoutSessionParams{
		PriceID:       bundle.PriceID,
		Quantity:      1,
		SuccessURL:    handler.cfg.SuccessURL(),
		CancelURL:     handler.cfg.CancelURL(),
		CustomerEmail: request.UserEmail,
		Metadata: map[string]string{
			"userId":     request.UserID,
			"userEmail":  request.UserEmail,
			"bundleId":   bundle.BundleID,
			"credits":    strconv.FormatInt(bundle.Credits, 10),
			"bundleName": bundle.Name,
		},
	})
	if err != nil {
		handler.logger.Error("checkout session create failed", zap.String("price_id", bundle.PriceID), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("processor_error", "could not create checkout session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"sessionId": session.ID})
}

type verifyRequest struct {
	SessionID string `json:"sessionId"`
}

// handleVerifyPayment is the dashboard's synchronous fallback after the
// redirect from Stripe. It only reads; credits are granted exclusively by
// the webhook path. Failures report success=false so the UI never claims a
// payment it cannot prove.
func (handler *httpHandler) handleVerifyPayment(ctx *gin.Context) {
	var request verifyRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.SessionID == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "sessionId is required"))
		return
	}
	session, err := handler.checkout.RetrieveCheckoutSession(ctx.Request.Context(), request.SessionID)
	if err != nil {
		handler.logger.Warn("payment verification failed", zap.String("session_id", request.SessionID), zap.Error(err))
		ctx.JSON(http.StatusOK, gin.H{"success": false})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success": session.Paid(),
		"session": gin.H{
			"id":            session.ID,
			"paymentStatus": session.PaymentStatus,
			"amountTotal":   session.AmountTotal,
			"currency":      session.Currency,
		},
	})
}

func (handler *httpHandler) handleStripeWebhook(ctx *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "could not read body"))
		return
	}
	if err := handler.webhooks.Verify(payload, ctx.GetHeader(stripe.SignatureHeader)); err != nil {
		handler.logger.Warn("webhook signature rejected", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_signature", "signature verification failed"))
		return
	}
	event, err := stripe.ParseEvent(payload)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "could not parse event"))
		return
	}

	switch event.Type {
	case stripe.EventCheckoutSessionCompleted:
		// Reconciliation failures are logged for operational follow-up but
		// still acknowledged: Stripe retries on non-2xx and a retry cannot
		// fix an unknown user or bad metadata.
		handler.reconcileCheckoutSession(ctx.Request.Context(), event)
	default:
		handler.logger.Info("unhandled stripe event", zap.String("event_id", event.ID), zap.String("type", event.Type))
	}
	ctx.JSON(http.StatusOK, gin.H{"received": true})
}

func (handler *httpHandler) reconcileCheckoutSession(ctx context.Context, event stripe.Event) {
	session, err := event.CheckoutSession()
	if err != nil {
		handler.logger.Error("checkout event missing session object", zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	logger := handler.logger.With(zap.String("event_id", event.ID), zap.String("session_id", session.ID))

	userID, err := credits.NewUserID(session.Metadata["userId"])
	if err != nil {
		logger.Error("checkout session metadata missing user id", zap.Error(err))
		return
	}
	sessionID, err := credits.NewSessionID(session.ID)
	if err != nil {
		logger.Error("checkout session has no id", zap.Error(err))
		return
	}
	count, bundleName, err := handler.resolveCredits(session.Metadata)
	if err != nil {
		logger.Error("checkout session credits invalid",
			zap.String("credits", session.Metadata["credits"]),
			zap.String("bundle_id", session.Metadata["bundleId"]),
			zap.Error(err))
		return
	}

	metadataJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		metadataJSON = []byte("{}")
	}
	grant, err := credits.NewGrant(userID, sessionID, count, bundleName, session.AmountTotal, session.Currency, string(metadataJSON))
	if err != nil {
		logger.Error("checkout session rejected", zap.Error(err))
		return
	}

	applied, err := handler.reconciler.Apply(ctx, grant)
	if err != nil {
		logger.Error("credit reconciliation failed", zap.Error(err))
		return
	}
	if !applied {
		logger.Info("duplicate webhook delivery ignored")
		return
	}
	logger.Info("credits applied", zap.String("user_id", userID.String()), zap.Int64("credits", count.Int64()))
}

// resolveCredits prefers the configured catalog over session metadata: the
// bundle id round-trips through Stripe untouched, and the catalog is the
// one place credit counts are defined.
func (handler *httpHandler) resolveCredits(metadata map[string]string) (credits.CreditCount, string, error) {
	if bundle, ok := handler.cfg.Catalog.LookupBundle(metadata["bundleId"]); ok {
		count, err := credits.NewCreditCount(bundle.Credits)
		return count, bundle.Name, err
	}
	raw, ok := metadata["credits"]
	if !ok {
		return 0, "", fmt.Errorf("%w: missing credits metadata", credits.ErrInvalidCredits)
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q is not an integer", credits.ErrInvalidCredits, raw)
	}
	count, err := credits.NewCreditCount(parsed)
	return count, metadata["bundleName"], err
}

func (handler *httpHandler) handleBootstrap(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	created, err := handler.reconciler.Provision(ctx.Request.Context(), credits.Account{
		UserID:   claims.GetUserID(),
		FullName: claims.GetUserDisplayName(),
		Email:    claims.GetUserEmail(),
	})
	if err != nil {
		handler.logger.Error("account provisioning failed", zap.String("user_id", claims.GetUserID()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("store_error", "provisioning failed"))
		return
	}
	handler.respondWithWallet(ctx, claims.GetUserID(), gin.H{"created": created})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	handler.respondWithWallet(ctx, claims.GetUserID(), nil)
}

func (handler *httpHandler) respondWithWallet(ctx *gin.Context, rawUserID string, extra gin.H) {
	userID, err := credits.NewUserID(rawUserID)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return
	}
	account, err := handler.reconciler.Balance(ctx.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, credits.ErrUserNotFound) {
			ctx.JSON(http.StatusNotFound, errorResponse("account_not_found", "account has not been provisioned"))
			return
		}
		handler.logger.Error("wallet fetch failed", zap.String("user_id", rawUserID), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("store_error", "wallet unavailable"))
		return
	}
	records, err := handler.reconciler.History(ctx.Request.Context(), userID, handler.cfg.HistoryLimit)
	if err != nil {
		handler.logger.Error("history fetch failed", zap.String("user_id", rawUserID), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("store_error", "wallet unavailable"))
		return
	}

	transactions := make([]transactionPayload, 0, len(records))
	for _, record := range records {
		transactions = append(transactions, transactionPayload{
			TransactionID:  record.TransactionID,
			SessionID:      record.SessionID,
			BundleName:     record.BundleName,
			CreditsAdded:   record.CreditsAdded,
			AmountCents:    record.AmountCents,
			Currency:       record.Currency,
			Status:         string(record.Status),
			CreatedUnixUTC: record.CreatedUnixUTC,
		})
	}
	response := gin.H{
		"account": accountPayload{
			UserID:         account.UserID,
			FullName:       account.FullName,
			Email:          account.Email,
			Credits:        account.Credits,
			CreatedUnixUTC: account.CreatedUnixUTC,
			UpdatedUnixUTC: account.UpdatedUnixUTC,
		},
		"transactions": transactions,
	}
	for key, value := range extra {
		response[key] = value
	}
	ctx.JSON(http.StatusOK, response)
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(authClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type accountPayload struct {
	UserID         string `json:"userId"`
	FullName       string `json:"fullName"`
	Email          string `json:"email"`
	Credits        int64  `json:"credits"`
	CreatedUnixUTC int64  `json:"createdUnixUtc"`
	UpdatedUnixUTC int64  `json:"updatedUnixUtc"`
}

type transactionPayload struct {
	TransactionID  string `json:"transactionId"`
	SessionID      string `json:"sessionId"`
	BundleName     string `json:"bundleName"`
	CreditsAdded   int64  `json:"creditsAdded"`
	AmountCents    int64  `json:"amountCents"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	CreatedUnixUTC int64  `json:"createdUnixUtc"`
}
