package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/nutrilog/daybook/internal/auth"
	"github.com/nutrilog/daybook/internal/meals"
	"github.com/nutrilog/daybook/internal/notify"
	"go.uber.org/zap"
)

const userIDContextKey = "daybook_user_id"

var (
	errMissingProviderVerifier = errors.New("provider verifier dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingMealsService     = errors.New("meals service dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// ProviderVerifier validates hosted-auth ID tokens.
type ProviderVerifier interface {
	Verify(ctx context.Context, token string) (auth.ProviderClaims, error)
}

// BackendTokenManager issues and validates backend bearer tokens.
type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// IdentityResolver maps hosted-auth claims to canonical user identifiers.
type IdentityResolver interface {
	ResolveCanonicalUserID(claims auth.SessionClaims) (string, error)
}

// Dependencies wires the HTTP layer to its collaborators.
type Dependencies struct {
	ProviderVerifier ProviderVerifier
	SessionValidator *auth.SessionValidator
	TokenManager     BackendTokenManager
	Identities       IdentityResolver
	MealsService     *meals.Service
	Notifier         notify.ChangeNotifier
	Journal          *notify.Journal
	Logger           *zap.Logger
}

// NewHTTPHandler builds the gin handler for the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.ProviderVerifier == nil {
		return nil, errMissingProviderVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.MealsService == nil {
		return nil, errMissingMealsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		verifier: deps.ProviderVerifier,
		sessions: deps.SessionValidator,
		tokens:   deps.TokenManager,
		identity: deps.Identities,
		meals:    deps.MealsService,
		notifier: deps.Notifier,
		journal:  deps.Journal,
		logger:   logger,
	}

	router.POST("/auth/token", handler.handleTokenExchange)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/days/today", handler.handleToday)
	protected.POST("/days/today/slots/:id/confirm", handler.handleConfirm)
	protected.POST("/days/today/slots/:id/undo", handler.handleUndo)
	protected.GET("/days/history", handler.handleHistory)
	protected.POST("/analyses", handler.handleCreateAnalysis)
	protected.GET("/analyses", handler.handleListAnalyses)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	verifier ProviderVerifier
	sessions *auth.SessionValidator
	tokens   BackendTokenManager
	identity IdentityResolver
	meals    *meals.Service
	notifier notify.ChangeNotifier
	journal  *notify.Journal
	logger   *zap.Logger
}

type tokenRequestPayload struct {
	IDToken string `json:"id_token"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	var request tokenRequestPayload
	_ = c.ShouldBindJSON(&request)

	claims, err := h.resolveSessionClaims(c, strings.TrimSpace(request.IDToken))
	if err != nil {
		h.logger.Warn("hosted auth verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID := claims.UserID
	if h.identity != nil {
		resolved, resolveErr := h.identity.ResolveCanonicalUserID(claims)
		if resolveErr != nil {
			h.logger.Warn("identity resolution failed", zap.Error(resolveErr))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		userID = resolved
	}
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

// resolveSessionClaims accepts either a hosted-auth ID token in the request
// body or, when none is supplied, the hosted session cookie.
func (h *httpHandler) resolveSessionClaims(c *gin.Context, idToken string) (auth.SessionClaims, error) {
	if idToken != "" {
		providerClaims, err := h.verifier.Verify(c.Request.Context(), idToken)
		if err != nil {
			return auth.SessionClaims{}, err
		}
		claims := auth.SessionClaims{
			UserID:    providerClaims.Subject,
			UserEmail: providerClaims.Email,
		}
		claims.Subject = providerClaims.Subject
		return claims, nil
	}
	if h.sessions != nil {
		return h.sessions.ValidateRequest(c.Request)
	}
	return auth.SessionClaims{}, errInvalidAuthorization
}

type slotPayload struct {
	SlotID          int64    `json:"slot_id"`
	Name            string   `json:"name"`
	ScheduledAt     string   `json:"scheduled_at"`
	Status          string   `json:"status"`
	Calories        float64  `json:"calories"`
	Protein         float64  `json:"protein"`
	Carbs           float64  `json:"carbs"`
	Fat             float64  `json:"fat"`
	AppliedCalories float64  `json:"applied_calories"`
	AnalysisID      string   `json:"analysis_id,omitempty"`
	Foods           []string `json:"foods,omitempty"`
}

type dayViewPayload struct {
	DateKey       string        `json:"date_key"`
	CaloriesTotal float64       `json:"calories_total"`
	Slots         []slotPayload `json:"slots"`
}

func dayViewToPayload(view meals.DayView) dayViewPayload {
	payload := dayViewPayload{
		DateKey:       view.DateKey.String(),
		CaloriesTotal: view.CaloriesTotal,
		Slots:         make([]slotPayload, 0, len(view.Slots)),
	}
	for _, slot := range view.Slots {
		payload.Slots = append(payload.Slots, slotPayload{
			SlotID:          slot.ID.Int64(),
			Name:            slot.Name,
			ScheduledAt:     slot.ScheduledAt,
			Status:          string(slot.Status),
			Calories:        slot.Nutrition.Calories,
			Protein:         slot.Nutrition.Protein,
			Carbs:           slot.Nutrition.Carbs,
			Fat:             slot.Nutrition.Fat,
			AppliedCalories: slot.AppliedCalories,
			AnalysisID:      slot.AnalysisID,
			Foods:           slot.Foods,
		})
	}
	return payload
}

func (h *httpHandler) handleToday(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	view, err := h.meals.Today(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load today's view", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "day_load_failed"})
		return
	}
	c.JSON(http.StatusOK, dayViewToPayload(view))
}

func (h *httpHandler) handleConfirm(c *gin.Context) {
	h.handleSlotTransition(c, h.meals.Confirm)
}

func (h *httpHandler) handleUndo(c *gin.Context) {
	h.handleSlotTransition(c, h.meals.Undo)
}

func (h *httpHandler) handleSlotTransition(c *gin.Context, transition func(context.Context, meals.UserID, meals.SlotID) (meals.DayView, error)) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	rawSlotID, parseErr := strconv.ParseInt(c.Param("id"), 10, 64)
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slot_id"})
		return
	}
	slotID, slotErr := meals.NewSlotID(rawSlotID)
	if slotErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slot_id"})
		return
	}

	view, err := transition(c.Request.Context(), userID, slotID)
	if err != nil {
		if errors.Is(err, meals.ErrUnknownSlot) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_slot"})
			return
		}
		h.logger.Error("slot transition failed", zap.Error(err), zap.Int64("slot_id", slotID.Int64()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transition_failed"})
		return
	}
	c.JSON(http.StatusOK, dayViewToPayload(view))
}

type historyEntryPayload struct {
	DateKey       string        `json:"date_key"`
	CaloriesTotal float64       `json:"calories_total"`
	Slots         []slotRefJSON `json:"slots"`
}

type slotRefJSON struct {
	SlotID          int64   `json:"slot_id"`
	Status          string  `json:"status"`
	AppliedCalories float64 `json:"applied_calories"`
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	records, err := h.meals.History(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list day history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history_failed"})
		return
	}

	entries := make([]historyEntryPayload, 0, len(records))
	for _, record := range records {
		entry := historyEntryPayload{
			DateKey:       record.DateKey.String(),
			CaloriesTotal: record.CaloriesTotal,
			Slots:         make([]slotRefJSON, 0, len(record.Slots)),
		}
		for _, slot := range record.Slots {
			entry.Slots = append(entry.Slots, slotRefJSON{
				SlotID:          slot.SlotID,
				Status:          string(slot.Status),
				AppliedCalories: slot.AppliedCalories,
			})
		}
		entries = append(entries, entry)
	}
	c.JSON(http.StatusOK, gin.H{"days": entries})
}

type analysisRequestPayload struct {
	FoodName   string  `json:"food_name"`
	Calories   float64 `json:"calories"`
	Protein    float64 `json:"protein"`
	Carbs      float64 `json:"carbs"`
	Fat        float64 `json:"fat"`
	Fiber      float64 `json:"fiber"`
	Confidence float64 `json:"confidence"`
	SlotID     *int64  `json:"slot_id"`
}

type analysisResponsePayload struct {
	AnalysisID string  `json:"analysis_id"`
	FoodName   string  `json:"food_name"`
	Calories   float64 `json:"calories"`
	Protein    float64 `json:"protein"`
	Carbs      float64 `json:"carbs"`
	Fat        float64 `json:"fat"`
	Fiber      float64 `json:"fiber"`
	Confidence float64 `json:"confidence"`
	SlotID     *int64  `json:"slot_id,omitempty"`
	Duplicate  bool    `json:"duplicate"`
}

func (h *httpHandler) handleCreateAnalysis(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	var request analysisRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.FoodName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	input := meals.AnalysisInput{
		FoodName: strings.TrimSpace(request.FoodName),
		Nutrition: meals.NutritionFacts{
			Calories: request.Calories,
			Protein:  request.Protein,
			Carbs:    request.Carbs,
			Fat:      request.Fat,
		},
		Fiber:      request.Fiber,
		Confidence: request.Confidence,
	}
	if request.SlotID != nil {
		slotID, slotErr := meals.NewSlotID(*request.SlotID)
		if slotErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slot_id"})
			return
		}
		input.SlotID = &slotID
	}

	record, duplicate, err := h.meals.RecordAnalysis(c.Request.Context(), userID, input)
	if err != nil {
		h.logger.Error("failed to record analysis", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis_failed"})
		return
	}

	status := http.StatusCreated
	if duplicate {
		status = http.StatusOK
	}
	c.JSON(status, analysisRecordToPayload(record, duplicate))
}

func (h *httpHandler) handleListAnalyses(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	records, err := h.meals.ListAnalyses(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list analyses", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analyses_failed"})
		return
	}

	payloads := make([]analysisResponsePayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, analysisRecordToPayload(record, false))
	}
	c.JSON(http.StatusOK, gin.H{"analyses": payloads})
}

func analysisRecordToPayload(record meals.AnalysisRecord, duplicate bool) analysisResponsePayload {
	payload := analysisResponsePayload{
		AnalysisID: record.ID,
		FoodName:   record.FoodName,
		Calories:   record.Nutrition.Calories,
		Protein:    record.Nutrition.Protein,
		Carbs:      record.Nutrition.Carbs,
		Fat:        record.Nutrition.Fat,
		Fiber:      record.Fiber,
		Confidence: record.Confidence,
		Duplicate:  duplicate,
	}
	if record.SlotID != nil {
		slotID := record.SlotID.Int64()
		payload.SlotID = &slotID
	}
	return payload
}

func (h *httpHandler) requireUser(c *gin.Context) (meals.UserID, bool) {
	raw := c.GetString(userIDContextKey)
	userID, err := meals.NewUserID(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// bearerToken extracts the backend token from the Authorization header or,
// for EventSource clients that cannot set headers, the access_token query.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token
		}
	}
	return strings.TrimSpace(c.Query("access_token"))
}
