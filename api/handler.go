// Package api exposes the Auth3 Guard lifecycle over HTTP using echo:
// registration, authentication, guardian recovery, guardian management,
// transaction screening and audit queries.
package api

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/labstack/echo/v4"

	"github.com/auth3labs/auth3guard/audit"
	"github.com/auth3labs/auth3guard/domain"
	"github.com/auth3labs/auth3guard/flow"
	"github.com/auth3labs/auth3guard/identity"
)

// Handler serves the caller-facing API.
type Handler struct {
	manager    *flow.Manager
	store      domain.LedgerStorage
	auditStore audit.Store
}

// NewHandler creates an API handler. auditStore may be nil to disable the
// audit endpoint.
func NewHandler(manager *flow.Manager, store domain.LedgerStorage, auditStore audit.Store) *Handler {
	return &Handler{manager: manager, store: store, auditStore: auditStore}
}

// RegisterRoutes mounts all routes on the group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/register", h.HandleRegister)
	g.POST("/authenticate", h.HandleAuthenticate)
	g.POST("/recovery", h.HandleInitiateRecovery)
	g.POST("/recovery/approvals", h.HandleGuardianApproval)
	g.GET("/principals/:id/status", h.HandleStatus)
	g.GET("/principals/:id/ledger", h.HandleLedger)

	// Protected routes
	protected := g.Group("")
	protected.Use(h.AuthMiddleware)
	protected.GET("/whoami", h.HandleWhoAmI)
	protected.POST("/logout", h.HandleLogout)
	protected.DELETE("/recovery", h.HandleCancelRecovery)
	protected.PUT("/guardians", h.HandleUpdateGuardians)
	protected.POST("/transactions/screen", h.HandleScreenTransaction)
	protected.GET("/audit/events", h.HandleAuditQuery)
}

func (h *Handler) HandleRegister(c echo.Context) error {
	var body struct {
		Principal  string   `json:"principal"`
		Credential string   `json:"credential"`
		Guardians  []string `json:"guardians"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}

	rec, err := h.manager.Register(c.Request().Context(), body.Principal, []byte(body.Credential), body.Guardians)
	if err != nil {
		return h.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) HandleAuthenticate(c echo.Context) error {
	var body struct {
		Principal string            `json:"principal"`
		Claim     string            `json:"claim"`
		Signals   map[string]string `json:"signals"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}

	rc := domain.RiskContext{EnvironmentSignals: body.Signals}
	token, sess, err := h.manager.Authenticate(c.Request().Context(), body.Principal, []byte(body.Claim), rc)
	if err != nil {
		return h.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"token":   token,
		"session": sess,
	})
}

func (h *Handler) HandleInitiateRecovery(c echo.Context) error {
	var body struct {
		Principal     string `json:"principal"`
		NewCredential string `json:"new_credential"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}

	req, err := h.manager.InitiateRecovery(c.Request().Context(), body.Principal, []byte(body.NewCredential))
	if err != nil {
		return h.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) HandleGuardianApproval(c echo.Context) error {
	var body struct {
		Nonce     string `json:"nonce"`
		Guardian  string `json:"guardian"`
		Signature string `json:"signature"` // 0x-prefixed hex
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}
	sig, err := hexutil.Decode(body.Signature)
	if err != nil {
		return h.Error(c, http.StatusBadRequest, "Malformed signature encoding", err)
	}

	res, err := h.manager.SubmitGuardianApproval(c.Request().Context(), body.Nonce, body.Guardian, sig)
	if errors.Is(err, domain.ErrDuplicateSignature) {
		// Idempotent no-op: report current tally without escalating.
		return c.JSON(http.StatusOK, map[string]interface{}{
			"duplicate": true,
			"collected": res.Collected,
			"threshold": res.Request.Threshold,
		})
	}
	if err != nil {
		return h.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"collected": res.Collected,
		"threshold": res.Request.Threshold,
		"committed": res.Committed,
	})
}

func (h *Handler) HandleCancelRecovery(c echo.Context) error {
	if err := h.manager.CancelRecovery(c.Request().Context(), h.token(c)); err != nil {
		return h.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) HandleUpdateGuardians(c echo.Context) error {
	var body struct {
		Guardians []string `json:"guardians"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}

	rec, err := h.manager.UpdateGuardians(c.Request().Context(), h.token(c), body.Guardians)
	if err != nil {
		return h.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) HandleScreenTransaction(c echo.Context) error {
	var body struct {
		Recipient string `json:"recipient"`
		Amount    string `json:"amount"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}

	assessment, err := h.manager.ScreenTransaction(c.Request().Context(), h.token(c), body.Recipient, body.Amount)
	if errors.Is(err, domain.ErrHighRiskRejected) {
		return c.JSON(http.StatusForbidden, map[string]interface{}{
			"status":     "blocked",
			"assessment": assessment,
		})
	}
	if err != nil {
		return h.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":     "approved",
		"assessment": assessment,
	})
}

func (h *Handler) HandleStatus(c echo.Context) error {
	status, err := h.manager.GetStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]identity.Status{"status": status})
}

func (h *Handler) HandleLedger(c echo.Context) error {
	principalID, err := identity.NormalizeAddress(c.Param("id"))
	if err != nil {
		return h.Error(c, http.StatusBadRequest, "Malformed address", err)
	}
	entries, err := h.store.ListEntries(c.Request().Context(), principalID, 100)
	if err != nil {
		return h.Error(c, http.StatusInternalServerError, "Internal server error", err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) HandleAuditQuery(c echo.Context) error {
	if h.auditStore == nil {
		return h.Error(c, http.StatusNotFound, "Audit log not configured", nil)
	}
	events, err := h.auditStore.Query(c.Request().Context(), audit.Filter{
		SubjectID: c.QueryParam("subject"),
		ActorID:   c.QueryParam("actor"),
		Limit:     100,
	})
	if err != nil {
		return h.Error(c, http.StatusInternalServerError, "Internal server error", err)
	}
	return c.JSON(http.StatusOK, events)
}

func (h *Handler) HandleWhoAmI(c echo.Context) error {
	s := c.Get("session").(*identity.Session)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "authenticated",
		"session": s,
	})
}

func (h *Handler) HandleLogout(c echo.Context) error {
	if err := h.manager.Logout(c.Request().Context(), h.token(c)); err != nil {
		return h.Error(c, http.StatusBadRequest, "Logout failed", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *Handler) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := h.token(c)
		if token == "" {
			return h.Error(c, http.StatusUnauthorized, "Authorization header required", nil)
		}

		s, err := h.manager.Sessions().Validate(token)
		if err != nil {
			return h.Error(c, http.StatusUnauthorized, "Unauthorized", err)
		}

		c.Set("session", s)
		return next(c)
	}
}

func (h *Handler) token(c echo.Context) string {
	return c.Request().Header.Get("Authorization")
}

// DomainError maps domain sentinel errors to HTTP status codes.
func (h *Handler) DomainError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrAlreadyRegistered),
		errors.Is(err, domain.ErrRecoveryAlreadyOpen),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInvalidTransition):
		return h.Error(c, http.StatusConflict, "Conflicting state", err)
	case errors.Is(err, domain.ErrNoSuchPrincipal),
		errors.Is(err, domain.ErrNoOpenRecovery):
		return h.Error(c, http.StatusNotFound, "Not found", err)
	case errors.Is(err, domain.ErrInsufficientGuardians),
		errors.Is(err, domain.ErrGuardianIsPrincipal),
		errors.Is(err, domain.ErrDuplicateGuardian),
		errors.Is(err, identity.ErrMalformedAddress):
		return h.Error(c, http.StatusBadRequest, "Invalid guardian set", err)
	case errors.Is(err, domain.ErrNotAGuardian),
		errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrProofInvalid),
		errors.Is(err, domain.ErrProofRejected):
		return h.Error(c, http.StatusUnauthorized, "Unauthorized", err)
	case errors.Is(err, domain.ErrHighRiskRejected),
		errors.Is(err, flow.ErrLockedOut):
		return h.Error(c, http.StatusForbidden, "Blocked", err)
	case errors.Is(err, domain.ErrRecoveryExpired):
		return h.Error(c, http.StatusGone, "Recovery request expired", err)
	case errors.Is(err, domain.ErrOracleUnavailable):
		return h.Error(c, http.StatusServiceUnavailable, "Temporarily unavailable, retry", err)
	default:
		return h.Error(c, http.StatusInternalServerError, "Internal server error", err)
	}
}

// Error writes a structured error response.
func (h *Handler) Error(c echo.Context, code int, message string, err error) error {
	resp := map[string]interface{}{
		"status": message,
		"code":   code,
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	return c.JSON(code, resp)
}
