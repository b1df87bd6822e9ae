package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bhulekhchain/title-registry/internal/api/middleware"
	"github.com/bhulekhchain/title-registry/internal/api/shared/dto"
	"github.com/bhulekhchain/title-registry/internal/api/shared/executor"
	"github.com/bhulekhchain/title-registry/internal/domain"
)

// Handler defines the interface for REST API handlers
//
//go:generate mockgen -source=handler.go -destination=../../mocks/api_handler.go -package=mocks -mock_names=Handler=MockAPIHandler
type Handler interface {
	// InitiateTransfer opens a transfer
	// POST /api/v1/transfers
	InitiateTransfer(c *gin.Context)

	// GetTransfer returns the current state of a transfer
	// GET /api/v1/transfers/:transfer_id
	GetTransfer(c *gin.Context)

	// ConfirmStampDuty records the payment receipt
	// POST /api/v1/transfers/:transfer_id/stamp-duty
	ConfirmStampDuty(c *gin.Context)

	// SubmitSignature records one signatory's signature
	// POST /api/v1/transfers/:transfer_id/signatures
	SubmitSignature(c *gin.Context)

	// ExecuteTransfer commits the transfer on the ledger (registrar or admin)
	// POST /api/v1/transfers/:transfer_id/execute
	ExecuteTransfer(c *gin.Context)

	// FileObjection halts finality during the cooling period
	// POST /api/v1/transfers/:transfer_id/objections
	FileObjection(c *gin.Context)

	// FinalizeTransfer closes the transfer after the cooling period (registrar or admin)
	// POST /api/v1/transfers/:transfer_id/finalize
	FinalizeTransfer(c *gin.Context)

	// CancelTransfer abandons a transfer before execution
	// POST /api/v1/transfers/:transfer_id/cancel
	CancelTransfer(c *gin.Context)

	// GetProperty reads a property, ledger first with mirror fallback
	// GET /api/v1/properties/:property_id
	GetProperty(c *gin.Context)

	// GetOwnershipHistory returns the provenance chain of a property
	// GET /api/v1/properties/:property_id/history
	GetOwnershipHistory(c *gin.Context)

	// VerifyAnchor checks the public commitment covering a property (open)
	// GET /api/v1/properties/:property_id/anchor
	VerifyAnchor(c *gin.Context)

	// VerifyAuditChain replays one audit scope (officials)
	// GET /api/v1/audit/:resource_type/verify
	VerifyAuditChain(c *gin.Context)

	// CreateWebhookClient creates a new webhook client (requires authentication via API key)
	// POST /api/v1/webhooks/clients
	CreateWebhookClient(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	debug    bool
	executor executor.Executor
}

// NewHandler creates a new REST API handler using the shared executor
func NewHandler(debug bool, exec executor.Executor) Handler {
	return &handler{
		debug:    debug,
		executor: exec,
	}
}

// transferCall is one actor-scoped transfer operation
type transferCall func(c *gin.Context, actor domain.Actor, transferID string) (*dto.TransferResponse, error)

// withTransfer resolves the actor and transfer id before running call
func (h *handler) withTransfer(c *gin.Context, message string, call transferCall) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		respondUnauthorized(c)
		return
	}

	transferID := c.Param("transfer_id")
	if transferID == "" {
		respondBadRequest(c, "transfer_id is required")
		return
	}

	resp, err := call(c, actor, transferID)
	if err != nil {
		respondError(c, err, message)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *handler) InitiateTransfer(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		respondUnauthorized(c)
		return
	}

	var req dto.InitiateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	resp, err := h.executor.InitiateTransfer(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, err, "Failed to initiate transfer")
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *handler) GetTransfer(c *gin.Context) {
	transferID := c.Param("transfer_id")
	if transferID == "" {
		respondBadRequest(c, "transfer_id is required")
		return
	}

	resp, err := h.executor.GetTransfer(c.Request.Context(), transferID)
	if err != nil {
		respondError(c, err, "Failed to get transfer")
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *handler) ConfirmStampDuty(c *gin.Context) {
	var req dto.ConfirmStampDutyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, err, "Invalid stamp duty confirmation")
		return
	}

	h.withTransfer(c, "Failed to confirm stamp duty", func(c *gin.Context, actor domain.Actor, id string) (*dto.TransferResponse, error) {
		return h.executor.ConfirmStampDuty(c.Request.Context(), actor, id, req.ReceiptHash)
	})
}

func (h *handler) SubmitSignature(c *gin.Context) {
	var req dto.SubmitSignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, err, "Invalid signature")
		return
	}

	h.withTransfer(c, "Failed to submit signature", func(c *gin.Context, actor domain.Actor, id string) (*dto.TransferResponse, error) {
		return h.executor.SubmitSignature(c.Request.Context(), actor, id, req.Signatory, req.Proof)
	})
}

func (h *handler) ExecuteTransfer(c *gin.Context) {
	h.withTransfer(c, "Failed to execute transfer", func(c *gin.Context, actor domain.Actor, id string) (*dto.TransferResponse, error) {
		return h.executor.ExecuteTransfer(c.Request.Context(), actor, id)
	})
}

func (h *handler) FileObjection(c *gin.Context) {
	var req dto.ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, err, "Invalid objection")
		return
	}

	h.withTransfer(c, "Failed to file objection", func(c *gin.Context, actor domain.Actor, id string) (*dto.TransferResponse, error) {
		return h.executor.FileObjection(c.Request.Context(), actor, id, req.Reason)
	})
}

func (h *handler) FinalizeTransfer(c *gin.Context) {
	h.withTransfer(c, "Failed to finalize transfer", func(c *gin.Context, actor domain.Actor, id string) (*dto.TransferResponse, error) {
		return h.executor.FinalizeTransfer(c.Request.Context(), actor, id)
	})
}

func (h *handler) CancelTransfer(c *gin.Context) {
	var req dto.ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, err, "Invalid cancellation")
		return
	}

	h.withTransfer(c, "Failed to cancel transfer", func(c *gin.Context, actor domain.Actor, id string) (*dto.TransferResponse, error) {
		return h.executor.CancelTransfer(c.Request.Context(), actor, id, req.Reason)
	})
}

func (h *handler) GetProperty(c *gin.Context) {
	view, err := h.executor.GetProperty(c.Request.Context(), c.Param("property_id"))
	if err != nil {
		respondError(c, err, "Failed to get property")
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *handler) GetOwnershipHistory(c *gin.Context) {
	resp, err := h.executor.GetOwnershipHistory(c.Request.Context(), c.Param("property_id"))
	if err != nil {
		respondError(c, err, "Failed to get ownership history")
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *handler) VerifyAnchor(c *gin.Context) {
	resp, err := h.executor.VerifyAnchor(c.Request.Context(), c.Param("property_id"))
	if err != nil {
		respondError(c, err, "Failed to verify anchor")
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *handler) VerifyAuditChain(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		respondUnauthorized(c)
		return
	}

	resourceType := domain.AuditResourceType(c.Param("resource_type"))
	resp, err := h.executor.VerifyAuditChain(c.Request.Context(), actor, resourceType)
	if err != nil {
		respondError(c, err, "Failed to verify audit chain")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CreateWebhookClient creates a new webhook client (requires authentication via API key)
func (h *handler) CreateWebhookClient(c *gin.Context) {
	var req dto.CreateWebhookClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := req.Validate(h.debug); err != nil {
		respondError(c, err, "Invalid webhook client")
		return
	}

	retryMaxAttempts := dto.DEFAULT_RETRY_MAX_ATTEMPTS
	if req.RetryMaxAttempts != nil {
		retryMaxAttempts = *req.RetryMaxAttempts
	}

	resp, err := h.executor.CreateWebhookClient(c.Request.Context(), strings.TrimSpace(req.Organization), req.WebhookURL, req.EventFilters, retryMaxAttempts)
	if err != nil {
		respondError(c, err, "Failed to create webhook client")
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "title-registry-api",
	})
}
