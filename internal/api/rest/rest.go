package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/bhulekhchain/title-registry/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		// Public verification of published commitments
		v1.GET("/properties/:property_id/anchor", handler.VerifyAnchor)

		authed := v1.Group("", middleware.Auth(authCfg))

		// Property reads
		authed.GET("/properties/:property_id", handler.GetProperty)
		authed.GET("/properties/:property_id/history", handler.GetOwnershipHistory)

		// Transfer workflow
		authed.POST("/transfers", handler.InitiateTransfer)
		authed.GET("/transfers/:transfer_id", handler.GetTransfer)
		authed.POST("/transfers/:transfer_id/stamp-duty", handler.ConfirmStampDuty)
		authed.POST("/transfers/:transfer_id/signatures", handler.SubmitSignature)
		authed.POST("/transfers/:transfer_id/execute", handler.ExecuteTransfer)
		authed.POST("/transfers/:transfer_id/objections", handler.FileObjection)
		authed.POST("/transfers/:transfer_id/finalize", handler.FinalizeTransfer)
		authed.POST("/transfers/:transfer_id/cancel", handler.CancelTransfer)

		// Audit chain verification (officials)
		authed.GET("/audit/:resource_type/verify", handler.VerifyAuditChain)

		// Webhook endpoints (requires API key authentication only)
		v1.POST("/webhooks/clients", middleware.APIKeyAuth(authCfg), handler.CreateWebhookClient)
	}
}
