package executor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/anchor"
	"github.com/bhulekhchain/title-registry/internal/api/shared/dto"
	apierrors "github.com/bhulekhchain/title-registry/internal/api/shared/errors"
	"github.com/bhulekhchain/title-registry/internal/audit"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/property"
	"github.com/bhulekhchain/title-registry/internal/store"
	"github.com/bhulekhchain/title-registry/internal/transfer"
)

// Executor is the interface for the API executor
//
//go:generate mockgen -source=executor.go -destination=../../../mocks/mock_api_executor.go -package=mocks -mock_names=Executor=MockAPIExecutor
type Executor interface {
	// InitiateTransfer opens a transfer on behalf of the actor
	InitiateTransfer(ctx context.Context, actor domain.Actor, req dto.InitiateTransferRequest) (*dto.TransferResponse, error)

	// ConfirmStampDuty records the stamp-duty payment receipt
	ConfirmStampDuty(ctx context.Context, actor domain.Actor, transferID, receiptHash string) (*dto.TransferResponse, error)

	// SubmitSignature records one signatory's signature
	SubmitSignature(ctx context.Context, actor domain.Actor, transferID string, signatory domain.Signatory, proof string) (*dto.TransferResponse, error)

	// ExecuteTransfer commits the transfer on the ledger
	ExecuteTransfer(ctx context.Context, actor domain.Actor, transferID string) (*dto.TransferResponse, error)

	// FileObjection halts finality during the cooling period
	FileObjection(ctx context.Context, actor domain.Actor, transferID, reason string) (*dto.TransferResponse, error)

	// FinalizeTransfer closes an executed transfer after its cooling period
	FinalizeTransfer(ctx context.Context, actor domain.Actor, transferID string) (*dto.TransferResponse, error)

	// CancelTransfer abandons a transfer before execution
	CancelTransfer(ctx context.Context, actor domain.Actor, transferID, reason string) (*dto.TransferResponse, error)

	// GetTransfer retrieves the current state of a transfer
	GetTransfer(ctx context.Context, transferID string) (*dto.TransferResponse, error)

	// GetProperty reads a property, ledger first
	GetProperty(ctx context.Context, propertyID string) (*property.View, error)

	// GetOwnershipHistory returns the provenance chain of a property
	GetOwnershipHistory(ctx context.Context, propertyID string) (*dto.OwnershipHistoryResponse, error)

	// VerifyAnchor checks the public commitment covering a property
	VerifyAnchor(ctx context.Context, propertyID string) (*dto.AnchorVerificationResponse, error)

	// VerifyAuditChain replays one audit scope
	VerifyAuditChain(ctx context.Context, actor domain.Actor, resourceType domain.AuditResourceType) (*dto.ChainVerificationResponse, error)

	// CreateWebhookClient registers a notification subscriber
	CreateWebhookClient(ctx context.Context, organization, webhookURL string, eventFilters []string, retryMaxAttempts int) (*dto.CreateWebhookClientResponse, error)
}

type executor struct {
	transfers transfer.Service
	reader    property.Reader
	anchors   anchor.Service
	audit     audit.Service
	webhooks  store.WebhookStore
	json      adapter.JSON
}

// NewExecutor creates the executor shared by the REST handlers
func NewExecutor(transfers transfer.Service, reader property.Reader, anchors anchor.Service, auditSvc audit.Service, webhooks store.WebhookStore, json adapter.JSON) Executor {
	return &executor{
		transfers: transfers,
		reader:    reader,
		anchors:   anchors,
		audit:     auditSvc,
		webhooks:  webhooks,
		json:      json,
	}
}

func (e *executor) InitiateTransfer(ctx context.Context, actor domain.Actor, req dto.InitiateTransferRequest) (*dto.TransferResponse, error) {
	t, err := e.transfers.Initiate(ctx, actor, transfer.InitiateRequest{
		PropertyID:    req.PropertyID,
		SellerHash:    req.SellerHash,
		BuyerHash:     req.BuyerHash,
		BuyerName:     req.BuyerName,
		SaleAmount:    req.SaleAmount,
		WitnessHashes: req.WitnessHashes,
	})
	if err != nil {
		return nil, err
	}
	return dto.MapTransferToDTO(t), nil
}

func (e *executor) ConfirmStampDuty(ctx context.Context, actor domain.Actor, transferID, receiptHash string) (*dto.TransferResponse, error) {
	t, err := e.transfers.ConfirmStampDuty(ctx, actor, transferID, receiptHash)
	if err != nil {
		return nil, err
	}
	return dto.MapTransferToDTO(t), nil
}

func (e *executor) SubmitSignature(ctx context.Context, actor domain.Actor, transferID string, signatory domain.Signatory, proof string) (*dto.TransferResponse, error) {
	t, err := e.transfers.SubmitSignature(ctx, actor, transferID, signatory, proof)
	if err != nil {
		return nil, err
	}
	return dto.MapTransferToDTO(t), nil
}

func (e *executor) ExecuteTransfer(ctx context.Context, actor domain.Actor, transferID string) (*dto.TransferResponse, error) {
	t, err := e.transfers.Execute(ctx, actor, transferID)
	if err != nil {
		return nil, err
	}
	return dto.MapTransferToDTO(t), nil
}

func (e *executor) FileObjection(ctx context.Context, actor domain.Actor, transferID, reason string) (*dto.TransferResponse, error) {
	t, err := e.transfers.FileObjection(ctx, actor, transferID, reason)
	if err != nil {
		return nil, err
	}
	return dto.MapTransferToDTO(t), nil
}

func (e *executor) FinalizeTransfer(ctx context.Context, actor domain.Actor, transferID string) (*dto.TransferResponse, error) {
	t, err := e.transfers.Finalize(ctx, actor, transferID)
	if err != nil {
		return nil, err
	}
	return dto.MapTransferToDTO(t), nil
}

func (e *executor) CancelTransfer(ctx context.Context, actor domain.Actor, transferID, reason string) (*dto.TransferResponse, error) {
	t, err := e.transfers.Cancel(ctx, actor, transferID, reason)
	if err != nil {
		return nil, err
	}
	return dto.MapTransferToDTO(t), nil
}

func (e *executor) GetTransfer(ctx context.Context, transferID string) (*dto.TransferResponse, error) {
	t, err := e.transfers.GetTransferStatus(ctx, transferID)
	if err != nil {
		return nil, err
	}
	return dto.MapTransferToDTO(t), nil
}

func (e *executor) GetProperty(ctx context.Context, propertyID string) (*property.View, error) {
	return e.reader.GetProperty(ctx, propertyID)
}

func (e *executor) GetOwnershipHistory(ctx context.Context, propertyID string) (*dto.OwnershipHistoryResponse, error) {
	entries, err := e.reader.GetOwnershipHistory(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	return dto.MapOwnershipHistoryToDTO(propertyID, entries), nil
}

func (e *executor) VerifyAnchor(ctx context.Context, propertyID string) (*dto.AnchorVerificationResponse, error) {
	id, err := domain.ParsePropertyID(propertyID)
	if err != nil {
		return nil, err
	}

	v, err := e.anchors.VerifyAnchor(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.MapVerificationToDTO(v), nil
}

func (e *executor) VerifyAuditChain(ctx context.Context, actor domain.Actor, resourceType domain.AuditResourceType) (*dto.ChainVerificationResponse, error) {
	if !actor.IsOfficial() {
		return nil, domain.Errorf(domain.CodeUnauthorized, "only officials may verify the audit chain")
	}

	switch resourceType {
	case domain.AuditResourceTransfer, domain.AuditResourceLand, domain.AuditResourceAnchor:
	default:
		return nil, apierrors.NewValidationError(fmt.Sprintf("unsupported resource type: %s", resourceType))
	}

	verified, err := e.audit.VerifyScope(ctx, resourceType)
	resp := &dto.ChainVerificationResponse{
		ResourceType:    string(resourceType),
		Valid:           err == nil,
		EntriesVerified: verified,
	}
	if err != nil {
		var v *audit.Violation
		if !errors.As(err, &v) {
			return nil, err
		}
		resp.BrokenEntryID = v.EntryID
		resp.BrokenSequence = v.Sequence
	}
	return resp, nil
}

func (e *executor) CreateWebhookClient(ctx context.Context, organization, webhookURL string, eventFilters []string, retryMaxAttempts int) (*dto.CreateWebhookClientResponse, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, apierrors.NewInternalError("Failed to generate webhook secret")
	}

	filters, err := e.json.Marshal(eventFilters)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event filters: %w", err)
	}

	client, err := e.webhooks.CreateWebhookClient(ctx, store.CreateWebhookClientInput{
		ClientID:         uuid.New().String(),
		Organization:     organization,
		WebhookURL:       webhookURL,
		WebhookSecret:    secret,
		EventFilters:     filters,
		IsActive:         true,
		RetryMaxAttempts: retryMaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook client: %w", err)
	}

	return &dto.CreateWebhookClientResponse{
		ClientID:         client.ClientID,
		Organization:     client.Organization,
		WebhookURL:       client.WebhookURL,
		WebhookSecret:    client.WebhookSecret,
		EventFilters:     eventFilters,
		IsActive:         client.IsActive,
		RetryMaxAttempts: client.RetryMaxAttempts,
		CreatedAt:        client.CreatedAt,
		UpdatedAt:        client.UpdatedAt,
	}, nil
}

// generateSecret returns 32 random bytes, hex encoded
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
