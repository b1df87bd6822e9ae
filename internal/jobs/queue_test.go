package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/jobs"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/mocks"
	"github.com/bhulekhchain/title-registry/internal/outbox"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
	"github.com/bhulekhchain/title-registry/internal/webhook"
	"github.com/bhulekhchain/title-registry/internal/workflows"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func setupQueue(t *testing.T) (outbox.Queue, *mocks.MockTemporalOrchestrator) {
	ctrl := gomock.NewController(t)
	orchestrator := mocks.NewMockTemporalOrchestrator(ctrl)
	q := jobs.NewQueue(jobs.Config{TaskQueue: "title-registry"}, orchestrator, adapter.NewJSON())
	return q, orchestrator
}

func TestQueue_AnchorTrigger(t *testing.T) {
	q, orchestrator := setupQueue(t)

	trigger := domain.AnchorTrigger{Scope: "AP", TxID: "tx-1", PropertyID: "AP-GNT-TNL-SKM-142-3"}
	payload, _ := json.Marshal(trigger)

	orchestrator.EXPECT().
		SignalWithStartWorkflow(gomock.Any(), "anchor-AP", workflows.SignalAnchorTrigger, trigger, gomock.Any(), gomock.Any(), trigger).
		DoAndReturn(func(_ context.Context, _ string, _ string, _ interface{}, opts client.StartWorkflowOptions, _ interface{}, _ ...interface{}) (client.WorkflowRun, error) {
			assert.Equal(t, "anchor-AP", opts.ID)
			assert.Equal(t, "title-registry", opts.TaskQueue)
			return nil, nil
		})

	require.NoError(t, q.Enqueue(context.Background(), schema.OutboxTopicAnchorTrigger, "outbox-1", payload))
}

func TestQueue_AnchorTriggerWithoutScope(t *testing.T) {
	q, _ := setupQueue(t)

	err := q.Enqueue(context.Background(), schema.OutboxTopicAnchorTrigger, "outbox-1", []byte(`{"tx_id":"tx-1"}`))
	require.Error(t, err)
	assert.True(t, domain.IsValidationClass(err))
}

func TestQueue_AnchorTriggerTemporalDown(t *testing.T) {
	q, orchestrator := setupQueue(t)

	orchestrator.EXPECT().
		SignalWithStartWorkflow(gomock.Any(), "anchor-MH", gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("connection refused"))

	err := q.Enqueue(context.Background(), schema.OutboxTopicAnchorTrigger, "outbox-1", []byte(`{"scope":"MH"}`))
	require.Error(t, err)
	assert.False(t, domain.IsValidationClass(err))
}

func TestQueue_TransferNotify(t *testing.T) {
	q, orchestrator := setupQueue(t)

	event := webhook.WebhookEvent{
		EventID:   "01JG8XAMPLE1234567890123456",
		EventType: webhook.EventTypeTransferFinalized,
		Timestamp: time.Date(2026, 7, 4, 8, 0, 0, 0, time.UTC),
		Data: webhook.EventData{
			TransferID: "TRF-0001",
			PropertyID: "AP-GNT-TNL-SKM-142-3",
			Status:     domain.TransferStatusRegisteredFinal,
		},
	}
	payload, _ := json.Marshal(event)

	orchestrator.EXPECT().
		ExecuteWorkflow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, opts client.StartWorkflowOptions, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
			assert.Equal(t, "webhook-notify-outbox-7", opts.ID)
			assert.Equal(t, enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE, opts.WorkflowIDReusePolicy)
			require.Len(t, args, 1)
			got := args[0].(webhook.WebhookEvent)
			assert.Equal(t, "TRF-0001", got.Data.TransferID)
			return nil, nil
		})

	require.NoError(t, q.Enqueue(context.Background(), schema.OutboxTopicTransferNotify, "outbox-7", payload))
}

func TestQueue_TransferNotifyAlreadyStarted(t *testing.T) {
	q, orchestrator := setupQueue(t)

	orchestrator.EXPECT().
		ExecuteWorkflow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, serviceerror.NewWorkflowExecutionAlreadyStarted("already started", "", ""))

	err := q.Enqueue(context.Background(), schema.OutboxTopicTransferNotify, "outbox-7", []byte(`{"event_id":"e1","event_type":"transfer.cancelled"}`))
	require.NoError(t, err)
}

func TestQueue_UnknownTopic(t *testing.T) {
	q, _ := setupQueue(t)

	err := q.Enqueue(context.Background(), schema.OutboxTopicAuditAppend, "outbox-1", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, domain.IsValidationClass(err))
}
