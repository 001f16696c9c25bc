package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
	client "github.com/mamadbah2/bloodbank/pkg/clients/alerts"
)

type stubClient struct {
	sent []client.Message
	err  error
}

func (s *stubClient) Post(_ context.Context, msg client.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

var raised = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func stockAlert(at time.Time, health models.StockHealth) models.Notification {
	return models.Notification{
		Kind:      models.NotifyStockAlert,
		BloodType: models.BloodTypeONeg,
		Health:    health,
		Previous:  models.StockSurplus,
		Available: 4,
		Message:   "O- stock is low",
		RaisedAt:  at,
	}
}

func TestWebhookNotifierSuppressesRepeatedStockAlerts(t *testing.T) {
	stub := &stubClient{}
	svc := NewWebhookNotifier(stub, NewCooldown(30*time.Minute), nil)
	ctx := context.Background()

	require.NoError(t, svc.Notify(ctx, stockAlert(raised, models.StockLow)))
	require.NoError(t, svc.Notify(ctx, stockAlert(raised.Add(10*time.Minute), models.StockLow)))
	require.NoError(t, svc.Notify(ctx, stockAlert(raised.Add(10*time.Minute), models.StockCritical)))
	require.NoError(t, svc.Notify(ctx, stockAlert(raised.Add(45*time.Minute), models.StockLow)))

	require.Len(t, stub.sent, 3)
	assert.Equal(t, "low", stub.sent[0].Health)
	assert.Equal(t, "surplus", stub.sent[0].Labels["previous"])
	assert.Equal(t, "critical", stub.sent[1].Health)
}

func TestWebhookNotifierDoesNotThrottleOtherKinds(t *testing.T) {
	stub := &stubClient{}
	svc := NewWebhookNotifier(stub, NewCooldown(time.Hour), nil)
	note := models.Notification{
		Kind:     models.NotifyUnitsExpired,
		Count:    3,
		ByType:   map[models.BloodType]int{models.BloodTypeAPos: 3},
		Message:  "3 unit(s) expired",
		RaisedAt: raised,
	}
	require.NoError(t, svc.Notify(context.Background(), note))
	require.NoError(t, svc.Notify(context.Background(), note))
	require.Len(t, stub.sent, 2)
	assert.Equal(t, map[string]int{"A+": 3}, stub.sent[0].Counts)
}

func TestWebhookNotifierWrapsClientError(t *testing.T) {
	svc := NewWebhookNotifier(&stubClient{err: errors.New("timeout")}, nil, nil)
	err := svc.Notify(context.Background(), stockAlert(raised, models.StockLow))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stock_alert")
}

func TestMultiCallsEveryNotifier(t *testing.T) {
	failing := NewWebhookNotifier(&stubClient{err: errors.New("down")}, nil, nil)
	ok := &stubClient{}
	multi := Multi{failing, NewLogNotifier(nil), NewWebhookNotifier(ok, nil, nil)}

	err := multi.Notify(context.Background(), stockAlert(raised, models.StockCritical))
	assert.Error(t, err)
	assert.Len(t, ok.sent, 1)
}
