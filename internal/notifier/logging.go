package notifier

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type logNotifier struct {
	log *zap.Logger
}

type LogNotifierParam struct {
	fx.In

	Log *zap.Logger
}

// NewLogNotifier returns a notifier that writes structured log lines
// instead of calling an email/webhook collaborator.
func NewLogNotifier(p LogNotifierParam) Notifier {
	return &logNotifier{log: p.Log.Named("notifier.log")}
}

func (n *logNotifier) ChargeCreated(ctx context.Context, notification ChargeNotification) error {
	n.log.Info("charge created",
		zap.String("token", notification.Token),
		zap.String("charge_type", notification.ChargeType),
		zap.String("scope", notification.Scope),
		zap.String("billing_month", notification.BillingMonth),
		zap.Int64("gross_amount", notification.GrossAmount),
	)
	return nil
}

func (n *logNotifier) CycleClosed(ctx context.Context, notification CycleNotification) error {
	n.log.Info("billing cycle closed",
		zap.String("cycle_id", notification.CycleID),
		zap.String("scope", notification.Scope),
		zap.String("billing_month", notification.BillingMonth),
		zap.Int("charges", notification.ChargeCount),
		zap.Int64("total_overage", notification.TotalOverage),
		zap.Int64("total_operational_fee", notification.TotalOperationalFee),
	)
	return nil
}
