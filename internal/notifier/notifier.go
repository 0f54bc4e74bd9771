// Package notifier defines the charge/cycle notification port. Failures
// here are logged and never block a billing transition.
package notifier

import "context"

type ChargeNotification struct {
	Token        string
	ChargeType   string
	Scope        string
	BillingMonth string
	GrossAmount  int64
}

type CycleNotification struct {
	CycleID             string
	Scope               string
	BillingMonth        string
	ChargeCount         int
	TotalOverage        int64
	TotalOperationalFee int64
}

type Notifier interface {
	ChargeCreated(ctx context.Context, n ChargeNotification) error
	CycleClosed(ctx context.Context, n CycleNotification) error
}
