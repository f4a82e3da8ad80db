package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// SubscriptionRenewer drives periodic subscription renewal on a cron
// schedule.
type SubscriptionRenewer struct {
	manager *Manager
	cron    *cron.Cron
	spec    string
}

func NewSubscriptionRenewer(manager *Manager, spec string) *SubscriptionRenewer {
	return &SubscriptionRenewer{
		manager: manager,
		cron:    cron.New(),
		spec:    spec,
	}
}

func (r *SubscriptionRenewer) Start() error {
	_, err := r.cron.AddFunc(r.spec, func() {
		ctx := context.Background()
		slog.InfoContext(ctx, "subscription renewal sweep starting")
		r.manager.RenewExpiring(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule renewal: %w", err)
	}
	r.cron.Start()
	slog.Info("subscription renewer started", "spec", r.spec)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (r *SubscriptionRenewer) Stop() {
	<-r.cron.Stop().Done()
}
