package alert

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ppiankov/trustgate/internal/audit"
)

// sendBudget bounds one event's delivery, retries included.
const sendBudget = 30 * time.Second

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs []Config
	log     *slog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty; a nil Dispatcher ignores every event.
func NewDispatcher(configs []Config, logger *slog.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{configs: configs, log: logger}
}

// Dispatch sends the event to all webhooks whose Events list names its
// decision. Sends run in the background; Wait blocks until they finish.
func (d *Dispatcher) Dispatch(event Event) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if !slices.Contains(cfg.Events, event.Decision) {
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendBudget)
			defer cancel()
			if err := Send(ctx, cfg, event); err != nil {
				d.log.Warn("alert webhook failed", "url", cfg.URL, "action_id", event.ActionID, "error", err)
			}
		}()
	}
}

// DispatchRecord is Dispatch for a committed audit record.
func (d *Dispatcher) DispatchRecord(rec audit.Record) {
	if d == nil {
		return
	}
	d.Dispatch(EventFromRecord(rec))
}

// Wait blocks until every dispatched send has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
