package hostpool

import (
	"context"
	"fmt"
	"time"

	"github.com/onecloudio/onemonitord/log"
)

const (
	bootstrapRetries  = 5
	bootstrapInterval = 2 * time.Second
)

// OrchestratorClient is the subset of the orchestrator's XML-RPC surface
// the pool needs to bootstrap itself. rpcclient.Client satisfies this
// structurally; the pool depends on the interface, not the package, so
// tests can supply a fake.
type OrchestratorClient interface {
	HostPoolInfo(ctx context.Context) (string, error)
}

// Bootstrap primes the pool by calling one.hostpool.info and installing
// every returned host. It retries up to bootstrapRetries times, 2 seconds
// apart; exhausting retries is a definitive, fatal failure — the caller
// should treat a non-nil error as reason to abort startup.
func (p *Pool) Bootstrap(ctx context.Context, client OrchestratorClient, logger *log.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= bootstrapRetries; attempt++ {
		xmlDoc, err := client.HostPoolInfo(ctx)
		if err == nil {
			n, perr := p.InsertPoolFromXML(xmlDoc)
			if perr != nil {
				lastErr = perr
			} else {
				logger.Info("host pool bootstrap complete", map[string]any{"hosts": n, "attempt": attempt})
				return nil
			}
		} else {
			lastErr = err
		}

		logger.Warn("host pool bootstrap attempt failed", map[string]any{
			"attempt": attempt, "error": lastErr.Error(),
		})

		if attempt < bootstrapRetries {
			select {
			case <-ctx.Done():
				return fmt.Errorf("hostpool: bootstrap canceled: %w", ctx.Err())
			case <-time.After(bootstrapInterval):
			}
		}
	}
	return fmt.Errorf("hostpool: bootstrap failed after %d attempts: %w", bootstrapRetries, lastErr)
}
