package gerpsync

import (
	"context"
	"fmt"

	"github.com/datapilot-io/datapilot-ce/internal/gerpgo"
	"github.com/datapilot-io/datapilot-ce/internal/services/scheduler"
)

// JobPrefix namespaces every sync job in the registry.
const JobPrefix = "sync."

// RegisterJobs installs one "sync.<resource>" job per known Gerpgo
// resource. Task rows reference these names; anything else is rejected by
// the registry at task create time.
func RegisterJobs(registry *scheduler.Registry, orch *Orchestrator) error {
	for _, resource := range gerpgo.Resources() {
		resource := resource
		err := registry.Register(JobPrefix+resource, func(ctx context.Context, params map[string]any) (string, error) {
			summary, err := orch.Sync(ctx, resource, params)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("synced %s: %d page(s), %d record(s), %d upserted",
				summary.Resource, summary.Pages, summary.Records, summary.Upserted), nil
		})
		if err != nil {
			return fmt.Errorf("failed to register sync job for %s: %w", resource, err)
		}
	}
	return nil
}
