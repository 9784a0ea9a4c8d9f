package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cfdeploy/cfdeploy/pkg/clients"
	"github.com/cfdeploy/cfdeploy/pkg/deploy"
	"github.com/cfdeploy/cfdeploy/pkg/performance"
	"github.com/cfdeploy/cfdeploy/pkg/scheduler"
	"github.com/cfdeploy/cfdeploy/pkg/steps"
	"github.com/cfdeploy/cfdeploy/pkg/stores"
	"github.com/cfdeploy/cfdeploy/pkg/telemetry"
)

// targetFlags selects the user and space a deployment runs against.
type targetFlags struct {
	descriptor string
	id         string
	user       string
	org        string
	space      string
	spaceID    string
	token      string
	undeploy   []string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.descriptor, "file", "f", "", "deployment descriptor file")
	cmd.Flags().StringVar(&f.id, "id", "", "deployment ID (default: descriptor ID)")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "user the deployment runs as")
	cmd.Flags().StringVarP(&f.org, "org", "o", "", "target organization")
	cmd.Flags().StringVarP(&f.space, "space", "s", "", "target space")
	cmd.Flags().StringVar(&f.spaceID, "space-id", "", "target space ID (instead of --org and --space)")
	cmd.Flags().StringVar(&f.token, "token", "", "access token for --user (default: $CFDEPLOY_TOKEN)")
	cmd.Flags().StringSliceVar(&f.undeploy, "undeploy", nil, "live applications to remove when absent from the descriptor")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("user")
}

func (f *targetFlags) validate() error {
	if f.spaceID == "" && (f.org == "" || f.space == "") {
		return errors.New("either --space-id or both --org and --space are required")
	}
	if f.token == "" {
		f.token = os.Getenv("CFDEPLOY_TOKEN")
	}
	return nil
}

func (f *targetFlags) key(correlationID string) clients.Key {
	if f.spaceID != "" {
		return clients.NewSpaceKey(f.user, f.spaceID, correlationID)
	}
	return clients.NewOrgSpaceKey(f.user, f.org, f.space, correlationID)
}

// planned is a flow ready to run together with what built it.
type planned struct {
	flow     *deploy.Flow
	registry *clients.Registry
	store    *stores.SQLiteStore
}

// prepare loads the descriptor, reads the live applications and plans the
// flow.
func prepare(ctx context.Context, a *app, f *targetFlags) (*planned, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	desc, err := deploy.LoadDescriptor(f.descriptor)
	if err != nil {
		return nil, err
	}
	if f.id != "" {
		desc.ID = f.id
	}
	if desc.ID == "" {
		desc.ID = uuid.NewString()
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	tokens, err := a.tokenStore(ctx, f.user, f.token)
	if err != nil {
		return nil, err
	}
	registry := a.clientRegistry(tokens)

	bindingEngine, err := a.bindingEngine(ctx)
	if err != nil {
		return nil, err
	}
	gate, err := a.policyGate(ctx)
	if err != nil {
		return nil, err
	}

	key := f.key(desc.ID)
	client, err := registry.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", key, err)
	}

	names := desc.ApplicationNames()
	for _, name := range f.undeploy {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	live, err := deploy.ReadLiveState(ctx, client, names...)
	if err != nil {
		return nil, err
	}

	d := &steps.Deployment{
		Key:      key,
		Clients:  registry,
		Store:    store,
		Bindings: bindingEngine,
		Gate:     gate,
		Recorder: performance.NewRecorder(),
		Session:  performance.NewSession(desc.ID),
		Timeouts: a.cfg.StepTimeouts(),
		Logger:   telemetry.Component(a.logger, "steps"),
		Metrics:  a.tel.Metrics,
		Tracer:   a.tel.Tracer,
	}

	flow, err := deploy.NewPlanner(nil).Plan(d, desc, live)
	if err != nil {
		return nil, err
	}

	return &planned{flow: flow, registry: registry, store: store}, nil
}

func newDeployCommand() *cobra.Command {
	var target targetFlags

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a descriptor",
		Long: `Deploy the applications of a descriptor as a flow of resumable steps.

Progress is stored per deployment ID. Running the same deployment again
skips completed steps and continues with the first unfinished one.`,
		Example: `  # Deploy into an org and space
  cfdeploy deploy -f deployment.yaml -u admin -o acme -s prod

  # Resume an interrupted deployment
  cfdeploy deploy -f deployment.yaml -u admin -o acme -s prod --id deploy-001

  # Remove an application that is no longer part of the descriptor
  cfdeploy deploy -f deployment.yaml -u admin -o acme -s prod --undeploy legacy-worker`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(context.WithoutCancel(ctx)); err != nil {
					log.Warn().Err(err).Msg("Failed to shut down cleanly")
				}
			}()

			p, err := prepare(ctx, a, &target)
			if err != nil {
				return err
			}
			id := p.flow.Deployment.ID

			// No-op unless telemetry.metrics is enabled
			if err := a.tel.Metrics.StartMetricsServer(ctx, a.logger); err != nil {
				return fmt.Errorf("failed to start metrics server: %w", err)
			}

			if err := p.store.StartDeployment(ctx, id, target.descriptor); err != nil {
				return err
			}

			report := a.scheduler(a.runner(p.store), p.registry).RunFlow(ctx, p.flow)

			completion := stores.Completion{
				Status:       completionStatus(report.Status),
				FailedStep:   report.FailedStep,
				PlatformTime: report.PlatformTime,
			}
			if report.Err != nil {
				completion.Error = report.Err.Error()
			}
			if err := p.store.CompleteDeployment(context.WithoutCancel(ctx), id, completion); err != nil {
				return err
			}

			if err := printReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Status != scheduler.StatusSucceeded {
				return fmt.Errorf("deployment %s %s at step %s: %w",
					id, report.Status, report.FailedStep, report.Err)
			}
			return nil
		},
	}

	target.register(cmd)

	return cmd
}

func completionStatus(s scheduler.Status) stores.DeploymentStatus {
	switch s {
	case scheduler.StatusSucceeded:
		return stores.DeploymentStatusSucceeded
	case scheduler.StatusCancelled:
		return stores.DeploymentStatusCancelled
	default:
		return stores.DeploymentStatusFailed
	}
}

func printReport(w io.Writer, r scheduler.Report) error {
	if jsonOutput {
		return printJSON(w, r)
	}

	fmt.Fprintf(w, "Deployment:      %s\n", r.DeploymentID)
	fmt.Fprintf(w, "Status:          %s\n", r.Status)
	fmt.Fprintf(w, "Steps completed: %d\n", r.StepsCompleted)
	if r.FailedStep != "" {
		fmt.Fprintf(w, "Failed step:     %s\n", r.FailedStep)
	}
	fmt.Fprintf(w, "Duration:        %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Controller time: %d ms\n", r.PlatformTime.Milliseconds())
	return nil
}
