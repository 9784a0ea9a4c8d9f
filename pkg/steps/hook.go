package steps

import (
	"context"
	"fmt"

	"github.com/cfdeploy/cfdeploy/pkg/engine"
	"github.com/cfdeploy/cfdeploy/pkg/hooks"
	"github.com/cfdeploy/cfdeploy/pkg/platform"
)

// ExecuteHook runs a task hook in the application's environment and polls
// the task until it finishes. Hooks anchored around stop and start only run
// when the application is restarted.
type ExecuteHook struct {
	base
	app        string
	invocation hooks.Invocation

	// Always runs the hook regardless of changes.
	Always bool
}

// NewExecuteHook creates the step running inv for app.
func NewExecuteHook(d *Deployment, app string, inv hooks.Invocation) *ExecuteHook {
	return &ExecuteHook{
		base:       newBase(d, KindExecuteHook, app, inv.Hook.Name, string(inv.Phase)),
		app:        app,
		invocation: inv,
	}
}

// Execute implements engine.Step.
func (s *ExecuteHook) Execute(ctx context.Context) engine.Result {
	logger := s.logger()
	hook := s.invocation.Hook
	scope := s.d.stepScope(s.name)

	client, err := s.d.Client(ctx, logger)
	if err != nil {
		return engine.ResultFromError(err)
	}

	guid, err := engine.GetVariable(ctx, s.d.Store, scope, VarTaskGUID)
	if err != nil {
		return engine.Retry(err)
	}
	if guid != "" {
		return s.poll(ctx, client, guid)
	}

	if !s.Always {
		needed, err := restartNeeded(ctx, s.d, s.app)
		if err != nil {
			return engine.Retry(err)
		}
		if !needed {
			logger.Info().Msgf("Application %q is unchanged, skipping hook %q", s.app, hook.Name)
			return engine.Done()
		}
	}

	if hook.Command() == "" {
		return engine.Failed(engine.NewPermanentError(
			fmt.Sprintf("hook %q of application %q has no command", hook.Name, s.app), nil).
			WithCode(engine.ErrCodeValidation))
	}
	logger.Info().Str("phase", string(s.invocation.Phase)).Msgf("Executing hook %q of application %q", hook.Name, s.app)
	task, err := client.RunTask(ctx, s.app, platform.Task{Name: hook.TaskName(), Command: hook.Command()})
	if err != nil {
		return result(err, "could not execute hook %q of application %q", hook.Name, s.app)
	}
	if err := engine.SetVariable(ctx, s.d.Store, scope, VarTaskGUID, task.GUID); err != nil {
		return engine.Retry(err)
	}
	return engine.Poll()
}

func (s *ExecuteHook) poll(ctx context.Context, client platform.Client, guid string) engine.Result {
	hook := s.invocation.Hook
	task, err := client.GetTask(ctx, guid)
	if err != nil {
		return result(err, "could not read task of hook %q", hook.Name)
	}
	switch task.State {
	case platform.TaskSucceeded:
		logger := s.logger()
		logger.Info().Msgf("Hook %q of application %q completed", hook.Name, s.app)
		return engine.Done()
	case platform.TaskFailed:
		return engine.Failed(engine.NewPermanentError(
			fmt.Sprintf("hook %q of application %q failed", hook.Name, s.app), nil).
			WithApplication(s.app).WithDetail("task", guid))
	default:
		return engine.Poll()
	}
}
