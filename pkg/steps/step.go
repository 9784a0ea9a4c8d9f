package steps

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cfdeploy/cfdeploy/pkg/engine"
	"github.com/cfdeploy/cfdeploy/pkg/telemetry"
)

// Step kinds.
const (
	KindCreateOrUpdateApplication = "create-or-update-app"
	KindDetermineBindUnbind       = "determine-bind-unbind"
	KindUnbindService             = "unbind-service"
	KindBindService               = "bind-service"
	KindDetermineServicesChanged  = "determine-services-changed"
	KindStopApplication           = "stop-app"
	KindStartApplication          = "start-app"
	KindExecuteHook               = "execute-hook"
	KindUpdateServiceKeys         = "update-service-keys"
	KindDeleteApplication         = "delete-app"
)

// Name builds a step instance name such as "bind-service[web/db]".
func Name(kind string, parts ...string) string {
	return fmt.Sprintf("%s[%s]", kind, strings.Join(parts, "/"))
}

// base carries the identity shared by all steps.
type base struct {
	d       *Deployment
	name    string
	kind    string
	timeout time.Duration
}

func newBase(d *Deployment, kind string, parts ...string) base {
	return base{d: d, name: Name(kind, parts...), kind: kind, timeout: d.Timeouts.For(kind)}
}

// Name implements engine.Step.
func (b base) Name() string { return b.name }

// Kind implements engine.Step.
func (b base) Kind() string { return b.kind }

// Timeout implements engine.Step.
func (b base) Timeout() time.Duration { return b.timeout }

func (b base) logger() zerolog.Logger {
	return telemetry.ForStep(b.d.Logger, b.d.ID, b.name)
}

// result maps err to a step result, naming the action that failed. The
// error keeps its class so retryable controller errors retry.
func result(err error, format string, args ...any) engine.Result {
	if err == nil {
		return engine.Done()
	}
	return engine.ResultFromError(engine.Wrap(err, fmt.Sprintf(format, args...)))
}

// failed reports a permanent failure that carries no underlying cause.
func failed(format string, args ...any) engine.Result {
	return engine.Failed(engine.NewPermanentError(fmt.Sprintf(format, args...), nil))
}
