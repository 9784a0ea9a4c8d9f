package bindings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/cfdeploy/cfdeploy/pkg/content"
	"github.com/cfdeploy/cfdeploy/pkg/engine"
	"github.com/cfdeploy/cfdeploy/pkg/platform"
)

// DependencySeparator joins module and resource into a required dependency
// name.
const DependencySeparator = "#"

// DependencyName returns the key under which the archive index lists the
// parameter file of a module's dependency on a resource.
func DependencyName(module, resource string) string {
	return module + DependencySeparator + resource
}

// ArchiveIndex maps required dependency names to archive entries.
type ArchiveIndex map[string]string

// Archive locates an uploaded deployment archive.
type Archive struct {
	Space string       `json:"space"`
	ID    string       `json:"id"`
	Index ArchiveIndex `json:"index,omitempty"`
}

// MergeSafely returns a new map with the entries of base overlaid by those
// of override. The merge is shallow: a nested map in override replaces the
// one in base as a whole.
func MergeSafely(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	maps.Copy(out, base)
	maps.Copy(out, override)
	return out
}

// EqualParameters compares parameter maps structurally. Both sides are
// normalized through JSON so that numeric types and nil versus empty maps do
// not matter.
func EqualParameters(a, b map[string]any) bool {
	na, errA := normalize(a)
	nb, errB := normalize(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return reflect.DeepEqual(na, nb)
}

func normalize(m map[string]any) (any, error) {
	if len(m) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParameterSource resolves the binding parameters a deployment asks for.
type ParameterSource struct {
	content content.Provider
	maxSize int64
}

// NewParameterSource creates a source reading parameter files through
// provider. maxSize bounds each parameter file.
func NewParameterSource(provider content.Provider, maxSize int64) *ParameterSource {
	return &ParameterSource{content: provider, maxSize: maxSize}
}

// Desired returns the parameters for binding app to serviceName: the
// archive's parameter file for the dependency merged with the descriptor's
// inline parameters, inline winning. A service that is not declared has no
// parameters.
func (s *ParameterSource) Desired(ctx context.Context, archive Archive, app *Application, services []Service, serviceName string) (map[string]any, error) {
	svc, ok := FindService(services, serviceName)
	if !ok {
		return map[string]any{}, nil
	}
	resource := svc.Resource()

	fromFile, err := s.fileParameters(ctx, archive, DependencyName(app.ModuleName, resource))
	if err != nil {
		return nil, err
	}
	return MergeSafely(fromFile, app.BindingParameters[resource]), nil
}

func (s *ParameterSource) fileParameters(ctx context.Context, archive Archive, dependency string) (map[string]any, error) {
	entry := archive.Index[dependency]
	if entry == "" {
		return nil, nil
	}
	if s == nil || s.content == nil {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("archive %q references parameter file %q but no content provider is configured", archive.ID, entry), nil)
	}

	var params map[string]any
	err := s.content.ProcessFileContent(ctx, archive.Space, archive.ID, func(r io.ReaderAt, size int64) error {
		var err error
		params, err = content.ReadJSONEntry(r, size, entry, s.maxSize)
		return err
	})
	if err != nil {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("error retrieving content of required dependency %q", dependency), err)
	}
	return params, nil
}

// LiveParameters returns the parameters of the existing binding between app
// and serviceName. known is false when the platform cannot report binding
// parameters; that case is logged and is not an error. A binding that
// disappeared since app was read yields a concurrent modification error.
func LiveParameters(ctx context.Context, client platform.Client, app *platform.Application, serviceName string, logger zerolog.Logger) (params map[string]any, known bool, err error) {
	instance, err := client.GetServiceInstance(ctx, serviceName)
	if err != nil {
		return nil, false, err
	}
	bindings, err := client.GetServiceBindings(ctx, instance.GUID)
	if err != nil {
		return nil, false, err
	}
	logger.Debug().
		Str("app_guid", app.GUID).
		Str("service_guid", instance.GUID).
		Int("bindings", len(bindings)).
		Msg("Looking for service binding")

	var binding *platform.ServiceBinding
	for i := range bindings {
		if bindings[i].AppGUID == app.GUID {
			binding = &bindings[i]
			break
		}
	}
	if binding == nil {
		return nil, false, engine.NewConcurrentModificationError(app.Name, serviceName)
	}

	params, err = client.GetServiceBindingParameters(ctx, binding.GUID)
	if err != nil {
		if platform.IsUnsupported(err) {
			logger.Warn().Err(err).
				Msgf("Cannot retrieve parameters of binding between application %q and service instance %q", app.Name, serviceName)
			return nil, false, nil
		}
		return nil, false, err
	}
	return params, true, nil
}
