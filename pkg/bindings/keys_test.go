package bindings

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cfdeploy/cfdeploy/pkg/platform"
)

func key(name string, params map[string]any) platform.ServiceKey {
	return platform.ServiceKey{Name: name, ServiceName: "db", Parameters: params}
}

func TestDiffServiceKeys(t *testing.T) {
	existing := []platform.ServiceKey{
		key("reader", map[string]any{"role": "read"}),
		key("writer", map[string]any{"role": "write"}),
		key("legacy", nil),
	}
	desired := []platform.ServiceKey{
		key("reader", map[string]any{"role": "read"}),
		key("writer", map[string]any{"role": "admin"}),
		key("backup", nil),
	}

	tests := []struct {
		name      string
		canDelete bool
		want      KeyActions
	}{
		{
			name:      "deletion allowed",
			canDelete: true,
			want: KeyActions{
				Create: []platform.ServiceKey{desired[2]},
				Update: []platform.ServiceKey{desired[1]},
				Delete: []platform.ServiceKey{existing[2]},
			},
		},
		{
			name: "deletion not allowed",
			want: KeyActions{
				Create:  []platform.ServiceKey{desired[2]},
				Skipped: []platform.ServiceKey{existing[1], existing[2]},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DiffServiceKeys(desired, existing, tt.canDelete))
		})
	}
}

func TestDiffServiceKeys_NoChanges(t *testing.T) {
	keys := []platform.ServiceKey{key("reader", map[string]any{"role": "read"})}
	actions := DiffServiceKeys(keys, keys, true)
	assert.True(t, actions.Empty())
	assert.True(t, DiffServiceKeys(nil, nil, false).Empty())
}
