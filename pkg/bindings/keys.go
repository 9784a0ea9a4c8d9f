package bindings

import "github.com/cfdeploy/cfdeploy/pkg/platform"

// KeyActions lists the service key changes needed to reach the desired keys.
type KeyActions struct {
	Create []platform.ServiceKey
	Delete []platform.ServiceKey

	// Update holds desired keys whose parameters changed. They are deleted
	// and created again.
	Update []platform.ServiceKey

	// Skipped holds existing keys that should be deleted or updated but
	// deletion is not allowed.
	Skipped []platform.ServiceKey
}

// Empty reports whether nothing needs to change.
func (a KeyActions) Empty() bool {
	return len(a.Create) == 0 && len(a.Delete) == 0 && len(a.Update) == 0
}

// DiffServiceKeys compares desired and existing keys of one service instance
// by name. Desired order is kept for creations and updates, existing order
// for deletions.
func DiffServiceKeys(desired, existing []platform.ServiceKey, canDelete bool) KeyActions {
	var actions KeyActions

	byName := make(map[string]platform.ServiceKey, len(existing))
	for _, k := range existing {
		byName[k.Name] = k
	}
	wanted := make(map[string]bool, len(desired))

	for _, k := range desired {
		wanted[k.Name] = true
		cur, ok := byName[k.Name]
		switch {
		case !ok:
			actions.Create = append(actions.Create, k)
		case EqualParameters(cur.Parameters, k.Parameters):
		case canDelete:
			actions.Update = append(actions.Update, k)
		default:
			actions.Skipped = append(actions.Skipped, cur)
		}
	}

	for _, k := range existing {
		if wanted[k.Name] {
			continue
		}
		if canDelete {
			actions.Delete = append(actions.Delete, k)
		} else {
			actions.Skipped = append(actions.Skipped, k)
		}
	}
	return actions
}
