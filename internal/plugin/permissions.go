package plugin

import (
	"fmt"

	"lotus-md/internal/domain"
	"lotus-md/internal/plugin/wasm"
)

// ValidateCapabilities checks that every capability a WASM manifest requests
// is known, allowed and not denied.
func ValidateCapabilities(manifest domain.PluginManifest, allowed, denied []string) error {
	if manifest.WASM == nil {
		return nil
	}
	if err := wasm.ValidateCapabilities(manifest.WASM.Capabilities); err != nil {
		return err
	}

	denySet := make(map[string]bool, len(denied))
	for _, d := range denied {
		denySet[d] = true
	}
	allowSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowSet[a] = true
	}

	for _, c := range manifest.WASM.Capabilities {
		if denySet[c] {
			return fmt.Errorf("%w: plugin %q requests denied capability %q",
				domain.ErrPermissionDenied, manifest.Name, c)
		}
		// If an allow list is provided, only allow listed capabilities.
		if len(allowSet) > 0 && !allowSet[c] {
			return fmt.Errorf("%w: plugin %q requests unlisted capability %q",
				domain.ErrPermissionDenied, manifest.Name, c)
		}
	}
	return nil
}
