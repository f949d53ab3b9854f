package types_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/titan/pkg/domain/types"
)

func TestRole_Validate(t *testing.T) {
	tests := []struct {
		name    string
		role    types.Role
		wantErr bool
	}{
		{"prime", "Prime", false},
		{"with digits", "Relay2", false},
		{"hyphenated", "edge-node", false},
		{"underscored", "edge_node", false},
		{"empty", "", true},
		{"path separator", "../Prime", true},
		{"spaces", "Prime Node", true},
		{"trailing hyphen", "Prime-", true},
		{"double underscore", "edge__node", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.role.Validate()
			if tt.wantErr {
				gt.Value(t, err).NotNil()
			} else {
				gt.NoError(t, err)
			}
		})
	}
}

func TestEvolutionMode_IsValid(t *testing.T) {
	gt.Bool(t, types.EvolutionModeSteady.IsValid()).True()
	gt.Bool(t, types.EvolutionModeEvolving.IsValid()).True()
	gt.Bool(t, types.EvolutionMode("").IsValid()).False()
	gt.Bool(t, types.EvolutionMode("dormant").IsValid()).False()
	gt.Value(t, types.EvolutionModeEvolving.String()).Equal("evolving")
}

func TestVaultBackend_IsValid(t *testing.T) {
	for _, b := range types.AllVaultBackends() {
		gt.Bool(t, b.IsValid()).True()
	}
	gt.Array(t, types.AllVaultBackends()).Length(2)
	gt.Bool(t, types.VaultBackend("firestore").IsValid()).False()
	gt.Value(t, types.VaultBackendFile.String()).Equal("file")
}
