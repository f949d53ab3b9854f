package types

// VaultBackend selects the memory vault implementation
type VaultBackend string

const (
	VaultBackendFile   VaultBackend = "file"
	VaultBackendMemory VaultBackend = "memory"
)

// AllVaultBackends returns all valid vault backends
func AllVaultBackends() []VaultBackend {
	return []VaultBackend{
		VaultBackendFile,
		VaultBackendMemory,
	}
}

// IsValid checks if the vault backend is valid
func (b VaultBackend) IsValid() bool {
	switch b {
	case VaultBackendFile,
		VaultBackendMemory:
		return true
	default:
		return false
	}
}

// String returns the string representation of the vault backend
func (b VaultBackend) String() string {
	return string(b)
}
