package persistence

import (
	"fmt"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// NewRegistry opens the registry backend named by kind.
func NewRegistry(kind, sqlitePath string, nest world.Vec2, threshold float64) (registry.Registry, error) {
	switch kind {
	case "", "memory":
		return registry.NewMemory(nest, threshold), nil
	case "sqlite":
		return Open(sqlitePath, nest, threshold)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

// MetaWriter is implemented by backends that record run metadata.
type MetaWriter interface {
	SaveMeta(key, value string) error
}

// SaveMetaIfSupported records key=value when the backend keeps metadata.
func SaveMetaIfSupported(reg registry.Registry, key, value string) error {
	w, ok := reg.(MetaWriter)
	if !ok {
		return nil
	}
	return w.SaveMeta(key, value)
}
