package registry

import (
	"context"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// Registry is the shared environment. Implementations serialize mutations
// and return copies.
type Registry interface {
	// Nest returns the nest centre.
	Nest() world.Vec2

	SeedFood(ctx context.Context, seeds []world.FoodSeed) error
	ListFood(ctx context.Context) ([]Food, error)
	// FoodWithin lists items whose squared distance to center is at most
	// radius².
	FoodWithin(ctx context.Context, center world.Vec2, radius float64) ([]Food, error)
	// ClaimFood removes the item and returns it. ok is false when another
	// robot claimed it first.
	ClaimFood(ctx context.Context, id FoodID) (food Food, ok bool, err error)

	// ListActivePheromones expires trails whose weight at now has decayed
	// to the threshold and returns the rest.
	ListActivePheromones(ctx context.Context, now float64) ([]Pheromone, error)
	AddPheromone(ctx context.Context, p Pheromone) (string, error)
	DeactivatePheromone(ctx context.Context, id string) error

	UpsertFidelity(ctx context.Context, robot string, pos world.Vec2) error
	EraseFidelity(ctx context.Context, robot string) error
	Fidelity(ctx context.Context, robot string) (world.Vec2, bool, error)

	ListQuarantineZones(ctx context.Context) ([]QuarantineZone, error)
	CreateZone(ctx context.Context, held Food, local []Food, radius float64, mode MergeMode) (ZoneID, error)

	Counts(ctx context.Context, now float64) (Counts, error)
	Close() error
}
