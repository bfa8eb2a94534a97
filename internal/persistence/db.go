// Package persistence provides the SQLite-backed environment registry.
// Claims and zone replacement run as single statements or transactions, so
// several robots stepping in parallel can never take the same food item.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// DB is a registry.Registry stored in SQLite.
type DB struct {
	conn      *sqlx.DB
	nest      world.Vec2
	threshold float64
}

var _ registry.Registry = (*DB)(nil)

// Open opens or creates a SQLite database at the given path. An existing
// file is wiped so every run starts from a fresh arena.
func Open(path string, nest world.Vec2, threshold float64) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; SQLite serializes anyway and this keeps
	// transactions from tripping over SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, nest: nest, threshold: threshold}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := db.reset(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reset: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS food (
		id INTEGER PRIMARY KEY,
		x REAL NOT NULL,
		y REAL NOT NULL,
		kind INTEGER NOT NULL,
		claimed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS pheromones (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		x REAL NOT NULL,
		y REAL NOT NULL,
		trail_json TEXT NOT NULL,
		created_at REAL NOT NULL,
		decay_rate REAL NOT NULL,
		strength REAL NOT NULL,
		fake INTEGER NOT NULL,
		active INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fidelity (
		robot TEXT PRIMARY KEY,
		x REAL NOT NULL,
		y REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS zones (
		id INTEGER PRIMARY KEY,
		cx REAL NOT NULL,
		cy REAL NOT NULL,
		radius REAL NOT NULL,
		foods_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_food_claimed ON food(claimed);
	CREATE INDEX IF NOT EXISTS idx_pheromones_active ON pheromones(active);
	`
	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) reset() error {
	_, err := db.conn.Exec(`
	DELETE FROM food;
	DELETE FROM pheromones;
	DELETE FROM fidelity;
	DELETE FROM zones;
	DELETE FROM run_meta;
	`)
	return err
}

// ── Rows ────────────────────────────────────────────────────────────────

type foodRow struct {
	ID   uint64  `db:"id"`
	X    float64 `db:"x"`
	Y    float64 `db:"y"`
	Kind uint8   `db:"kind"`
}

func (r foodRow) food() registry.Food {
	return registry.Food{
		ID:       registry.FoodID(r.ID),
		Location: world.Vec2{X: r.X, Y: r.Y},
		Kind:     registry.FoodKind(r.Kind),
	}
}

type pheromoneRow struct {
	ID        string  `db:"id"`
	X         float64 `db:"x"`
	Y         float64 `db:"y"`
	TrailJSON string  `db:"trail_json"`
	CreatedAt float64 `db:"created_at"`
	DecayRate float64 `db:"decay_rate"`
	Strength  float64 `db:"strength"`
	Fake      bool    `db:"fake"`
	Active    bool    `db:"active"`
}

func (r pheromoneRow) pheromone() (registry.Pheromone, error) {
	var trail []world.Vec2
	if err := json.Unmarshal([]byte(r.TrailJSON), &trail); err != nil {
		return registry.Pheromone{}, fmt.Errorf("decode trail of %s: %w", r.ID, err)
	}
	return registry.Pheromone{
		ID:        r.ID,
		Location:  world.Vec2{X: r.X, Y: r.Y},
		Trail:     trail,
		CreatedAt: r.CreatedAt,
		DecayRate: r.DecayRate,
		Strength:  r.Strength,
		Fake:      r.Fake,
		Active:    r.Active,
	}, nil
}

type zoneRow struct {
	ID        uint64  `db:"id"`
	CX        float64 `db:"cx"`
	CY        float64 `db:"cy"`
	Radius    float64 `db:"radius"`
	FoodsJSON string  `db:"foods_json"`
}

func (r zoneRow) zone() (registry.QuarantineZone, error) {
	var foods []registry.Food
	if err := json.Unmarshal([]byte(r.FoodsJSON), &foods); err != nil {
		return registry.QuarantineZone{}, fmt.Errorf("decode foods of zone %d: %w", r.ID, err)
	}
	return registry.QuarantineZone{
		ID:     registry.ZoneID(r.ID),
		Center: world.Vec2{X: r.CX, Y: r.CY},
		Radius: r.Radius,
		Foods:  foods,
	}, nil
}

// ── Food ────────────────────────────────────────────────────────────────

func (db *DB) Nest() world.Vec2 { return db.nest }

// SeedFood inserts generated items in one transaction.
func (db *DB) SeedFood(ctx context.Context, seeds []world.FoodSeed) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, "INSERT INTO food (x, y, kind) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, s := range seeds {
		kind := registry.FoodReal
		if s.Fake {
			kind = registry.FoodFake
		}
		if _, err := stmt.ExecContext(ctx, s.Location.X, s.Location.Y, kind); err != nil {
			return fmt.Errorf("insert food %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (db *DB) ListFood(ctx context.Context) ([]registry.Food, error) {
	var rows []foodRow
	if err := db.conn.SelectContext(ctx, &rows,
		"SELECT id, x, y, kind FROM food WHERE claimed = 0 ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list food: %w", err)
	}
	out := make([]registry.Food, len(rows))
	for i, r := range rows {
		out[i] = r.food()
	}
	return out, nil
}

// FoodWithin narrows with a bounding box in SQL and applies the exact
// radius test in Go.
func (db *DB) FoodWithin(ctx context.Context, center world.Vec2, radius float64) ([]registry.Food, error) {
	var rows []foodRow
	err := db.conn.SelectContext(ctx, &rows, `
		SELECT id, x, y, kind FROM food
		WHERE claimed = 0 AND x BETWEEN ? AND ? AND y BETWEEN ? AND ?
		ORDER BY id`,
		center.X-radius, center.X+radius, center.Y-radius, center.Y+radius)
	if err != nil {
		return nil, fmt.Errorf("food within: %w", err)
	}
	r2 := radius * radius
	var out []registry.Food
	for _, r := range rows {
		f := r.food()
		if f.Location.Sub(center).SquareLength() <= r2 {
			out = append(out, f)
		}
	}
	return out, nil
}

// ClaimFood flips the claimed flag only if it was clear; the affected row
// count tells the caller whether it won.
func (db *DB) ClaimFood(ctx context.Context, id registry.FoodID) (registry.Food, bool, error) {
	res, err := db.conn.ExecContext(ctx, "UPDATE food SET claimed = 1 WHERE id = ? AND claimed = 0", uint64(id))
	if err != nil {
		return registry.Food{}, false, fmt.Errorf("claim food %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return registry.Food{}, false, fmt.Errorf("claim food %d: %w", id, err)
	}
	if n == 0 {
		return registry.Food{}, false, nil
	}

	var row foodRow
	if err := db.conn.GetContext(ctx, &row, "SELECT id, x, y, kind FROM food WHERE id = ?", uint64(id)); err != nil {
		return registry.Food{}, false, fmt.Errorf("load claimed food %d: %w", id, err)
	}
	return row.food(), true, nil
}

// ── Pheromones ──────────────────────────────────────────────────────────

func (db *DB) ListActivePheromones(ctx context.Context, now float64) ([]registry.Pheromone, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var rows []pheromoneRow
	if err := tx.SelectContext(ctx, &rows, `
		SELECT id, x, y, trail_json, created_at, decay_rate, strength, fake, active
		FROM pheromones WHERE active = 1 ORDER BY seq`); err != nil {
		return nil, fmt.Errorf("list pheromones: %w", err)
	}

	var out []registry.Pheromone
	for _, r := range rows {
		p, err := r.pheromone()
		if err != nil {
			return nil, err
		}
		if p.Expired(now, db.threshold) {
			if _, err := tx.ExecContext(ctx, "UPDATE pheromones SET active = 0 WHERE id = ?", p.ID); err != nil {
				return nil, fmt.Errorf("expire pheromone %s: %w", p.ID, err)
			}
			continue
		}
		out = append(out, p)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (db *DB) AddPheromone(ctx context.Context, p registry.Pheromone) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	trail, err := json.Marshal(p.Trail)
	if err != nil {
		return "", fmt.Errorf("encode trail: %w", err)
	}
	_, err = db.conn.NamedExecContext(ctx, `
		INSERT INTO pheromones (id, x, y, trail_json, created_at, decay_rate, strength, fake, active)
		VALUES (:id, :x, :y, :trail_json, :created_at, :decay_rate, :strength, :fake, :active)`,
		pheromoneRow{
			ID:        p.ID,
			X:         p.Location.X,
			Y:         p.Location.Y,
			TrailJSON: string(trail),
			CreatedAt: p.CreatedAt,
			DecayRate: p.DecayRate,
			Strength:  p.Strength,
			Fake:      p.Fake,
			Active:    true,
		})
	if err != nil {
		return "", fmt.Errorf("insert pheromone: %w", err)
	}
	return p.ID, nil
}

func (db *DB) DeactivatePheromone(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, "UPDATE pheromones SET active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deactivate pheromone %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("deactivate pheromone %s: %w", id, registry.ErrNotFound)
	}
	return nil
}

// ── Site fidelity ───────────────────────────────────────────────────────

func (db *DB) UpsertFidelity(ctx context.Context, robot string, pos world.Vec2) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO fidelity (robot, x, y) VALUES (?, ?, ?)", robot, pos.X, pos.Y)
	if err != nil {
		return fmt.Errorf("upsert fidelity %s: %w", robot, err)
	}
	return nil
}

func (db *DB) EraseFidelity(ctx context.Context, robot string) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM fidelity WHERE robot = ?", robot); err != nil {
		return fmt.Errorf("erase fidelity %s: %w", robot, err)
	}
	return nil
}

func (db *DB) Fidelity(ctx context.Context, robot string) (world.Vec2, bool, error) {
	var pos world.Vec2
	err := db.conn.QueryRowxContext(ctx, "SELECT x, y FROM fidelity WHERE robot = ?", robot).Scan(&pos.X, &pos.Y)
	if errors.Is(err, sql.ErrNoRows) {
		return world.Vec2{}, false, nil
	}
	if err != nil {
		return world.Vec2{}, false, fmt.Errorf("get fidelity %s: %w", robot, err)
	}
	return pos, true, nil
}

// ── Quarantine zones ────────────────────────────────────────────────────

func (db *DB) ListQuarantineZones(ctx context.Context) ([]registry.QuarantineZone, error) {
	return listZones(ctx, db.conn)
}

func listZones(ctx context.Context, q sqlx.QueryerContext) ([]registry.QuarantineZone, error) {
	var rows []zoneRow
	if err := sqlx.SelectContext(ctx, q, &rows,
		"SELECT id, cx, cy, radius, foods_json FROM zones ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	out := make([]registry.QuarantineZone, 0, len(rows))
	for _, r := range rows {
		z, err := r.zone()
		if err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, nil
}

// CreateZone replaces merged zones and inserts the new one atomically.
func (db *DB) CreateZone(ctx context.Context, held registry.Food, local []registry.Food, radius float64, mode registry.MergeMode) (registry.ZoneID, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	existing, err := listZones(ctx, tx)
	if err != nil {
		return 0, err
	}
	var next uint64
	if err := tx.GetContext(ctx, &next, "SELECT COALESCE(MAX(id), 0) + 1 FROM zones"); err != nil {
		return 0, fmt.Errorf("next zone id: %w", err)
	}

	zone, replaced := registry.BuildZone(registry.ZoneID(next), held, local, radius, mode, existing)
	for _, id := range replaced {
		if _, err := tx.ExecContext(ctx, "DELETE FROM zones WHERE id = ?", uint64(id)); err != nil {
			return 0, fmt.Errorf("replace zone %d: %w", id, err)
		}
	}

	foods, err := json.Marshal(zone.Foods)
	if err != nil {
		return 0, fmt.Errorf("encode zone foods: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO zones (id, cx, cy, radius, foods_json) VALUES (?, ?, ?, ?, ?)",
		next, zone.Center.X, zone.Center.Y, zone.Radius, string(foods)); err != nil {
		return 0, fmt.Errorf("insert zone: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if len(replaced) > 0 {
		slog.Debug("quarantine zones merged", "zone", zone.ID, "replaced", len(replaced))
	}
	return zone.ID, nil
}

// ── Summary and metadata ────────────────────────────────────────────────

func (db *DB) Counts(ctx context.Context, now float64) (registry.Counts, error) {
	var c registry.Counts
	if err := db.conn.GetContext(ctx, &c.Food, "SELECT COUNT(*) FROM food WHERE claimed = 0"); err != nil {
		return c, fmt.Errorf("count food: %w", err)
	}
	if err := db.conn.GetContext(ctx, &c.FakeFood,
		"SELECT COUNT(*) FROM food WHERE claimed = 0 AND kind = ?", registry.FoodFake); err != nil {
		return c, fmt.Errorf("count fake food: %w", err)
	}
	if err := db.conn.GetContext(ctx, &c.Fidelity, "SELECT COUNT(*) FROM fidelity"); err != nil {
		return c, fmt.Errorf("count fidelity: %w", err)
	}
	if err := db.conn.GetContext(ctx, &c.Zones, "SELECT COUNT(*) FROM zones"); err != nil {
		return c, fmt.Errorf("count zones: %w", err)
	}

	var rows []pheromoneRow
	if err := db.conn.SelectContext(ctx, &rows, `
		SELECT id, x, y, trail_json, created_at, decay_rate, strength, fake, active
		FROM pheromones WHERE active = 1`); err != nil {
		return c, fmt.Errorf("count pheromones: %w", err)
	}
	for _, r := range rows {
		p := registry.Pheromone{CreatedAt: r.CreatedAt, DecayRate: r.DecayRate, Strength: r.Strength, Active: true}
		if !p.Expired(now, db.threshold) {
			c.ActivePheromones++
		}
	}
	return c, nil
}

// SaveMeta stores a key-value pair describing the run.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO run_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a run metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM run_meta WHERE key = ?", key)
	return value, err
}
