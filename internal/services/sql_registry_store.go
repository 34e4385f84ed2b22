package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"vssyl/internal/database"
	"vssyl/internal/models"
)

const metricsDayLayout = "2006-01-02"

// SQLRegistryStore implements Store on MySQL or SQLite
type SQLRegistryStore struct {
	db *database.DB
}

// NewSQLRegistryStore creates a SQL-backed registry store. The schema must
// already exist (database.DB.Initialize).
func NewSQLRegistryStore(db *database.DB) *SQLRegistryStore {
	return &SQLRegistryStore{db: db}
}

// Ping checks the database connection
func (s *SQLRegistryStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// upsertClause returns the dialect-specific conflict clause for the given key
// columns, turning each update column into "col = <expr>"
func (s *SQLRegistryStore) upsertClause(keys []string, set map[string]string) string {
	assignments := make([]string, 0, len(set))
	for _, col := range sortedKeys(set) {
		expr := set[col]
		if s.db.Dialect == database.DialectMySQL {
			expr = strings.ReplaceAll(expr, "excluded."+col, "VALUES("+col+")")
		}
		assignments = append(assignments, col+" = "+expr)
	}

	if s.db.Dialect == database.DialectMySQL {
		return " ON DUPLICATE KEY UPDATE " + strings.Join(assignments, ", ")
	}
	return " ON CONFLICT(" + strings.Join(keys, ", ") + ") DO UPDATE SET " + strings.Join(assignments, ", ")
}

// ═══════════════════════════════════════════════════════════════════════════
// REGISTRY ENTRIES
// ═══════════════════════════════════════════════════════════════════════════

const entryColumns = `module_id, module_name, version, purpose, category, keywords, concepts, patterns,
	context_providers, relationships, entities, actions, created_at, last_updated`

// GetEntry returns a registry entry by module id
func (s *SQLRegistryStore) GetEntry(ctx context.Context, moduleID string) (*models.ModuleContextEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM module_ai_context_registry WHERE module_id = ?`, moduleID)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get registry entry: %w", err)
	}
	return entry, true, nil
}

// ListEntries returns the entries for moduleIDs, or all entries when moduleIDs is nil
func (s *SQLRegistryStore) ListEntries(ctx context.Context, moduleIDs []string) ([]models.ModuleContextEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM module_ai_context_registry`
	var args []interface{}

	if moduleIDs != nil {
		if len(moduleIDs) == 0 {
			return []models.ModuleContextEntry{}, nil
		}
		query += ` WHERE module_id IN (` + placeholders(len(moduleIDs)) + `)`
		args = stringArgs(moduleIDs)
	}
	query += ` ORDER BY module_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list registry entries: %w", err)
	}
	defer rows.Close()

	entries := []models.ModuleContextEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registry entry: %w", err)
		}
		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

// ListEntryIDs returns the module id of every registry entry
func (s *SQLRegistryStore) ListEntryIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT module_id FROM module_ai_context_registry ORDER BY module_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list registry ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan registry id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// CreateEntry inserts a new registry entry
func (s *SQLRegistryStore) CreateEntry(ctx context.Context, entry *models.ModuleContextEntry) error {
	values, err := entryValues(entry)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO module_ai_context_registry (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, values...)
	if err != nil {
		return fmt.Errorf("failed to create registry entry: %w", err)
	}
	return nil
}

// UpdateEntry overwrites an existing registry entry
func (s *SQLRegistryStore) UpdateEntry(ctx context.Context, entry *models.ModuleContextEntry) error {
	values, err := entryValues(entry)
	if err != nil {
		return err
	}

	// entryValues starts with module_id; move it to the WHERE clause
	args := append(values[1:], values[0])

	_, err = s.db.ExecContext(ctx, `UPDATE module_ai_context_registry SET
			module_name = ?, version = ?, purpose = ?, category = ?, keywords = ?, concepts = ?, patterns = ?,
			context_providers = ?, relationships = ?, entities = ?, actions = ?, created_at = ?, last_updated = ?
		WHERE module_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update registry entry: %w", err)
	}
	return nil
}

// DeleteEntries removes the given entries in a single statement
func (s *SQLRegistryStore) DeleteEntries(ctx context.Context, moduleIDs []string) (int64, error) {
	if len(moduleIDs) == 0 {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM module_ai_context_registry WHERE module_id IN (`+placeholders(len(moduleIDs))+`)`,
		stringArgs(moduleIDs)...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete registry entries: %w", err)
	}

	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.ModuleContextEntry, error) {
	var (
		entry                               models.ModuleContextEntry
		keywords, concepts, patterns, provs string
		relationships, entities, actions    sql.NullString
		createdAt, lastUpdated              int64
	)

	if err := row.Scan(&entry.ModuleID, &entry.ModuleName, &entry.Version, &entry.Purpose, &entry.Category,
		&keywords, &concepts, &patterns, &provs, &relationships, &entities, &actions, &createdAt, &lastUpdated); err != nil {
		return nil, err
	}

	for _, field := range []struct {
		raw  string
		dest interface{}
	}{
		{keywords, &entry.Keywords},
		{concepts, &entry.Concepts},
		{patterns, &entry.Patterns},
		{provs, &entry.ContextProviders},
	} {
		if err := json.Unmarshal([]byte(field.raw), field.dest); err != nil {
			return nil, fmt.Errorf("failed to decode registry entry %s: %w", entry.ModuleID, err)
		}
	}

	entry.Relationships = rawOrNil(relationships)
	entry.Entities = rawOrNil(entities)
	entry.Actions = rawOrNil(actions)
	entry.CreatedAt = time.UnixMilli(createdAt).UTC()
	entry.LastUpdated = time.UnixMilli(lastUpdated).UTC()

	return &entry, nil
}

func entryValues(entry *models.ModuleContextEntry) ([]interface{}, error) {
	encoded := make([]string, 0, 4)
	for _, v := range []interface{}{
		nonNilStrings(entry.Keywords),
		nonNilStrings(entry.Concepts),
		nonNilStrings(entry.Patterns),
		nonNilProviders(entry.ContextProviders),
	} {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode registry entry %s: %w", entry.ModuleID, err)
		}
		encoded = append(encoded, string(data))
	}

	return []interface{}{
		entry.ModuleID, entry.ModuleName, entry.Version, entry.Purpose, entry.Category,
		encoded[0], encoded[1], encoded[2], encoded[3],
		nullableRaw(entry.Relationships), nullableRaw(entry.Entities), nullableRaw(entry.Actions),
		entry.CreatedAt.UnixMilli(), entry.LastUpdated.UnixMilli(),
	}, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// MODULE CATALOG
// ═══════════════════════════════════════════════════════════════════════════

// GetModule returns a module by id
func (s *SQLRegistryStore) GetModule(ctx context.Context, moduleID string) (*models.Module, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, status, manifest, created_at, updated_at FROM modules WHERE id = ?`, moduleID)

	module, err := scanModule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get module: %w", err)
	}
	return module, true, nil
}

// ListModulesByStatus returns all modules in the given review state
func (s *SQLRegistryStore) ListModulesByStatus(ctx context.Context, status models.ModuleStatus) ([]models.Module, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, version, status, manifest, created_at, updated_at FROM modules WHERE status = ? ORDER BY id`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	modules := []models.Module{}
	for rows.Next() {
		module, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		modules = append(modules, *module)
	}

	return modules, rows.Err()
}

// UpsertModule inserts or replaces a module definition
func (s *SQLRegistryStore) UpsertModule(ctx context.Context, module *models.Module) error {
	manifest, err := json.Marshal(module.Manifest)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	now := time.Now().UTC()
	if module.CreatedAt.IsZero() {
		module.CreatedAt = now
	}
	module.UpdatedAt = now

	query := `INSERT INTO modules (id, name, version, status, manifest, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)` + s.upsertClause([]string{"id"}, map[string]string{
		"name":       "excluded.name",
		"version":    "excluded.version",
		"status":     "excluded.status",
		"manifest":   "excluded.manifest",
		"updated_at": "excluded.updated_at",
	})

	_, err = s.db.ExecContext(ctx, query, module.ID, module.Name, module.Version, string(module.Status),
		string(manifest), module.CreatedAt.UnixMilli(), module.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert module: %w", err)
	}
	return nil
}

func scanModule(row rowScanner) (*models.Module, error) {
	var (
		module               models.Module
		status, manifest     string
		createdAt, updatedAt int64
	)

	if err := row.Scan(&module.ID, &module.Name, &module.Version, &status, &manifest, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(manifest), &module.Manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest for %s: %w", module.ID, err)
	}

	module.Status = models.ModuleStatus(status)
	module.CreatedAt = time.UnixMilli(createdAt).UTC()
	module.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &module, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// INSTALLATIONS
// ═══════════════════════════════════════════════════════════════════════════

// InstalledModuleIDs returns the ids of modules the user has enabled
func (s *SQLRegistryStore) InstalledModuleIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT module_id FROM module_installations WHERE user_id = ? AND enabled = ? ORDER BY module_id`, userID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list installations: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan installation: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// SetInstallation creates or updates a user's installation of a module
func (s *SQLRegistryStore) SetInstallation(ctx context.Context, installation *models.ModuleInstallation) error {
	if installation.InstalledAt.IsZero() {
		installation.InstalledAt = time.Now().UTC()
	}

	query := `INSERT INTO module_installations (module_id, user_id, enabled, installed_at)
		VALUES (?, ?, ?, ?)` + s.upsertClause([]string{"module_id", "user_id"}, map[string]string{
		"enabled":      "excluded.enabled",
		"installed_at": "excluded.installed_at",
	})

	_, err := s.db.ExecContext(ctx, query, installation.ModuleID, installation.UserID, installation.Enabled,
		installation.InstalledAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set installation: %w", err)
	}
	return nil
}

// CountEnabledInstallations counts users that still have the module enabled
func (s *SQLRegistryStore) CountEnabledInstallations(ctx context.Context, moduleID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM module_installations WHERE module_id = ? AND enabled = ?`, moduleID, true).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count installations: %w", err)
	}
	return count, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// DAILY METRICS
// ═══════════════════════════════════════════════════════════════════════════

// IncrementDailyMetrics adds delta to the (moduleID, day) bucket, creating it if needed
func (s *SQLRegistryStore) IncrementDailyMetrics(ctx context.Context, moduleID string, day time.Time, delta models.MetricDelta) error {
	query := `INSERT INTO module_ai_performance_metrics
		(module_id, day, fetch_count, success_count, failure_count, error_count, total_latency_ms, total_payload_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)` + s.upsertClause([]string{"module_id", "day"}, map[string]string{
		"fetch_count":         "fetch_count + excluded.fetch_count",
		"success_count":       "success_count + excluded.success_count",
		"failure_count":       "failure_count + excluded.failure_count",
		"error_count":         "error_count + excluded.error_count",
		"total_latency_ms":    "total_latency_ms + excluded.total_latency_ms",
		"total_payload_bytes": "total_payload_bytes + excluded.total_payload_bytes",
	})

	_, err := s.db.ExecContext(ctx, query, moduleID, models.MetricsDay(day).Format(metricsDayLayout),
		delta.Fetches, delta.Successes, delta.Failures, delta.Errors, delta.LatencyMs, delta.PayloadBytes)
	if err != nil {
		return fmt.Errorf("failed to increment daily metrics: %w", err)
	}
	return nil
}

// GetDailyMetrics returns the buckets for moduleID between from and to inclusive
func (s *SQLRegistryStore) GetDailyMetrics(ctx context.Context, moduleID string, from, to time.Time) ([]models.DailyModuleMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT module_id, day, fetch_count, success_count, failure_count, error_count,
			total_latency_ms, total_payload_bytes
		FROM module_ai_performance_metrics
		WHERE module_id = ? AND day >= ? AND day <= ?
		ORDER BY day`,
		moduleID, models.MetricsDay(from).Format(metricsDayLayout), models.MetricsDay(to).Format(metricsDayLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily metrics: %w", err)
	}
	defer rows.Close()

	result := []models.DailyModuleMetrics{}
	for rows.Next() {
		var m models.DailyModuleMetrics
		var day string
		if err := rows.Scan(&m.ModuleID, &day, &m.FetchCount, &m.SuccessCount, &m.FailureCount, &m.ErrorCount,
			&m.TotalLatencyMs, &m.TotalPayloadBytes); err != nil {
			return nil, fmt.Errorf("failed to scan daily metrics: %w", err)
		}
		m.Date, err = time.Parse(metricsDayLayout, day)
		if err != nil {
			return nil, fmt.Errorf("failed to parse metrics day %q: %w", day, err)
		}
		result = append(result, m)
	}

	return result, rows.Err()
}

// DeleteDailyMetricsBefore removes buckets older than cutoff's UTC day
func (s *SQLRegistryStore) DeleteDailyMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM module_ai_performance_metrics WHERE day < ?`,
		models.MetricsDay(cutoff).Format(metricsDayLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete daily metrics: %w", err)
	}
	return result.RowsAffected()
}

// ═══════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nonNilProviders(values []models.ContextProvider) []models.ContextProvider {
	if values == nil {
		return []models.ContextProvider{}
	}
	return values
}

func nullableRaw(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawOrNil(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}
