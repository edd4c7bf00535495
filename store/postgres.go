package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using a PostgreSQL backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a new PostgresStore with a connection pool.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	// The agent is a single process with a handful of periodic tasks;
	// a small pool is plenty.
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates the schema if it does not exist. Safe to run on every
// startup.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS employees (
			id BIGSERIAL PRIMARY KEY,
			employee_name TEXT NOT NULL UNIQUE,
			fake_name TEXT NOT NULL,
			display_order INT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS devices (
			id BIGSERIAL PRIMARY KEY,
			employee_id BIGINT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
			ip_address TEXT NOT NULL UNIQUE,
			mac_address TEXT,
			device_name TEXT NOT NULL DEFAULT 'Primary Device',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS state_changes (
			id BIGSERIAL PRIMARY KEY,
			device_id BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			employee_id BIGINT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
			timestamp TIMESTAMPTZ NOT NULL,
			status INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_state_changes_employee_ts
			ON state_changes (employee_id, timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS hourly_summaries (
			id BIGSERIAL PRIMARY KEY,
			employee_id BIGINT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
			hour TIMESTAMPTZ NOT NULL,
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			minutes_online INT NOT NULL DEFAULT 0,
			synced BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (employee_id, hour)
		)`,
		`CREATE TABLE IF NOT EXISTS agent_downtimes (
			id BIGSERIAL PRIMARY KEY,
			downtime_start TIMESTAMPTZ NOT NULL,
			downtime_end TIMESTAMPTZ NOT NULL,
			synced BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS system_status (
			key TEXT PRIMARY KEY,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, q := range ddl {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// --- Roster ---

func (s *PostgresStore) ListEmployees(ctx context.Context) ([]*Employee, error) {
	query := `
		SELECT id, employee_name, fake_name, display_order, created_at
		FROM employees ORDER BY display_order
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []*Employee
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.EmployeeName, &e.FakeName, &e.DisplayOrder, &e.CreatedAt); err != nil {
			return nil, err
		}
		employees = append(employees, &e)
	}
	return employees, rows.Err()
}

// ListRoster loads employees, their devices and each employee's latest state
// change inside one transaction so the snapshot is consistent.
func (s *PostgresStore) ListRoster(ctx context.Context) ([]*RosterEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, employee_name, fake_name, display_order, created_at
		FROM employees ORDER BY display_order
	`)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*RosterEntry)
	var roster []*RosterEntry
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.EmployeeName, &e.FakeName, &e.DisplayOrder, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		entry := &RosterEntry{Employee: &e}
		byID[e.ID] = entry
		roster = append(roster, entry)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `
		SELECT id, employee_id, ip_address, COALESCE(mac_address, ''), device_name, created_at
		FROM devices ORDER BY employee_id, id
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.EmployeeID, &d.IPAddress, &d.MACAddress, &d.DeviceName, &d.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if entry, ok := byID[d.EmployeeID]; ok {
			entry.Devices = append(entry.Devices, &d)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `
		SELECT DISTINCT ON (employee_id)
			id, device_id, employee_id, timestamp, status, created_at
		FROM state_changes
		ORDER BY employee_id, timestamp DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var sc StateChange
		if err := rows.Scan(&sc.ID, &sc.DeviceID, &sc.EmployeeID, &sc.Timestamp, &sc.Status, &sc.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if entry, ok := byID[sc.EmployeeID]; ok {
			entry.LatestState = &sc
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return roster, tx.Commit(ctx)
}

func (s *PostgresStore) UpdateDeviceMAC(ctx context.Context, deviceID int64, mac string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE devices SET mac_address = $2 WHERE id = $1`, deviceID, mac)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("device not found")
	}
	return nil
}

// --- State change log ---

const stateChangeCols = `id, device_id, employee_id, timestamp, status, created_at`

func scanStateChange(row pgx.Row) (*StateChange, error) {
	var sc StateChange
	err := row.Scan(&sc.ID, &sc.DeviceID, &sc.EmployeeID, &sc.Timestamp, &sc.Status, &sc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *PostgresStore) LatestStateChange(ctx context.Context, employeeID int64) (*StateChange, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+stateChangeCols+` FROM state_changes
		WHERE employee_id = $1
		ORDER BY timestamp DESC, id DESC LIMIT 1
	`, employeeID)
	return scanStateChange(row)
}

func (s *PostgresStore) LatestStateChangeBefore(ctx context.Context, employeeID int64, t time.Time) (*StateChange, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+stateChangeCols+` FROM state_changes
		WHERE employee_id = $1 AND timestamp < $2
		ORDER BY timestamp DESC, id DESC LIMIT 1
	`, employeeID, t)
	return scanStateChange(row)
}

func (s *PostgresStore) StateChangesInRange(ctx context.Context, employeeID int64, t0, t1 time.Time) ([]*StateChange, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+stateChangeCols+` FROM state_changes
		WHERE employee_id = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC, id ASC
	`, employeeID, t0, t1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []*StateChange
	for rows.Next() {
		var sc StateChange
		if err := rows.Scan(&sc.ID, &sc.DeviceID, &sc.EmployeeID, &sc.Timestamp, &sc.Status, &sc.CreatedAt); err != nil {
			return nil, err
		}
		changes = append(changes, &sc)
	}
	return changes, rows.Err()
}

// AppendStateChange inserts the transition only if it actually changes the
// employee's status. The guard subquery keeps consecutive rows alternating
// even if two writers race.
func (s *PostgresStore) AppendStateChange(ctx context.Context, deviceID, employeeID int64, ts time.Time, status int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO state_changes (device_id, employee_id, timestamp, status, created_at)
		SELECT $1, $2, $3, $4, NOW()
		WHERE COALESCE((
			SELECT status FROM state_changes
			WHERE employee_id = $2
			ORDER BY timestamp DESC, id DESC LIMIT 1
		), -1) <> $4
	`, deviceID, employeeID, ts, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- Hourly summaries ---

func (s *PostgresStore) UpsertHourlySummary(ctx context.Context, sum *HourlySummary) error {
	query := `
		INSERT INTO hourly_summaries (employee_id, hour, first_seen, last_seen, minutes_online, synced, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, NOW())
		ON CONFLICT (employee_id, hour) DO UPDATE SET
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			minutes_online = EXCLUDED.minutes_online,
			synced = FALSE
		RETURNING id
	`
	return s.pool.QueryRow(ctx, query,
		sum.EmployeeID, sum.Hour, sum.FirstSeen, sum.LastSeen, sum.MinutesOnline,
	).Scan(&sum.ID)
}

func (s *PostgresStore) ListUnsyncedSummaries(ctx context.Context) ([]*HourlySummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, employee_id, hour, first_seen, last_seen, minutes_online, synced, created_at
		FROM hourly_summaries WHERE NOT synced
		ORDER BY hour DESC, employee_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*HourlySummary
	for rows.Next() {
		var h HourlySummary
		if err := rows.Scan(&h.ID, &h.EmployeeID, &h.Hour, &h.FirstSeen, &h.LastSeen, &h.MinutesOnline, &h.Synced, &h.CreatedAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, &h)
	}
	return summaries, rows.Err()
}

func (s *PostgresStore) MarkSummarySynced(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE hourly_summaries SET synced = TRUE WHERE id = $1`, id)
	return err
}

// --- Agent downtimes ---

func (s *PostgresStore) AppendAgentDowntime(ctx context.Context, start, end time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_downtimes (downtime_start, downtime_end, synced)
		VALUES ($1, $2, FALSE)
	`, start, end)
	return err
}

func (s *PostgresStore) ListUnsyncedDowntimes(ctx context.Context) ([]*AgentDowntime, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, downtime_start, downtime_end, synced
		FROM agent_downtimes WHERE NOT synced
		ORDER BY downtime_start
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downtimes []*AgentDowntime
	for rows.Next() {
		var d AgentDowntime
		if err := rows.Scan(&d.ID, &d.DowntimeStart, &d.DowntimeEnd, &d.Synced); err != nil {
			return nil, err
		}
		downtimes = append(downtimes, &d)
	}
	return downtimes, rows.Err()
}

func (s *PostgresStore) MarkAllDowntimesSynced(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE agent_downtimes SET synced = TRUE WHERE NOT synced`)
	return err
}

// --- System heartbeat ---

// The singleton row is keyed on "system" rather than a fixed primary key so
// the upsert works on an empty table.
const systemStatusKey = "system"

func (s *PostgresStore) TouchSystemHeartbeat(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_status (key, updated_at) VALUES ($1, NOW())
		ON CONFLICT (key) DO UPDATE SET updated_at = NOW()
	`, systemStatusKey)
	return err
}

func (s *PostgresStore) ReadSystemHeartbeat(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT updated_at FROM system_status WHERE key = $1
	`, systemStatusKey).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
