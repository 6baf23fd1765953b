// Package store persists the Host, VirtualMachine, Datastore, Credential,
// and Task entities in an embedded SQLite database.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"opsnav/internal/models"
)

// Store is the persistence seam used by the reconciler, clone orchestrator,
// power controller, task tracker, and HTTP facade. The daemon opens one
// Store and every component, background workers included, shares it.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the SQLite database at path, in
// WAL mode for concurrent readers alongside background writers.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates every table from scratch. This is a greenfield
// rewrite, so no autopatch machinery is carried over from the original
// (see DESIGN.md Open Question #2).
func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS hosts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL UNIQUE,
		port INTEGER NOT NULL DEFAULT 443,
		username TEXT NOT NULL,
		secret TEXT NOT NULL,
		description TEXT,
		sort_order INTEGER NOT NULL DEFAULT 0,
		hostname TEXT,
		version TEXT,
		model TEXT,
		last_sync_at TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'offline',
		cpu_usage REAL NOT NULL DEFAULT 0,
		memory_usage REAL NOT NULL DEFAULT 0,
		cpu_cores INTEGER NOT NULL DEFAULT 0,
		memory_total_gb REAL NOT NULL DEFAULT 0,
		storage_total_gb REAL NOT NULL DEFAULT 0,
		storage_free_gb REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hosts_sort_order ON hosts(sort_order);

	CREATE TABLE IF NOT EXISTS virtual_machines (
		id TEXT PRIMARY KEY,
		uuid TEXT NOT NULL,
		name TEXT NOT NULL,
		host_ip TEXT NOT NULL,
		status TEXT NOT NULL,
		ip_address TEXT,
		os_name TEXT,
		description TEXT,
		cpu_count INTEGER NOT NULL DEFAULT 1,
		memory_mb INTEGER NOT NULL DEFAULT 1024,
		cpu_usage_mhz INTEGER NOT NULL DEFAULT 0,
		memory_usage_mb INTEGER NOT NULL DEFAULT 0,
		uptime_seconds INTEGER NOT NULL DEFAULT 0,
		disk_used_gb REAL NOT NULL DEFAULT 0,
		disk_provisioned_gb REAL NOT NULL DEFAULT 0,
		tools_status TEXT,
		datastore TEXT,
		vmx_path TEXT,
		last_sync TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_vms_host_ip ON virtual_machines(host_ip);
	CREATE INDEX IF NOT EXISTS idx_vms_name ON virtual_machines(name);

	CREATE TABLE IF NOT EXISTS datastores (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT,
		capacity_gb REAL NOT NULL DEFAULT 0,
		free_gb REAL NOT NULL DEFAULT 0,
		last_sync TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS credentials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		username TEXT NOT NULL,
		secret TEXT NOT NULL,
		description TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		target_id TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		progress INTEGER NOT NULL DEFAULT 0,
		message TEXT,
		result_json TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- Hosts ---

// UpsertHost inserts or updates by unique Address, mirroring the
// "enrolling the same host twice never creates a duplicate" invariant.
func (s *Store) UpsertHost(h *models.Host) error {
	now := time.Now().UTC()

	existing, err := s.GetHostByAddress(h.Address)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	if existing != nil {
		h.ID = existing.ID
		h.CreatedAt = existing.CreatedAt
		if h.SortOrder == 0 && existing.SortOrder != 0 {
			h.SortOrder = existing.SortOrder
		}
	} else {
		h.CreatedAt = now
		row := s.db.QueryRow(`SELECT COALESCE(MAX(sort_order), -1) + 1 FROM hosts`)
		var nextOrder int
		if err := row.Scan(&nextOrder); err == nil && h.SortOrder == 0 {
			h.SortOrder = nextOrder
		}
	}
	h.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO hosts (
			address, port, username, secret, description, sort_order, hostname, version, model,
			last_sync_at, status, cpu_usage, memory_usage, cpu_cores, memory_total_gb,
			storage_total_gb, storage_free_gb, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			port=excluded.port, username=excluded.username, secret=excluded.secret,
			description=excluded.description, sort_order=excluded.sort_order,
			hostname=excluded.hostname, version=excluded.version, model=excluded.model,
			last_sync_at=excluded.last_sync_at, status=excluded.status,
			cpu_usage=excluded.cpu_usage, memory_usage=excluded.memory_usage,
			cpu_cores=excluded.cpu_cores, memory_total_gb=excluded.memory_total_gb,
			storage_total_gb=excluded.storage_total_gb, storage_free_gb=excluded.storage_free_gb,
			updated_at=excluded.updated_at
	`,
		h.Address, h.Port, h.Username, h.Secret, nullableString(h.Description), h.SortOrder,
		nullableString(h.Hostname), nullableString(h.Version), nullableString(h.Model),
		h.LastSync, string(h.Status), h.CPUUsagePct, h.MemoryUsagePct, h.CPUCores,
		h.MemoryTotalGB, h.StorageTotalGB, h.StorageFreeGB, h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert host: %w", err)
	}

	return s.db.QueryRow(`SELECT id FROM hosts WHERE address = ?`, h.Address).Scan(&h.ID)
}

func hostScanArgs(h *models.Host, description, hostname, version, model *sql.NullString) []interface{} {
	return []interface{}{
		&h.ID, &h.Address, &h.Port, &h.Username, &h.Secret, description, &h.SortOrder,
		hostname, version, model, &h.LastSync, &h.Status, &h.CPUUsagePct, &h.MemoryUsagePct,
		&h.CPUCores, &h.MemoryTotalGB, &h.StorageTotalGB, &h.StorageFreeGB, &h.CreatedAt, &h.UpdatedAt,
	}
}

const hostColumns = `id, address, port, username, secret, description, sort_order, hostname, version, model,
	last_sync_at, status, cpu_usage, memory_usage, cpu_cores, memory_total_gb, storage_total_gb,
	storage_free_gb, created_at, updated_at`

func scanHost(row interface{ Scan(...interface{}) error }) (*models.Host, error) {
	var h models.Host
	var description, hostname, version, model sql.NullString
	if err := row.Scan(hostScanArgs(&h, &description, &hostname, &version, &model)...); err != nil {
		return nil, err
	}
	h.Description = description.String
	h.Hostname = hostname.String
	h.Version = version.String
	h.Model = model.String
	return &h, nil
}

// GetHostByAddress returns sql.ErrNoRows when absent.
func (s *Store) GetHostByAddress(address string) (*models.Host, error) {
	row := s.db.QueryRow(`SELECT `+hostColumns+` FROM hosts WHERE address = ?`, address)
	h, err := scanHost(row)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get host by address: %w", err)
	}
	return h, nil
}

// GetHost returns sql.ErrNoRows when absent.
func (s *Store) GetHost(id int64) (*models.Host, error) {
	row := s.db.QueryRow(`SELECT `+hostColumns+` FROM hosts WHERE id = ?`, id)
	h, err := scanHost(row)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get host: %w", err)
	}
	return h, nil
}

// ListHosts returns every host ordered by (sort_order asc, id asc).
func (s *Store) ListHosts() ([]*models.Host, error) {
	rows, err := s.db.Query(`SELECT ` + hostColumns + ` FROM hosts ORDER BY sort_order ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []*models.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// UpdateHostStatus is the minimal write the reconciler issues when a
// connection attempt fails before any inventory data is available.
func (s *Store) UpdateHostStatus(address string, status models.HostStatus) error {
	_, err := s.db.Exec(`UPDATE hosts SET status = ?, updated_at = ? WHERE address = ?`,
		string(status), time.Now().UTC(), address)
	return err
}

// UpdateHostFields applies a partial update (PUT /hosts/{id}) using the
// same truthy-or-fallback semantics as the original: a nil or zero-valued
// field in patch leaves the stored value untouched, except description,
// which is applied whenever it is non-nil (an empty string clears it).
func (s *Store) UpdateHostFields(id int64, address, username, secret, description *string, port *int) error {
	h, err := s.GetHost(id)
	if err != nil {
		return err
	}
	if address != nil && *address != "" {
		h.Address = *address
	}
	if port != nil && *port != 0 {
		h.Port = *port
	}
	if username != nil && *username != "" {
		h.Username = *username
	}
	if secret != nil && *secret != "" {
		h.Secret = *secret
	}
	if description != nil {
		h.Description = *description
	}
	h.UpdatedAt = time.Now().UTC()

	_, err = s.db.Exec(`UPDATE hosts SET address=?, port=?, username=?, secret=?, description=?, updated_at=? WHERE id=?`,
		h.Address, h.Port, h.Username, h.Secret, nullableString(h.Description), h.UpdatedAt, id)
	return err
}

// ReorderHosts implements the fleet reorder endpoint: hosts named in
// ids get sort_order equal to their index; hosts not named keep their
// prior relative order and are appended after.
func (s *Store) ReorderHosts(ids []int64) error {
	all, err := s.ListHosts()
	if err != nil {
		return err
	}

	named := make(map[int64]bool, len(ids))
	for _, id := range ids {
		named[id] = true
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	order := 0
	for _, id := range ids {
		if _, err := tx.Exec(`UPDATE hosts SET sort_order = ? WHERE id = ?`, order, id); err != nil {
			return err
		}
		order++
	}
	for _, h := range all {
		if named[h.ID] {
			continue
		}
		if _, err := tx.Exec(`UPDATE hosts SET sort_order = ? WHERE id = ?`, order, h.ID); err != nil {
			return err
		}
		order++
	}

	return tx.Commit()
}

// DeleteHost cascades to every VM row belonging to the host's address.
func (s *Store) DeleteHost(id int64) error {
	h, err := s.GetHost(id)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM virtual_machines WHERE host_ip = ?`, h.Address); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM hosts WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Virtual machines ---

const vmColumns = `id, uuid, name, host_ip, status, ip_address, os_name, description, cpu_count, memory_mb,
	cpu_usage_mhz, memory_usage_mb, uptime_seconds, disk_used_gb, disk_provisioned_gb, tools_status,
	datastore, vmx_path, last_sync`

func scanVM(row interface{ Scan(...interface{}) error }) (*models.VirtualMachine, error) {
	var vm models.VirtualMachine
	var ip, osName, desc, tools, ds, vmx sql.NullString
	var status string
	err := row.Scan(&vm.ID, &vm.UUID, &vm.Name, &vm.HostAddress, &status, &ip, &osName, &desc,
		&vm.CPUCount, &vm.MemoryMB, &vm.CPUUsageMHz, &vm.MemoryUsageMB, &vm.UptimeSeconds,
		&vm.DiskUsedGB, &vm.DiskProvisionedGB, &tools, &ds, &vmx, &vm.LastSync)
	if err != nil {
		return nil, err
	}
	vm.PowerState = models.PowerState(status)
	vm.IPAddress = ip.String
	vm.GuestOS = osName.String
	vm.Annotation = desc.String
	vm.ToolsStatus = tools.String
	vm.Datastore = ds.String
	vm.VMXPath = vmx.String
	return &vm, nil
}

// UpsertVM inserts or replaces by composite id.
func (s *Store) UpsertVM(vm *models.VirtualMachine) error {
	_, err := s.db.Exec(`
		INSERT INTO virtual_machines (
			id, uuid, name, host_ip, status, ip_address, os_name, description, cpu_count, memory_mb,
			cpu_usage_mhz, memory_usage_mb, uptime_seconds, disk_used_gb, disk_provisioned_gb,
			tools_status, datastore, vmx_path, last_sync
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			uuid=excluded.uuid, name=excluded.name, host_ip=excluded.host_ip, status=excluded.status,
			ip_address=excluded.ip_address, os_name=excluded.os_name, description=excluded.description,
			cpu_count=excluded.cpu_count, memory_mb=excluded.memory_mb, cpu_usage_mhz=excluded.cpu_usage_mhz,
			memory_usage_mb=excluded.memory_usage_mb, uptime_seconds=excluded.uptime_seconds,
			disk_used_gb=excluded.disk_used_gb, disk_provisioned_gb=excluded.disk_provisioned_gb,
			tools_status=excluded.tools_status, datastore=excluded.datastore, vmx_path=excluded.vmx_path,
			last_sync=excluded.last_sync
	`,
		vm.ID, vm.UUID, vm.Name, vm.HostAddress, string(vm.PowerState), nullableString(vm.IPAddress),
		nullableString(vm.GuestOS), nullableString(vm.Annotation), vm.CPUCount, vm.MemoryMB,
		vm.CPUUsageMHz, vm.MemoryUsageMB, vm.UptimeSeconds, vm.DiskUsedGB, vm.DiskProvisionedGB,
		nullableString(vm.ToolsStatus), nullableString(vm.Datastore), nullableString(vm.VMXPath), vm.LastSync,
	)
	if err != nil {
		return fmt.Errorf("upsert vm: %w", err)
	}
	return nil
}

// GetVM returns sql.ErrNoRows when absent.
func (s *Store) GetVM(id string) (*models.VirtualMachine, error) {
	row := s.db.QueryRow(`SELECT `+vmColumns+` FROM virtual_machines WHERE id = ?`, id)
	vm, err := scanVM(row)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get vm: %w", err)
	}
	return vm, nil
}

// VMFilter narrows ListVMs by the REST facade's query parameters.
type VMFilter struct {
	HostAddress string
	Keyword     string // substring match on name or ip
	Status      string
	Page        int
	PageSize    int
}

// ListVMs applies VMFilter and returns (page, total count).
func (s *Store) ListVMs(f VMFilter) ([]*models.VirtualMachine, int, error) {
	where := "WHERE 1=1"
	var args []interface{}

	if f.HostAddress != "" {
		where += " AND host_ip = ?"
		args = append(args, f.HostAddress)
	}
	if f.Keyword != "" {
		where += " AND (name LIKE ? OR ip_address LIKE ?)"
		like := "%" + f.Keyword + "%"
		args = append(args, like, like)
	}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, f.Status)
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM virtual_machines `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count vms: %w", err)
	}

	page, pageSize := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	query := `SELECT ` + vmColumns + ` FROM virtual_machines ` + where + ` ORDER BY name ASC LIMIT ? OFFSET ?`
	args = append(args, pageSize, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list vms: %w", err)
	}
	defer rows.Close()

	var out []*models.VirtualMachine
	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan vm: %w", err)
		}
		out = append(out, vm)
	}
	return out, total, rows.Err()
}

// ListVMsByHost returns every VM row owned by hostAddress, used by the
// reconciler to compute the prune set.
func (s *Store) ListVMsByHost(hostAddress string) ([]*models.VirtualMachine, error) {
	rows, err := s.db.Query(`SELECT `+vmColumns+` FROM virtual_machines WHERE host_ip = ?`, hostAddress)
	if err != nil {
		return nil, fmt.Errorf("list vms by host: %w", err)
	}
	defer rows.Close()

	var out []*models.VirtualMachine
	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vm: %w", err)
		}
		out = append(out, vm)
	}
	return out, rows.Err()
}

// DeleteVM removes a single VM row by composite id.
func (s *Store) DeleteVM(id string) error {
	_, err := s.db.Exec(`DELETE FROM virtual_machines WHERE id = ?`, id)
	return err
}

// DeleteVMsForHost deletes every VM row for hostAddress except those whose
// id is in keep — used by the reconciler's prune step, including the
// "observed set empty ⇒ delete all" edge case when keep is empty.
func (s *Store) DeleteVMsForHost(hostAddress string, keep []string) error {
	if len(keep) == 0 {
		_, err := s.db.Exec(`DELETE FROM virtual_machines WHERE host_ip = ?`, hostAddress)
		return err
	}

	placeholders := ""
	args := []interface{}{hostAddress}
	for i, id := range keep {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(`DELETE FROM virtual_machines WHERE host_ip = ? AND id NOT IN (%s)`, placeholders)
	_, err := s.db.Exec(query, args...)
	return err
}

// RenameAndAnnotateVM mutates the cached name/annotation inline, used
// after a successful hypervisor-side rename/reconfigure.
func (s *Store) RenameAndAnnotateVM(id, name, annotation string) error {
	_, err := s.db.Exec(`UPDATE virtual_machines SET name = ?, description = ? WHERE id = ?`,
		name, nullableString(annotation), id)
	return err
}

// --- Datastores ---

// UpsertDatastore inserts or replaces by id (the hypervisor-assigned
// URL/UUID string).
func (s *Store) UpsertDatastore(d *models.Datastore) error {
	_, err := s.db.Exec(`
		INSERT INTO datastores (id, name, type, capacity_gb, free_gb, last_sync)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, type=excluded.type, capacity_gb=excluded.capacity_gb,
			free_gb=excluded.free_gb, last_sync=excluded.last_sync
	`, d.ID, d.Name, d.Kind, d.CapacityGB, d.FreeGB, d.LastSync)
	return err
}

// DatastoreStats is the aggregate the /datastores/stats endpoint returns.
type DatastoreStats struct {
	TotalCount      int     `json:"total_count"`
	TotalCapacityGB float64 `json:"total_capacity_gb"`
	TotalFreeGB     float64 `json:"total_free_gb"`
}

// DatastoreStats sums capacity/free across every known datastore row.
func (s *Store) DatastoreStats() (*DatastoreStats, error) {
	var stats DatastoreStats
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(capacity_gb), 0), COALESCE(SUM(free_gb), 0) FROM datastores
	`).Scan(&stats.TotalCount, &stats.TotalCapacityGB, &stats.TotalFreeGB)
	if err != nil {
		return nil, fmt.Errorf("datastore stats: %w", err)
	}
	return &stats, nil
}

// --- Credentials ---

// CreateCredential inserts a new named credential preset.
func (s *Store) CreateCredential(c *models.Credential) error {
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	res, err := s.db.Exec(`
		INSERT INTO credentials (name, username, secret, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.Alias, c.Username, c.Secret, nullableString(c.Description), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// GetCredential returns sql.ErrNoRows when absent.
func (s *Store) GetCredential(id int64) (*models.Credential, error) {
	var c models.Credential
	var description sql.NullString
	err := s.db.QueryRow(`
		SELECT id, name, username, secret, description, created_at, updated_at FROM credentials WHERE id = ?
	`, id).Scan(&c.ID, &c.Alias, &c.Username, &c.Secret, &description, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	c.Description = description.String
	return &c, nil
}

// ListCredentials returns every stored credential preset.
func (s *Store) ListCredentials() ([]*models.Credential, error) {
	rows, err := s.db.Query(`SELECT id, name, username, secret, description, created_at, updated_at FROM credentials ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []*models.Credential
	for rows.Next() {
		var c models.Credential
		var description sql.NullString
		if err := rows.Scan(&c.ID, &c.Alias, &c.Username, &c.Secret, &description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		c.Description = description.String
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeleteCredential removes a named credential preset.
func (s *Store) DeleteCredential(id int64) error {
	_, err := s.db.Exec(`DELETE FROM credentials WHERE id = ?`, id)
	return err
}

// --- Tasks ---

// CreateTask inserts a new task row in the pending state with progress=0.
func (s *Store) CreateTask(t *models.Task) error {
	now := time.Now().UTC()
	t.Status = models.TaskPending
	t.Progress = 0
	t.CreatedAt, t.UpdatedAt = now, now

	resultJSON, err := marshalResult(t.Result)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO tasks (id, type, target_id, status, progress, message, result_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, string(t.Kind), nullableString(t.TargetID), string(t.Status), t.Progress,
		nullableString(t.Message), resultJSON, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// TaskPatch is a partial update; nil fields are left untouched.
type TaskPatch struct {
	Status   *models.TaskStatus
	Progress *int
	Message  *string
	Result   map[string]interface{}
}

// UpdateTask applies patch to the task identified by id. Callers are
// responsible for single-writer-per-task-id discipline; this method
// does not itself serialize concurrent callers.
func (s *Store) UpdateTask(id string, patch TaskPatch) error {
	t, err := s.GetTask(id)
	if err != nil {
		return err
	}

	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Progress != nil {
		t.Progress = *patch.Progress
	}
	if patch.Message != nil {
		t.Message = *patch.Message
	}
	if patch.Result != nil {
		t.Result = patch.Result
	}
	t.UpdatedAt = time.Now().UTC()

	resultJSON, err := marshalResult(t.Result)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		UPDATE tasks SET status=?, progress=?, message=?, result_json=?, updated_at=? WHERE id=?
	`, string(t.Status), t.Progress, nullableString(t.Message), resultJSON, t.UpdatedAt, id)
	return err
}

// GetTask returns sql.ErrNoRows when absent.
func (s *Store) GetTask(id string) (*models.Task, error) {
	row := s.db.QueryRow(`
		SELECT id, type, target_id, status, progress, message, result_json, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

func scanTask(row interface{ Scan(...interface{}) error }) (*models.Task, error) {
	var t models.Task
	var kind, status string
	var targetID, message, resultJSON sql.NullString
	err := row.Scan(&t.ID, &kind, &targetID, &status, &t.Progress, &message, &resultJSON, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Kind = models.TaskKind(kind)
	t.Status = models.TaskStatus(status)
	t.TargetID = targetID.String
	t.Message = message.String
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &t.Result); err != nil {
			return nil, fmt.Errorf("unmarshal task result: %w", err)
		}
	}
	return &t, nil
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Status   models.TaskStatus
	Kind     models.TaskKind
	Page     int
	PageSize int
}

// ListTasks returns tasks matching filter, ordered by created_at descending.
func (s *Store) ListTasks(f TaskFilter) ([]*models.Task, error) {
	where := "WHERE 1=1"
	var args []interface{}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.Kind != "" {
		where += " AND type = ?"
		args = append(args, string(f.Kind))
	}

	page, pageSize := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	query := `SELECT id, type, target_id, status, progress, message, result_json, created_at, updated_at
		FROM tasks ` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func marshalResult(result map[string]interface{}) (interface{}, error) {
	if result == nil {
		return nil, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal task result: %w", err)
	}
	return string(b), nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
