package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"leadflow.org/internal/crm"
)

// Store implements crm.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ crm.Store = (*Store)(nil)

// Open connects to PostgreSQL via the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, for tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// storeErr classifies connection-level failures as ErrStoreUnavailable so
// callers can tell a flaky backend from a bad request. Everything else
// passes through unchanged.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", crm.ErrStoreUnavailable, err)
	}
	return err
}

const leadColumns = `id, name, email, phone, company, source, status, value, notes, owner, created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (crm.Lead, error) {
	var l crm.Lead
	err := row.Scan(&l.ID, &l.Name, &l.Email, &l.Phone, &l.Company, &l.Source,
		&l.Status, &l.Value, &l.Notes, &l.Owner, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return crm.Lead{}, crm.ErrNotFound
	}
	if err != nil {
		return crm.Lead{}, storeErr(err)
	}
	return l, nil
}

func (s *Store) GetLead(ctx context.Context, id string) (crm.Lead, error) {
	row := s.db.QueryRowContext(ctx, `select `+leadColumns+` from leads where id=$1`, id)
	return scanLead(row)
}

var leadSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"name":       "name",
	"value":      "value",
}

func (s *Store) ListLeads(ctx context.Context, filter crm.LeadFilter) (crm.LeadPage, error) {
	where := []string{"true"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Owner != "" {
		where = append(where, "owner="+arg(filter.Owner))
	}
	if filter.Status != "" {
		where = append(where, "status="+arg(string(filter.Status)))
	}
	if filter.Source != "" {
		where = append(where, "source="+arg(string(filter.Source)))
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		p := arg(pattern)
		where = append(where, "(name ilike "+p+" or email ilike "+p+" or company ilike "+p+")")
	}
	cond := strings.Join(where, " and ")

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from leads where `+cond, args...).Scan(&total); err != nil {
		return crm.LeadPage{}, storeErr(err)
	}

	sortCol, ok := leadSortColumns[filter.SortBy]
	if !ok {
		sortCol = "created_at"
	}
	dir := "desc"
	if filter.SortOrder == "asc" {
		dir = "asc"
	}

	page, limit := filter.Page, filter.Limit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	query := `select ` + leadColumns + ` from leads where ` + cond +
		` order by ` + sortCol + ` ` + dir +
		` limit ` + arg(limit) + ` offset ` + arg((page-1)*limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return crm.LeadPage{}, storeErr(err)
	}
	defer rows.Close()

	var leads []crm.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return crm.LeadPage{}, err
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return crm.LeadPage{}, storeErr(err)
	}

	return crm.LeadPage{
		Leads: leads,
		Pagination: crm.Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

func (s *Store) InsertLead(ctx context.Context, l crm.Lead) error {
	_, err := s.db.ExecContext(ctx, `
		insert into leads(`+leadColumns+`)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, l.ID, l.Name, l.Email, l.Phone, l.Company, string(l.Source), string(l.Status),
		l.Value, l.Notes, l.Owner, l.CreatedAt, l.UpdatedAt)
	return storeErr(err)
}

func (s *Store) UpdateLead(ctx context.Context, id string, patch crm.LeadPatch) (crm.Lead, error) {
	set := []string{}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Name != nil {
		set = append(set, "name="+arg(*patch.Name))
	}
	if patch.Email != nil {
		set = append(set, "email="+arg(*patch.Email))
	}
	if patch.Phone != nil {
		set = append(set, "phone="+arg(*patch.Phone))
	}
	if patch.Company != nil {
		set = append(set, "company="+arg(*patch.Company))
	}
	if patch.Source != nil {
		set = append(set, "source="+arg(string(*patch.Source)))
	}
	if patch.Status != nil {
		set = append(set, "status="+arg(string(*patch.Status)))
	}
	if patch.Value != nil {
		set = append(set, "value="+arg(*patch.Value))
	}
	if patch.Notes != nil {
		set = append(set, "notes="+arg(*patch.Notes))
	}
	set = append(set, "updated_at=now()")

	query := `update leads set ` + strings.Join(set, ", ") +
		` where id=` + arg(id) + ` returning ` + leadColumns
	row := s.db.QueryRowContext(ctx, query, args...)
	return scanLead(row)
}

func (s *Store) DeleteLead(ctx context.Context, id string) error {
	// Activities keep their lead_id; no cascade.
	res, err := s.db.ExecContext(ctx, `delete from leads where id=$1`, id)
	if err != nil {
		return storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return crm.ErrNotFound
	}
	return nil
}

const activityColumns = `id, lead_id, created_by, type, title, description, scheduled_date, created_at, updated_at`

func scanActivity(row interface{ Scan(...any) error }) (crm.Activity, error) {
	var a crm.Activity
	var scheduled sql.NullTime
	err := row.Scan(&a.ID, &a.Lead, &a.CreatedBy, &a.Type, &a.Title,
		&a.Description, &scheduled, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return crm.Activity{}, crm.ErrNotFound
	}
	if err != nil {
		return crm.Activity{}, storeErr(err)
	}
	if scheduled.Valid {
		t := scheduled.Time
		a.ScheduledDate = &t
	}
	return a, nil
}

func (s *Store) GetActivity(ctx context.Context, id string) (crm.Activity, error) {
	row := s.db.QueryRowContext(ctx, `select `+activityColumns+` from activities where id=$1`, id)
	return scanActivity(row)
}

func (s *Store) ListActivities(ctx context.Context, leadID string) ([]crm.Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+activityColumns+` from activities where lead_id=$1 order by created_at desc`, leadID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var activities []crm.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, storeErr(rows.Err())
}

func (s *Store) InsertActivity(ctx context.Context, a crm.Activity) error {
	var scheduled sql.NullTime
	if a.ScheduledDate != nil {
		scheduled = sql.NullTime{Time: *a.ScheduledDate, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into activities(`+activityColumns+`)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, a.ID, a.Lead, a.CreatedBy, string(a.Type), a.Title, a.Description,
		scheduled, a.CreatedAt, a.UpdatedAt)
	return storeErr(err)
}

func (s *Store) UpdateActivity(ctx context.Context, id string, patch crm.ActivityPatch) (crm.Activity, error) {
	set := []string{}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Type != nil {
		set = append(set, "type="+arg(string(*patch.Type)))
	}
	if patch.Title != nil {
		set = append(set, "title="+arg(*patch.Title))
	}
	if patch.Description != nil {
		set = append(set, "description="+arg(*patch.Description))
	}
	if patch.ScheduledDate != nil {
		set = append(set, "scheduled_date="+arg(*patch.ScheduledDate))
	}
	set = append(set, "updated_at=now()")

	query := `update activities set ` + strings.Join(set, ", ") +
		` where id=` + arg(id) + ` returning ` + activityColumns
	row := s.db.QueryRowContext(ctx, query, args...)
	return scanActivity(row)
}

func (s *Store) DeleteActivity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from activities where id=$1`, id)
	if err != nil {
		return storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return crm.ErrNotFound
	}
	return nil
}

func (s *Store) LeadStats(ctx context.Context, owner string) (crm.Stats, error) {
	stats := crm.Stats{
		ByStatus: make(map[crm.LeadStatus]int),
		BySource: make(map[crm.LeadSource]int),
	}

	cond := "true"
	args := []any{}
	if owner != "" {
		cond = "owner=$1"
		args = append(args, owner)
	}

	err := s.db.QueryRowContext(ctx,
		`select count(*), coalesce(sum(value),0) from leads where `+cond, args...).
		Scan(&stats.TotalLeads, &stats.TotalValue)
	if err != nil {
		return crm.Stats{}, storeErr(err)
	}

	rows, err := s.db.QueryContext(ctx,
		`select status, source, count(*) from leads where `+cond+` group by status, source`, args...)
	if err != nil {
		return crm.Stats{}, storeErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, source string
		var n int
		if err := rows.Scan(&status, &source, &n); err != nil {
			return crm.Stats{}, storeErr(err)
		}
		stats.ByStatus[crm.LeadStatus(status)] += n
		stats.BySource[crm.LeadSource(source)] += n
	}
	return stats, storeErr(rows.Err())
}

func (s *Store) RecentActivities(ctx context.Context, owner string, limit int) ([]crm.Activity, error) {
	query := `select ` + prefixColumns("a", activityColumns) + ` from activities a
		left join leads l on l.id = a.lead_id`
	args := []any{}
	if owner != "" {
		query += ` where l.owner=$1 or a.created_by=$1`
		args = append(args, owner)
	}
	query += fmt.Sprintf(` order by a.created_at desc limit $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []crm.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, storeErr(rows.Err())
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
