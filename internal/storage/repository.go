package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"token-watch/internal/rule"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrRuleNotFound indicates the rule row is missing, e.g. deleted
	// concurrently with an evaluation.
	ErrRuleNotFound = errors.New("storage: rule not found")
	// ErrCorruptPayload indicates a rule row whose stored payload does not
	// decode. Batch queries skip such rows so one corrupt rule cannot
	// stall every other rule.
	ErrCorruptPayload = errors.New("storage: corrupt rule payload")
)

const (
	ruleColumns = `id, owner_id, kind, subject_token, subject_timeframe, enabled,
        stage, status, channels, payload, cooldown_until, expires_at,
        created_at, updated_at`

	insertRuleSQL = `INSERT INTO rules (
        id, owner_id, kind, subject_token, subject_timeframe, enabled,
        stage, status, channels, payload, cooldown_until, expires_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);`

	getRuleSQL = `SELECT ` + ruleColumns + ` FROM rules WHERE id = $1;`

	listRulesSQL = `SELECT ` + ruleColumns + ` FROM rules
    ORDER BY created_at DESC
    LIMIT $1;`

	// A cooling-down rule does no work, so it is filtered here, except
	// session rules whose cooldown expiry drives their silent reset.
	listDueRulesSQL = `SELECT ` + ruleColumns + ` FROM rules
    WHERE enabled
      AND (cooldown_until IS NULL OR cooldown_until <= $1 OR kind = 'session')
      AND (kind <> 'confirmation' OR stage = 'WATCHING')
    ORDER BY updated_at
    LIMIT $2;`

	deleteRuleSQL = `DELETE FROM rules WHERE id = $1;`

	eventColumns = `event_id, type, occurred_at, rule_id, owner_id,
        subject_token, subject_timeframe, stage, status, detail, created_at`

	// Duplicate event ids are a retried transition; never a second row.
	appendEventSQL = `INSERT INTO events (
        event_id, type, occurred_at, rule_id, owner_id,
        subject_token, subject_timeframe, stage, status, detail
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    ON CONFLICT (event_id) DO NOTHING;`

	// The cursor is the (occurred_at, event_id) tuple: events emitted in
	// the same tick share a timestamp, so a bare timestamp cursor would
	// skip the tail of a split group.
	listEventsAfterSQL = `SELECT ` + eventColumns + ` FROM events
    WHERE (occurred_at, event_id) > ($1, $2)
    ORDER BY occurred_at, event_id
    LIMIT $3;`

	listRecentEventsSQL = `SELECT ` + eventColumns + ` FROM events
    ORDER BY occurred_at DESC
    LIMIT $1;`

	deleteEventsBeforeSQL = `DELETE FROM events WHERE occurred_at < $1;`

	upsertObservationSQL = `INSERT INTO observations (
        subject, bucket_ts, price, volume, trade_count,
        holder_count, holder_delta_30m, holder_delta_6h
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    ON CONFLICT (subject, bucket_ts) DO UPDATE
    SET price            = EXCLUDED.price,
        volume           = EXCLUDED.volume,
        trade_count      = EXCLUDED.trade_count,
        holder_count     = EXCLUDED.holder_count,
        holder_delta_30m = EXCLUDED.holder_delta_30m,
        holder_delta_6h  = EXCLUDED.holder_delta_6h;`

	listObservationsSQL = `SELECT
        subject, bucket_ts, price, volume, trade_count,
        holder_count, holder_delta_30m, holder_delta_6h, created_at
    FROM observations
    WHERE subject = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	deleteObservationsBeforeSQL = `DELETE FROM observations WHERE bucket_ts < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RuleStore defines single-row-per-rule persistence. UpdateRule applies a
// merge of only the changed fields.
type RuleStore interface {
	CreateRule(ctx context.Context, r rule.Rule) error
	GetRule(ctx context.Context, id string) (rule.Rule, error)
	ListRules(ctx context.Context, limit int) ([]rule.Rule, error)
	ListDueRules(ctx context.Context, now time.Time, limit int) ([]rule.Rule, error)
	UpdateRule(ctx context.Context, id string, patch rule.Patch) error
	DeleteRule(ctx context.Context, id string) error
}

// EventLog defines the append-only, idempotent record of emitted events.
// Paging is keyed by the (occurred_at, event_id) tuple so equal-timestamp
// events never straddle a cursor position.
type EventLog interface {
	AppendEvent(ctx context.Context, ev rule.Event) error
	ListEventsAfter(ctx context.Context, after time.Time, afterID string, limit int) ([]rule.Event, error)
	ListRecentEvents(ctx context.Context, limit int) ([]rule.Event, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ObservationStore persists fetched snapshots for history and export.
type ObservationStore interface {
	RecordObservation(ctx context.Context, obs ObservationRecord) error
	ListObservationsBetween(ctx context.Context, subject string, from, to time.Time) ([]ObservationRecord, error)
	DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates Postgres-backed access to rules, events, and
// observations.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With().Str("component", "storage").Logger(),
	}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// CreateRule inserts a new rule row.
func (s *Store) CreateRule(ctx context.Context, r rule.Rule) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	payload, err := rule.MarshalPayload(r.Payload)
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertRuleSQL,
		r.ID,
		r.OwnerID,
		string(r.Kind),
		r.Subject.Token,
		r.Subject.Timeframe,
		r.Enabled,
		string(r.Stage),
		string(r.Status),
		r.Channels,
		payload,
		r.CooldownUntil,
		r.ExpiresAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert rule: %w", execErr)
	}
	return nil
}

// GetRule fetches one rule by id.
func (s *Store) GetRule(ctx context.Context, id string) (rule.Rule, error) {
	pool, err := s.getPool()
	if err != nil {
		return rule.Rule{}, err
	}

	row := pool.QueryRow(ctx, getRuleSQL, id)
	r, scanErr := scanRule(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return rule.Rule{}, ErrRuleNotFound
		}
		return rule.Rule{}, scanErr
	}
	return r, nil
}

// ListRules lists rules ordered by creation, newest first.
func (s *Store) ListRules(ctx context.Context, limit int) ([]rule.Rule, error) {
	return s.queryRules(ctx, listRulesSQL, limit)
}

// ListDueRules fetches up to limit enabled rules eligible for evaluation.
func (s *Store) ListDueRules(ctx context.Context, now time.Time, limit int) ([]rule.Rule, error) {
	return s.queryRules(ctx, listDueRulesSQL, now, limit)
}

func (s *Store) queryRules(ctx context.Context, sql string, args ...any) ([]rule.Rule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sql, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query rules: %w", queryErr)
	}
	defer rows.Close()

	rules := make([]rule.Rule, 0)
	skipped := 0
	for rows.Next() {
		r, scanErr := scanRule(rows)
		if scanErr != nil {
			// A corrupt payload is that rule's problem, not the batch's.
			if errors.Is(scanErr, ErrCorruptPayload) {
				skipped++
				continue
			}
			return nil, scanErr
		}
		rules = append(rules, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if skipped > 0 {
		s.logger.Warn().
			Int("skipped", skipped).
			Str("error_class", "payload").
			Msg("skipped rules with undecodable payloads")
	}
	return rules, nil
}

// UpdateRule applies a partial merge to one rule row. Returns
// ErrRuleNotFound when the row was deleted concurrently.
func (s *Store) UpdateRule(ctx context.Context, id string, patch rule.Patch) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if patch.IsZero() {
		return nil
	}

	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	args = append(args, id)

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Enabled != nil {
		add("enabled", *patch.Enabled)
	}
	if patch.Stage != nil {
		add("stage", string(*patch.Stage))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.Payload != nil {
		payload, marshalErr := rule.MarshalPayload(patch.Payload)
		if marshalErr != nil {
			return marshalErr
		}
		add("payload", payload)
	}
	if patch.CooldownUntil != nil {
		if patch.CooldownUntil.IsZero() {
			add("cooldown_until", nil)
		} else {
			add("cooldown_until", *patch.CooldownUntil)
		}
	}
	sets = append(sets, "updated_at = now()")

	sql := "UPDATE rules SET " + strings.Join(sets, ", ") + " WHERE id = $1;"
	cmdTag, execErr := pool.Exec(ctx, sql, args...)
	if execErr != nil {
		return fmt.Errorf("update rule: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// DeleteRule removes a rule row.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteRuleSQL, id)
	if execErr != nil {
		return fmt.Errorf("delete rule: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// AppendEvent records an emitted event. Safe to call with a duplicate
// event id.
func (s *Store) AppendEvent(ctx context.Context, ev rule.Event) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, appendEventSQL,
		ev.EventID,
		ev.Type,
		ev.OccurredAt,
		ev.RuleID,
		ev.OwnerID,
		ev.Subject.Token,
		ev.Subject.Timeframe,
		string(ev.Stage),
		string(ev.Status),
		[]byte(ev.Detail),
	)
	if execErr != nil {
		return fmt.Errorf("append event: %w", execErr)
	}
	return nil
}

// ListEventsAfter pages through events past the (after, afterID) cursor
// position in ascending (occurred_at, event_id) order.
func (s *Store) ListEventsAfter(ctx context.Context, after time.Time, afterID string, limit int) ([]rule.Event, error) {
	return s.queryEvents(ctx, listEventsAfterSQL, after, afterID, limit)
}

// ListRecentEvents lists the most recent events, newest first.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]rule.Event, error) {
	return s.queryEvents(ctx, listRecentEventsSQL, limit)
}

func (s *Store) queryEvents(ctx context.Context, sql string, args ...any) ([]rule.Event, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sql, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]rule.Event, 0)
	for rows.Next() {
		var ev rule.Event
		var stage, status string
		if scanErr := rows.Scan(
			&ev.EventID,
			&ev.Type,
			&ev.OccurredAt,
			&ev.RuleID,
			&ev.OwnerID,
			&ev.Subject.Token,
			&ev.Subject.Timeframe,
			&stage,
			&status,
			&ev.Detail,
			&ev.CreatedAt,
		); scanErr != nil {
			return nil, scanErr
		}
		ev.Stage = rule.Stage(stage)
		ev.Status = rule.Status(status)
		events = append(events, ev)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// DeleteEventsBefore removes events older than the cutoff and reports how
// many were deleted.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteEventsBeforeSQL, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("delete events before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// RecordObservation persists or updates one subject snapshot.
func (s *Store) RecordObservation(ctx context.Context, obs ObservationRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertObservationSQL,
		obs.Subject,
		obs.Bucket,
		obs.Price.String(),
		obs.Volume.String(),
		obs.TradeCount,
		obs.HolderCount,
		obs.HolderDelta30m,
		obs.HolderDelta6h,
	)
	if execErr != nil {
		return fmt.Errorf("upsert observation: %w", execErr)
	}
	return nil
}

// ListObservationsBetween lists a subject's snapshots within a window.
func (s *Store) ListObservationsBetween(ctx context.Context, subject string, from, to time.Time) ([]ObservationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsSQL, subject, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations: %w", queryErr)
	}
	defer rows.Close()

	records := make([]ObservationRecord, 0)
	for rows.Next() {
		var rec ObservationRecord
		var priceStr, volumeStr string
		if scanErr := rows.Scan(
			&rec.Subject,
			&rec.Bucket,
			&priceStr,
			&volumeStr,
			&rec.TradeCount,
			&rec.HolderCount,
			&rec.HolderDelta30m,
			&rec.HolderDelta6h,
			&rec.CreatedAt,
		); scanErr != nil {
			return nil, scanErr
		}

		var convErr error
		rec.Price, convErr = decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}
		rec.Volume, convErr = decimal.NewFromString(volumeStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse volume: %w", convErr)
		}

		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// DeleteObservationsBefore removes snapshots older than the cutoff.
func (s *Store) DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteObservationsBeforeSQL, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("delete observations before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

func scanRule(row pgx.Row) (rule.Rule, error) {
	var (
		r        rule.Rule
		kind     string
		stage    string
		status   string
		payload  []byte
		cooldown *time.Time
		expires  *time.Time
	)

	if err := row.Scan(
		&r.ID,
		&r.OwnerID,
		&kind,
		&r.Subject.Token,
		&r.Subject.Timeframe,
		&r.Enabled,
		&stage,
		&status,
		&r.Channels,
		&payload,
		&cooldown,
		&expires,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return rule.Rule{}, err
	}

	r.Kind = rule.Kind(kind)
	r.Stage = rule.Stage(stage)
	r.Status = rule.Status(status)
	r.CooldownUntil = cooldown
	r.ExpiresAt = expires

	decoded, err := rule.UnmarshalPayload(payload)
	if err != nil {
		return rule.Rule{}, fmt.Errorf("%w: rule %s: %v", ErrCorruptPayload, r.ID, err)
	}
	r.Payload = decoded

	return r, nil
}
