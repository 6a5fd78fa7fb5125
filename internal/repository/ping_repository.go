package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kkkkikiki/studyping/internal/model"
)

const pingColumns = `id, study_id, ping_template_id, enrollment_id, day_num, scheduled_ts, expire_ts,
	reminder_ts, sent_ts, reminder_sent_ts, first_clicked_ts, last_clicked_ts, message,
	forwarding_code, created_at, updated_at, deleted_at`

// deliverableJoin restricts a claim to pings whose whole chain is live and
// whose enrollment has a recipient.
const deliverableJoin = `
	FROM pings p
	JOIN enrollments e ON e.id = p.enrollment_id
	JOIN ping_templates t ON t.id = p.ping_template_id
	JOIN studies s ON s.id = p.study_id
	WHERE p.deleted_at IS NULL AND e.deleted_at IS NULL
		AND t.deleted_at IS NULL AND s.deleted_at IS NULL
		AND e.enrolled AND e.telegram_id IS NOT NULL AND e.telegram_id <> ''
		AND (p.expire_ts IS NULL OR p.expire_ts > $1)`

// PingRepository handles ping data operations
type PingRepository struct{}

// NewPingRepository creates a new ping repository
func NewPingRepository() *PingRepository {
	return &PingRepository{}
}

// CreatePings inserts pings in batches and sets their IDs
func (r *PingRepository) CreatePings(ctx context.Context, db DBExecutor, pings []*model.Ping) error {
	now := time.Now().UTC()

	// 8 parameters per row keeps a batch well under the 65535 parameter limit
	batchSize := 1000

	for i := 0; i < len(pings); i += batchSize {
		end := i + batchSize
		if end > len(pings) {
			end = len(pings)
		}

		if err := r.insertPingBatch(ctx, db, pings[i:end], now); err != nil {
			return fmt.Errorf("failed to insert ping batch: %w", err)
		}
	}

	return nil
}

// insertPingBatch inserts a batch of pings using a single query
func (r *PingRepository) insertPingBatch(ctx context.Context, db DBExecutor, pings []*model.Ping, createdAt time.Time) error {
	if len(pings) == 0 {
		return nil
	}

	const cols = 8
	valuesClause := make([]string, len(pings))
	args := make([]interface{}, 0, len(pings)*cols+1)
	args = append(args, createdAt)

	for i, p := range pings {
		n := i*cols + 2
		valuesClause[i] = fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $1, $1)",
			n, n+1, n+2, n+3, n+4, n+5, n+6, n+7)
		args = append(args, p.StudyID, p.PingTemplateID, p.EnrollmentID, p.DayNum,
			p.ScheduledTS, p.ExpireTS, p.ReminderTS, p.ForwardingCode)
	}

	query := fmt.Sprintf(`
		INSERT INTO pings (study_id, ping_template_id, enrollment_id, day_num,
			scheduled_ts, expire_ts, reminder_ts, forwarding_code, created_at, updated_at)
		VALUES %s
		RETURNING id
	`, strings.Join(valuesClause, ", "))

	var ids []int64
	if err := db.SelectContext(ctx, &ids, query, args...); err != nil {
		return fmt.Errorf("failed to execute batch insert: %w", err)
	}
	if len(ids) != len(pings) {
		return fmt.Errorf("batch insert returned %d ids for %d pings", len(ids), len(pings))
	}
	for i, p := range pings {
		p.ID = ids[i]
		p.CreatedAt = createdAt
		p.UpdatedAt = createdAt
	}

	return nil
}

// GetPing retrieves a ping by ID
func (r *PingRepository) GetPing(ctx context.Context, db DBExecutor, id int64, includeDeleted bool) (*model.Ping, error) {
	query := `SELECT ` + pingColumns + ` FROM pings WHERE id = $1 AND ($2 OR deleted_at IS NULL)`

	var p model.Ping
	if err := getOne(ctx, db, &p, "ping", query, id, includeDeleted); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPingsByEnrollment returns an enrollment's pings in schedule order
func (r *PingRepository) ListPingsByEnrollment(ctx context.Context, db DBExecutor, enrollmentID int64, includeDeleted bool) ([]*model.Ping, error) {
	query := `
		SELECT ` + pingColumns + `
		FROM pings
		WHERE enrollment_id = $1 AND ($2 OR deleted_at IS NULL)
		ORDER BY scheduled_ts, id
	`

	var pings []*model.Ping
	if err := db.SelectContext(ctx, &pings, query, enrollmentID, includeDeleted); err != nil {
		return nil, fmt.Errorf("failed to list pings: %w", err)
	}
	return pings, nil
}

// RecordClick sets the first click once and refreshes the last click
func (r *PingRepository) RecordClick(ctx context.Context, db DBExecutor, id int64, at time.Time) (*model.Ping, error) {
	query := `
		UPDATE pings
		SET first_clicked_ts = COALESCE(first_clicked_ts, $2), last_clicked_ts = $2, updated_at = $2
		WHERE id = $1
		RETURNING ` + pingColumns

	var p model.Ping
	if err := getOne(ctx, db, &p, "ping", query, id, at); err != nil {
		return nil, err
	}
	return &p, nil
}

// ClaimDuePings stamps sent_ts on due pings using FOR UPDATE SKIP LOCKED, so
// concurrent dispatchers never claim the same row
func (r *PingRepository) ClaimDuePings(ctx context.Context, db DBExecutor, now time.Time, limit int) ([]int64, error) {
	query := `
		UPDATE pings SET sent_ts = $1, updated_at = $1
		WHERE sent_ts IS NULL AND id IN (
			SELECT p.id ` + deliverableJoin + `
				AND p.sent_ts IS NULL AND p.scheduled_ts <= $1
			ORDER BY p.scheduled_ts, p.id
			LIMIT $2
			FOR UPDATE OF p SKIP LOCKED
		)
		RETURNING id
	`

	var ids []int64
	if err := db.SelectContext(ctx, &ids, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to claim due pings: %w", err)
	}
	return ids, nil
}

// ReleasePing undoes a claim that still holds the claim stamp
func (r *PingRepository) ReleasePing(ctx context.Context, db DBExecutor, id int64, claimedAt time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE pings SET sent_ts = NULL, updated_at = now() WHERE id = $1 AND sent_ts = $2`, id, claimedAt)
	if err != nil {
		return fmt.Errorf("failed to release ping: %w", err)
	}
	return nil
}

// MarkPingSent stores the text that was delivered
func (r *PingRepository) MarkPingSent(ctx context.Context, db DBExecutor, id int64, message string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE pings SET message = $2, updated_at = now() WHERE id = $1`, id, message)
	if err != nil {
		return fmt.Errorf("failed to store sent message: %w", err)
	}
	return expectRows(result, "ping")
}

// ClaimDueReminders stamps reminder_sent_ts on unclicked pings whose
// reminder is due. Pings sent at now itself are left for the next tick.
func (r *PingRepository) ClaimDueReminders(ctx context.Context, db DBExecutor, now time.Time, limit int) ([]int64, error) {
	query := `
		UPDATE pings SET reminder_sent_ts = $1, updated_at = $1
		WHERE reminder_sent_ts IS NULL AND id IN (
			SELECT p.id ` + deliverableJoin + `
				AND p.sent_ts IS NOT NULL AND p.sent_ts < $1
				AND p.reminder_sent_ts IS NULL AND p.first_clicked_ts IS NULL
				AND p.reminder_ts <= $1
			ORDER BY p.reminder_ts, p.id
			LIMIT $2
			FOR UPDATE OF p SKIP LOCKED
		)
		RETURNING id
	`

	var ids []int64
	if err := db.SelectContext(ctx, &ids, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to claim due reminders: %w", err)
	}
	return ids, nil
}

// ReleaseReminder undoes a reminder claim that still holds the claim stamp
func (r *PingRepository) ReleaseReminder(ctx context.Context, db DBExecutor, id int64, claimedAt time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE pings SET reminder_sent_ts = NULL, updated_at = now() WHERE id = $1 AND reminder_sent_ts = $2`,
		id, claimedAt)
	if err != nil {
		return fmt.Errorf("failed to release reminder: %w", err)
	}
	return nil
}
