package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "cobrarelay/internal/errors"
	"cobrarelay/internal/models"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// CreateMapping inserts a new channel mapping. A missing ID is assigned. A
// second active mapping for the same (platform, externalGroupId) fails with a
// ConflictError; the partial unique index is the arbiter so concurrent
// creators cannot both win.
func (d *Database) CreateMapping(ctx context.Context, m *models.ChannelMapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	secret, err := d.encryptor.EncryptIfEnabled(m.WebhookSecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt webhook secret: %w", err)
	}
	ref, err := d.encryptor.EncryptIfEnabled(m.ConversationRef)
	if err != nil {
		return fmt.Errorf("failed to encrypt conversation reference: %w", err)
	}

	_, err = d.db.ExecContext(ctx, insertMappingQuery,
		m.ID,
		nullableString(m.EventID),
		nullableString(m.ChatThreadID),
		string(m.Platform),
		m.ExternalGroupID,
		m.ExternalGroupName,
		m.ShareURL,
		m.BotID,
		secret,
		ref,
		m.TenantID,
		m.InstalledByName,
		m.IsEmulatorOrTest,
		nullableTime(m.LastActivityAt),
		m.IsActive,
		m.CreatedBy,
		m.UpdatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError(string(m.Platform), m.ExternalGroupID)
		}
		return apperrors.NewDatabaseError("create mapping", err)
	}

	return nil
}

// GetMapping retrieves a mapping by id, active or not. Returns (nil, nil)
// when absent.
func (d *Database) GetMapping(ctx context.Context, id string) (*models.ChannelMapping, error) {
	return d.scanMapping(d.db.QueryRowContext(ctx, selectMappingByIDQuery, id))
}

// GetActiveMappingByConversation resolves the single active mapping for an
// external conversation. Returns (nil, nil) when absent.
func (d *Database) GetActiveMappingByConversation(ctx context.Context, platform models.Platform, externalGroupID string) (*models.ChannelMapping, error) {
	return d.scanMapping(d.db.QueryRowContext(ctx, selectActiveMappingByConversationQuery, string(platform), externalGroupID))
}

// GetActiveMappingByThread resolves the active mapping linked to a COBRA chat
// thread. Returns (nil, nil) when the thread has no linked channel.
func (d *Database) GetActiveMappingByThread(ctx context.Context, chatThreadID string) (*models.ChannelMapping, error) {
	return d.scanMapping(d.db.QueryRowContext(ctx, selectActiveMappingByThreadQuery, chatThreadID))
}

// GetActiveMappingsByThread lists every active mapping linked to a thread.
// A thread may fan out to channels on several platforms at once.
func (d *Database) GetActiveMappingsByThread(ctx context.Context, chatThreadID string) ([]*models.ChannelMapping, error) {
	rows, err := d.db.QueryContext(ctx, selectActiveMappingsByThreadQuery, chatThreadID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list mappings by thread", err)
	}
	defer rows.Close()

	return d.collectMappings(rows)
}

// GetActiveMappingsByEvent lists every active mapping linked to an event, in
// creation order.
func (d *Database) GetActiveMappingsByEvent(ctx context.Context, eventID string) ([]*models.ChannelMapping, error) {
	rows, err := d.db.QueryContext(ctx, selectActiveMappingsByEventQuery, eventID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list mappings by event", err)
	}
	defer rows.Close()

	return d.collectMappings(rows)
}

// ListMappings returns mappings matching the filter, newest first.
func (d *Database) ListMappings(ctx context.Context, filter models.MappingFilter) ([]*models.ChannelMapping, error) {
	var conditions []string
	var args []interface{}

	if filter.Platform != "" {
		conditions = append(conditions, "platform = ?")
		args = append(args, string(filter.Platform))
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "is_active = TRUE")
	}
	if filter.IdleSince != nil {
		conditions = append(conditions, "(last_activity_at IS NULL OR last_activity_at < ?)")
		args = append(args, filter.IdleSince.UTC())
	}
	if filter.EventID != "" {
		conditions = append(conditions, "event_id = ?")
		args = append(args, filter.EventID)
	}
	if !filter.IncludeTest {
		conditions = append(conditions, "is_emulator_or_test = FALSE")
	}

	query := "SELECT " + mappingColumns + " FROM channel_mappings"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list mappings", err)
	}
	defer rows.Close()

	return d.collectMappings(rows)
}

// RefreshMappingActivity applies the inbound-callback refresh: replace the
// conversation reference when the payload carried one, record activity time,
// and set installedByName/groupName only when still empty (first-writer-wins).
func (d *Database) RefreshMappingActivity(ctx context.Context, id, conversationRef, installedBy, groupName string, activityAt time.Time) error {
	ref, err := d.encryptor.EncryptIfEnabled(conversationRef)
	if err != nil {
		return fmt.Errorf("failed to encrypt conversation reference: %w", err)
	}

	_, err = d.db.ExecContext(ctx, refreshMappingActivityQuery,
		ref, ref, installedBy, groupName, groupName, activityAt.UTC(), id)
	if err != nil {
		return apperrors.NewDatabaseError("refresh mapping activity", err)
	}
	return nil
}

// UpdateConversationRef replaces the stored conversation reference.
func (d *Database) UpdateConversationRef(ctx context.Context, id, conversationRef, actor string) error {
	ref, err := d.encryptor.EncryptIfEnabled(conversationRef)
	if err != nil {
		return fmt.Errorf("failed to encrypt conversation reference: %w", err)
	}
	return d.execOnMapping(ctx, "update conversation reference", updateConversationRefQuery, ref, actor, id)
}

// RenameMapping updates the display name of the external conversation.
func (d *Database) RenameMapping(ctx context.Context, id, name, actor string) error {
	return d.execOnMapping(ctx, "rename mapping", renameMappingQuery, name, actor, id)
}

// LinkMapping connects a parked mapping to a COBRA event and chat thread.
func (d *Database) LinkMapping(ctx context.Context, id, eventID, chatThreadID, actor string) error {
	return d.execOnMapping(ctx, "link mapping", linkMappingQuery, eventID, chatThreadID, actor, id)
}

// UnlinkMapping detaches a mapping from its event and thread, returning it to
// the parked state.
func (d *Database) UnlinkMapping(ctx context.Context, id, actor string) error {
	return d.execOnMapping(ctx, "unlink mapping", unlinkMappingQuery, actor, id)
}

// DeactivateMapping soft-deletes a mapping. Idempotent: deactivating an
// already-inactive mapping is a no-op, but an unknown id is NotFound.
func (d *Database) DeactivateMapping(ctx context.Context, id, actor string) error {
	result, err := d.db.ExecContext(ctx, deactivateMappingQuery, actor, id)
	if err != nil {
		return apperrors.NewDatabaseError("deactivate mapping", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		existing, err := d.GetMapping(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return apperrors.NewNotFoundError("mapping", id)
		}
	}
	return nil
}

// ReactivateMapping reverses a deactivation. Fails with ConflictError when
// another active mapping has claimed the conversation in the meantime.
func (d *Database) ReactivateMapping(ctx context.Context, id, actor string) error {
	result, err := d.db.ExecContext(ctx, reactivateMappingQuery, actor, id)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := d.GetMapping(ctx, id)
			if getErr == nil && existing != nil {
				return apperrors.NewConflictError(string(existing.Platform), existing.ExternalGroupID)
			}
			return apperrors.NewConflictError("", "")
		}
		return apperrors.NewDatabaseError("reactivate mapping", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		existing, err := d.GetMapping(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return apperrors.NewNotFoundError("mapping", id)
		}
	}
	return nil
}

// DeactivateStaleMappings deactivates every active mapping idle since before
// the cutoff and returns the count.
func (d *Database) DeactivateStaleMappings(ctx context.Context, cutoff time.Time, actor string) (int64, error) {
	result, err := d.db.ExecContext(ctx, deactivateStaleMappingsQuery, actor, cutoff.UTC())
	if err != nil {
		return 0, apperrors.NewDatabaseError("deactivate stale mappings", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.NewDatabaseError("deactivate stale mappings", err)
	}
	return rows, nil
}

func (d *Database) execOnMapping(ctx context.Context, operation, query string, args ...interface{}) error {
	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewDatabaseError(operation, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError(operation, err)
	}
	if rows == 0 {
		return apperrors.NewNotFoundError("mapping", fmt.Sprintf("%v", args[len(args)-1]))
	}
	return nil
}

func (d *Database) collectMappings(rows *sql.Rows) ([]*models.ChannelMapping, error) {
	var mappings []*models.ChannelMapping
	for rows.Next() {
		m, err := d.scanMappingRow(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("scan mappings", err)
	}
	return mappings, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanMapping(row *sql.Row) (*models.ChannelMapping, error) {
	m, err := d.scanMappingRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (d *Database) scanMappingRow(row rowScanner) (*models.ChannelMapping, error) {
	var (
		m              models.ChannelMapping
		eventID        sql.NullString
		chatThreadID   sql.NullString
		platform       string
		secret         string
		ref            string
		lastActivityAt sql.NullTime
	)

	err := row.Scan(
		&m.ID,
		&eventID,
		&chatThreadID,
		&platform,
		&m.ExternalGroupID,
		&m.ExternalGroupName,
		&m.ShareURL,
		&m.BotID,
		&secret,
		&ref,
		&m.TenantID,
		&m.InstalledByName,
		&m.IsEmulatorOrTest,
		&lastActivityAt,
		&m.IsActive,
		&m.CreatedAt,
		&m.CreatedBy,
		&m.UpdatedAt,
		&m.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.NewDatabaseError("scan mapping", err)
	}

	m.Platform = models.Platform(platform)
	if eventID.Valid {
		m.EventID = &eventID.String
	}
	if chatThreadID.Valid {
		m.ChatThreadID = &chatThreadID.String
	}
	if lastActivityAt.Valid {
		t := lastActivityAt.Time
		m.LastActivityAt = &t
	}

	m.WebhookSecret, err = d.encryptor.DecryptIfEnabled(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt webhook secret: %w", err)
	}
	m.ConversationRef, err = d.encryptor.DecryptIfEnabled(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt conversation reference: %w", err)
	}

	return &m, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func nullableString(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
