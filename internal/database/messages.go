package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "cobrarelay/internal/errors"
	"cobrarelay/internal/models"

	"github.com/google/uuid"
)

// InsertExternalMessage persists a message mirrored from an external
// platform. Returns false when the (externalMessageId, chatThreadId) dedup
// key already exists; repeated webhook delivery is success, not an error.
// The unique index, not this method, is what makes concurrent duplicate
// callbacks safe.
func (d *Database) InsertExternalMessage(ctx context.Context, msg *models.ChatMessage) (bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	result, err := d.db.ExecContext(ctx, insertExternalMessageQuery,
		msg.ID,
		msg.ChatThreadID,
		msg.Message,
		msg.CreatedBy,
		string(msg.ExternalSource),
		msg.ExternalMessageID,
		msg.ExternalSenderName,
		msg.ExternalSenderID,
		nullableTime(msg.ExternalTimestamp),
		msg.ExternalAttachmentURL,
		msg.ExternalChannelMappingID,
	)
	if err != nil {
		return false, apperrors.NewDatabaseError("insert external message", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError("insert external message", err)
	}
	return rows > 0, nil
}

// InsertNativeMessage persists a message authored inside COBRA.
func (d *Database) InsertNativeMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	_, err := d.db.ExecContext(ctx, insertNativeMessageQuery,
		msg.ID, msg.ChatThreadID, msg.Message, msg.CreatedBy)
	if err != nil {
		return apperrors.NewDatabaseError("insert native message", err)
	}
	return nil
}

// GetMessagesByThread lists the active messages of a thread in send order.
func (d *Database) GetMessagesByThread(ctx context.Context, chatThreadID string) ([]*models.ChatMessage, error) {
	rows, err := d.db.QueryContext(ctx, selectMessagesByThreadQuery, chatThreadID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list thread messages", err)
	}
	defer rows.Close()

	var messages []*models.ChatMessage
	for rows.Next() {
		msg, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("scan thread messages", err)
	}
	return messages, nil
}

// GetMessage retrieves one message by id. Returns (nil, nil) when absent.
func (d *Database) GetMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	msg, err := scanMessageRow(d.db.QueryRowContext(ctx, selectMessageByIDQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

// SoftDeleteMessage hides a message without removing the record.
func (d *Database) SoftDeleteMessage(ctx context.Context, id string) error {
	return d.execOnMessage(ctx, "soft delete message", softDeleteMessageQuery, id)
}

// PromoteMessage records the one-way link to a derived logbook entry. A
// second promotion of the same message is a no-op.
func (d *Database) PromoteMessage(ctx context.Context, id, logbookEntryID, actor string) error {
	_, err := d.db.ExecContext(ctx, promoteMessageQuery, logbookEntryID, time.Now().UTC(), actor, id)
	if err != nil {
		return apperrors.NewDatabaseError("promote message", err)
	}
	return nil
}

func (d *Database) execOnMessage(ctx context.Context, operation, query string, args ...interface{}) error {
	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewDatabaseError(operation, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError(operation, err)
	}
	if rows == 0 {
		return apperrors.NewNotFoundError("message", args[len(args)-1].(string))
	}
	return nil
}

func scanMessageRow(row rowScanner) (*models.ChatMessage, error) {
	var (
		msg            models.ChatMessage
		source         sql.NullString
		externalMsgID  sql.NullString
		senderName     sql.NullString
		senderID       sql.NullString
		externalTime   sql.NullTime
		attachmentURL  sql.NullString
		mappingID      sql.NullString
		logbookEntryID sql.NullString
		promotedAt     sql.NullTime
		promotedBy     sql.NullString
	)

	err := row.Scan(
		&msg.ID,
		&msg.ChatThreadID,
		&msg.Message,
		&msg.CreatedAt,
		&msg.CreatedBy,
		&msg.IsActive,
		&source,
		&externalMsgID,
		&senderName,
		&senderID,
		&externalTime,
		&attachmentURL,
		&mappingID,
		&logbookEntryID,
		&promotedAt,
		&promotedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.NewDatabaseError("scan message", err)
	}

	msg.ExternalSource = models.Platform(source.String)
	msg.ExternalMessageID = externalMsgID.String
	msg.ExternalSenderName = senderName.String
	msg.ExternalSenderID = senderID.String
	msg.ExternalAttachmentURL = attachmentURL.String
	msg.ExternalChannelMappingID = mappingID.String
	msg.LogbookEntryID = logbookEntryID.String
	msg.PromotedBy = promotedBy.String
	if externalTime.Valid {
		t := externalTime.Time
		msg.ExternalTimestamp = &t
	}
	if promotedAt.Valid {
		t := promotedAt.Time
		msg.PromotedAt = &t
	}

	return &msg, nil
}
