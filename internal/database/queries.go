package database

// Channel mapping queries
const (
	insertMappingQuery = `
		INSERT INTO channel_mappings (
			id, event_id, chat_thread_id, platform, external_group_id,
			external_group_name, share_url, bot_id, webhook_secret,
			conversation_ref, tenant_id, installed_by_name,
			is_emulator_or_test, last_activity_at, is_active,
			created_by, updated_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	mappingColumns = `
		id, event_id, chat_thread_id, platform, external_group_id,
		external_group_name, share_url, bot_id, webhook_secret,
		conversation_ref, tenant_id, installed_by_name,
		is_emulator_or_test, last_activity_at, is_active,
		created_at, created_by, updated_at, updated_by
	`

	selectMappingByIDQuery = `
		SELECT ` + mappingColumns + `
		FROM channel_mappings
		WHERE id = ?
	`

	selectActiveMappingByConversationQuery = `
		SELECT ` + mappingColumns + `
		FROM channel_mappings
		WHERE platform = ? AND external_group_id = ? AND is_active = TRUE
	`

	selectActiveMappingByThreadQuery = `
		SELECT ` + mappingColumns + `
		FROM channel_mappings
		WHERE chat_thread_id = ? AND is_active = TRUE
	`

	selectActiveMappingsByThreadQuery = `
		SELECT ` + mappingColumns + `
		FROM channel_mappings
		WHERE chat_thread_id = ? AND is_active = TRUE
		ORDER BY created_at
	`

	selectActiveMappingsByEventQuery = `
		SELECT ` + mappingColumns + `
		FROM channel_mappings
		WHERE event_id = ? AND is_active = TRUE
		ORDER BY created_at
	`

	refreshMappingActivityQuery = `
		UPDATE channel_mappings
		SET conversation_ref = CASE WHEN ? != '' THEN ? ELSE conversation_ref END,
		    installed_by_name = CASE WHEN installed_by_name = '' THEN ? ELSE installed_by_name END,
		    external_group_name = CASE WHEN ? != '' THEN ? ELSE external_group_name END,
		    last_activity_at = ?
		WHERE id = ?
	`

	updateConversationRefQuery = `
		UPDATE channel_mappings
		SET conversation_ref = ?, updated_by = ?
		WHERE id = ?
	`

	renameMappingQuery = `
		UPDATE channel_mappings
		SET external_group_name = ?, updated_by = ?
		WHERE id = ?
	`

	linkMappingQuery = `
		UPDATE channel_mappings
		SET event_id = ?, chat_thread_id = ?, updated_by = ?
		WHERE id = ?
	`

	unlinkMappingQuery = `
		UPDATE channel_mappings
		SET event_id = NULL, chat_thread_id = NULL, updated_by = ?
		WHERE id = ?
	`

	deactivateMappingQuery = `
		UPDATE channel_mappings
		SET is_active = FALSE, updated_by = ?
		WHERE id = ? AND is_active = TRUE
	`

	reactivateMappingQuery = `
		UPDATE channel_mappings
		SET is_active = TRUE, updated_by = ?
		WHERE id = ? AND is_active = FALSE
	`

	deactivateStaleMappingsQuery = `
		UPDATE channel_mappings
		SET is_active = FALSE, updated_by = ?
		WHERE is_active = TRUE
		  AND last_activity_at IS NOT NULL
		  AND last_activity_at < ?
	`
)

// Chat message queries
const (
	insertExternalMessageQuery = `
		INSERT OR IGNORE INTO chat_messages (
			id, chat_thread_id, message, created_by, is_active,
			external_source, external_message_id, external_sender_name,
			external_sender_id, external_timestamp, external_attachment_url,
			external_channel_mapping_id
		) VALUES (?, ?, ?, ?, TRUE, ?, ?, ?, ?, ?, ?, ?)
	`

	insertNativeMessageQuery = `
		INSERT INTO chat_messages (id, chat_thread_id, message, created_by, is_active)
		VALUES (?, ?, ?, ?, TRUE)
	`

	messageColumns = `
		id, chat_thread_id, message, created_at, created_by, is_active,
		external_source, external_message_id, external_sender_name,
		external_sender_id, external_timestamp, external_attachment_url,
		external_channel_mapping_id, logbook_entry_id, promoted_at, promoted_by
	`

	selectMessagesByThreadQuery = `
		SELECT ` + messageColumns + `
		FROM chat_messages
		WHERE chat_thread_id = ? AND is_active = TRUE
		ORDER BY created_at, id
	`

	selectMessageByIDQuery = `
		SELECT ` + messageColumns + `
		FROM chat_messages
		WHERE id = ?
	`

	softDeleteMessageQuery = `
		UPDATE chat_messages
		SET is_active = FALSE
		WHERE id = ?
	`

	promoteMessageQuery = `
		UPDATE chat_messages
		SET logbook_entry_id = ?, promoted_at = ?, promoted_by = ?
		WHERE id = ? AND promoted_at IS NULL
	`
)
