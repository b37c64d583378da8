package archive

// PrimaryTables lists the primary store tables copied into the archive.
func PrimaryTables() []Table {
	return []Table{
		{
			Source: "open_chat",
			Target: "openchat_master",
			Columns: []Column{
				{Source: "id", Target: "id"},
				{Source: "emid", Target: "emid"},
				{Source: "name", Target: "name"},
				{Source: "description", Target: "description"},
				{Source: "img_url", Target: "img_url"},
				{Source: "member", Target: "member"},
				{Source: "category", Target: "category"},
				{Source: "emblem", Target: "emblem"},
				{Source: "join_method_type", Target: "join_method_type"},
				{Source: "invitation_url", Target: "invitation_url"},
				{Source: "api_created_at", Target: "api_created_at"},
				{Source: "created_at", Target: "created_at"},
				{Source: "updated_at", Target: "updated_at"},
			},
			CursorColumn: 12,
			CursorKind:   CursorTime,
			Mode:         ModeUpsert,
			UniqueColumn: 1,
			SyncColumns:  []int{5},
			Verify:       true,
		},
		{
			Source: "daily_statistics",
			Target: "daily_member_statistics",
			Columns: []Column{
				{Source: "id", Target: "id"},
				{Source: "open_chat_id", Target: "open_chat_id"},
				{Source: "member", Target: "member"},
				{Source: "date", Target: "statistics_date", Date: true},
			},
			Verify: true,
		},
		{
			Source: "ranking_position_history",
			Target: "ranking_history",
			Columns: []Column{
				{Source: "id", Target: "id"},
				{Source: "open_chat_id", Target: "open_chat_id"},
				{Source: "category", Target: "category"},
				{Source: "sort", Target: "sort"},
				{Source: "position", Target: "position"},
				{Source: "time", Target: "recorded_at"},
			},
			Verify: true,
		},
		{
			Source: "open_chat_deleted",
			Target: "deleted_openchat",
			Columns: []Column{
				{Source: "id", Target: "id"},
				{Source: "open_chat_id", Target: "open_chat_id"},
				{Source: "emid", Target: "emid"},
				{Source: "deleted_at", Target: "deleted_at"},
			},
			Verify: true,
		},
	}
}

// CommentTables lists the comment store tables copied into the archive.
func CommentTables() []Table {
	return []Table{
		{
			Source: "comment",
			Target: "comment",
			Columns: []Column{
				{Source: "comment_id", Target: "comment_id"},
				{Source: "open_chat_id", Target: "open_chat_id"},
				{Source: "id", Target: "id"},
				{Source: "user_id", Target: "user_id"},
				{Source: "name", Target: "name"},
				{Source: "text", Target: "text"},
				{Source: "time", Target: "time"},
				{Source: "flag", Target: "flag"},
			},
			Verify: true,
		},
		{
			Source: "comment_like",
			Target: "comment_like",
			Columns: []Column{
				{Source: "id", Target: "id"},
				{Source: "comment_id", Target: "comment_id"},
				{Source: "user_id", Target: "user_id"},
				{Source: "type", Target: "type"},
				{Source: "time", Target: "time"},
			},
			Retractable: true,
		},
		{
			Source: "ban_room",
			Target: "ban_room",
			Columns: []Column{
				{Source: "id", Target: "id"},
				{Source: "open_chat_id", Target: "open_chat_id"},
				{Source: "created_at", Target: "created_at"},
			},
			Verify: true,
		},
		{
			Source: "ban_user",
			Target: "ban_user",
			Columns: []Column{
				{Source: "id", Target: "id"},
				{Source: "user_id", Target: "user_id"},
				{Source: "ip", Target: "ip"},
				{Source: "created_at", Target: "created_at"},
			},
			Verify: true,
		},
		{
			Source: "log",
			Target: "comment_log",
			Columns: []Column{
				{Source: "id", Target: "id"},
				{Source: "entity_id", Target: "entity_id"},
				{Source: "type", Target: "type"},
				{Source: "ip", Target: "ip"},
				{Source: "ua", Target: "ua"},
				{Source: "created_at", Target: "created_at"},
			},
			Verify: true,
		},
	}
}
