package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, title, profile_picture)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.Title, user.ProfilePicture)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, title, profile_picture, created_at, updated_at
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &user.Title, &user.ProfilePicture, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, title, profile_picture, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &user.Title, &user.ProfilePicture, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID, name, title string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET name = $2, title = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, email, password_hash, role, title, profile_picture, created_at, updated_at
	`, userID, name, title).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &user.Title, &user.ProfilePicture, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ListAllUserRefs returns every registered user, for assignee pickers.
func (s *PostgresStore) ListAllUserRefs(ctx context.Context) ([]UserRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email FROM users ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	refs := make([]UserRef, 0)
	for rows.Next() {
		var ref UserRef
		if err := rows.Scan(&ref.ID, &ref.Name, &ref.Email); err != nil {
			return nil, fmt.Errorf("scan user ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user refs: %w", err)
	}
	return refs, nil
}

// ---------------------------------------------------------------------------
// Workspaces

func (s *PostgresStore) InsertWorkspace(ctx context.Context, workspace Workspace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert workspace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, owner_id) VALUES ($1, $2, $3)
	`, workspace.ID, workspace.Name, workspace.OwnerID); err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id) VALUES ($1, $2)
	`, workspace.ID, workspace.OwnerID); err != nil {
		return fmt.Errorf("insert workspace owner membership: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var item Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, created_at, updated_at
		FROM workspaces
		WHERE id = $1
	`, workspaceID).Scan(&item.ID, &item.Name, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Workspace{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM workspace_members WHERE workspace_id = $1 ORDER BY joined_at
	`, workspaceID)
	if err != nil {
		return Workspace{}, fmt.Errorf("list workspace members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var memberID string
		if err := rows.Scan(&memberID); err != nil {
			return Workspace{}, fmt.Errorf("scan workspace member: %w", err)
		}
		item.MemberIDs = append(item.MemberIDs, memberID)
	}
	if err := rows.Err(); err != nil {
		return Workspace{}, fmt.Errorf("iterate workspace members: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListWorkspacesByMember(ctx context.Context, userID string) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.owner_id, w.created_at, w.updated_at
		FROM workspaces w
		JOIN workspace_members wm ON wm.workspace_id = w.id
		WHERE wm.user_id = $1
		ORDER BY w.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]Workspace, 0)
	for rows.Next() {
		var item Workspace
		if err := rows.Scan(&item.ID, &item.Name, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}

	for i := range items {
		memberRows, err := s.db.QueryContext(ctx, `
			SELECT user_id FROM workspace_members WHERE workspace_id = $1 ORDER BY joined_at
		`, items[i].ID)
		if err != nil {
			return nil, fmt.Errorf("list workspace members: %w", err)
		}
		for memberRows.Next() {
			var memberID string
			if err := memberRows.Scan(&memberID); err != nil {
				memberRows.Close()
				return nil, fmt.Errorf("scan workspace member: %w", err)
			}
			items[i].MemberIDs = append(items[i].MemberIDs, memberID)
		}
		if err := memberRows.Err(); err != nil {
			memberRows.Close()
			return nil, fmt.Errorf("iterate workspace members: %w", err)
		}
		memberRows.Close()
	}
	return items, nil
}

func (s *PostgresStore) IsWorkspaceMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM workspace_members WHERE workspace_id = $1 AND user_id = $2)
	`, workspaceID, userID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("check workspace membership: %w", err)
	}
	return member, nil
}

// AddWorkspaceMember reports false when the user already belongs to the
// workspace.
func (s *PostgresStore) AddWorkspaceMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (workspace_id, user_id) DO NOTHING
	`, workspaceID, userID)
	if err != nil {
		return false, fmt.Errorf("add workspace member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add workspace member rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateWorkspaceName(ctx context.Context, workspaceID, name string) (Workspace, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workspaces SET name = $2, updated_at = NOW() WHERE id = $1
	`, workspaceID, name)
	if err != nil {
		return Workspace{}, fmt.Errorf("update workspace name: %w", err)
	}
	return s.GetWorkspace(ctx, workspaceID)
}

// DeleteWorkspaceCascade removes the workspace and every task, message,
// document and file that belongs to it inside one transaction. It returns the
// storage keys of deleted files so the caller can clean up the object store.
func (s *PostgresStore) DeleteWorkspaceCascade(ctx context.Context, workspaceID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete workspace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM workspaces WHERE id = $1)`, workspaceID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check workspace: %w", err)
	}
	if !exists {
		return nil, sql.ErrNoRows
	}

	rows, err := tx.QueryContext(ctx, `DELETE FROM files WHERE workspace_id = $1 RETURNING storage_key`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("delete workspace files: %w", err)
	}
	var storageKeys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan deleted file key: %w", err)
		}
		storageKeys = append(storageKeys, key)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate deleted file keys: %w", err)
	}
	rows.Close()

	statements := []string{
		`DELETE FROM task_assignees WHERE task_id IN (SELECT id FROM tasks WHERE workspace_id = $1)`,
		`DELETE FROM tasks WHERE workspace_id = $1`,
		`DELETE FROM messages WHERE workspace_id = $1`,
		`DELETE FROM documents WHERE workspace_id = $1`,
		`DELETE FROM workspace_members WHERE workspace_id = $1`,
		`DELETE FROM workspaces WHERE id = $1`,
	}
	for _, statement := range statements {
		if _, err := tx.ExecContext(ctx, statement, workspaceID); err != nil {
			return nil, fmt.Errorf("cascade delete workspace: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete workspace: %w", err)
	}
	return storageKeys, nil
}

// ---------------------------------------------------------------------------
// Tasks

const taskColumns = `
	t.id, t.title, t.description, t.status, t.workspace_id, t.created_at, t.updated_at,
	u.id, u.name, u.email
`

func (s *PostgresStore) scanTask(ctx context.Context, row *sql.Row) (Task, error) {
	var item Task
	err := row.Scan(
		&item.ID, &item.Title, &item.Description, &item.Status, &item.WorkspaceID,
		&item.CreatedAt, &item.UpdatedAt,
		&item.CreatedBy.ID, &item.CreatedBy.Name, &item.CreatedBy.Email,
	)
	if err != nil {
		return Task{}, err
	}
	assignees, err := s.taskAssignees(ctx, item.ID)
	if err != nil {
		return Task{}, err
	}
	item.Assignees = assignees
	return item, nil
}

func (s *PostgresStore) taskAssignees(ctx context.Context, taskID string) ([]UserRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email
		FROM task_assignees ta
		JOIN users u ON u.id = ta.user_id
		WHERE ta.task_id = $1
		ORDER BY u.name
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task assignees: %w", err)
	}
	defer rows.Close()

	refs := make([]UserRef, 0)
	for rows.Next() {
		var ref UserRef
		if err := rows.Scan(&ref.ID, &ref.Name, &ref.Email); err != nil {
			return nil, fmt.Errorf("scan task assignee: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task assignees: %w", err)
	}
	return refs, nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task, assigneeIDs []string) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin insert task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, workspace_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, task.ID, task.Title, task.Description, task.Status, task.WorkspaceID, task.CreatedBy.ID); err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	for _, userID := range assigneeIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_assignees (task_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (task_id, user_id) DO NOTHING
		`, task.ID, userID); err != nil {
			return Task{}, fmt.Errorf("insert task assignee: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit insert task: %w", err)
	}
	return s.GetTask(ctx, task.ID)
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		JOIN users u ON u.id = t.created_by
		WHERE t.id = $1
	`, taskID)
	return s.scanTask(ctx, row)
}

func (s *PostgresStore) ListTasksByWorkspace(ctx context.Context, workspaceID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		JOIN users u ON u.id = t.created_by
		WHERE t.workspace_id = $1
		ORDER BY t.created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		var item Task
		if err := rows.Scan(
			&item.ID, &item.Title, &item.Description, &item.Status, &item.WorkspaceID,
			&item.CreatedAt, &item.UpdatedAt,
			&item.CreatedBy.ID, &item.CreatedBy.Name, &item.CreatedBy.Email,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	for i := range items {
		assignees, err := s.taskAssignees(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Assignees = assignees
	}
	return items, nil
}

// TaskUpdate carries partial task changes. Nil fields are left untouched so
// callers can move a card between columns without resending the whole task.
type TaskUpdate struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Status      *string  `json:"status"`
	Assignees   []string `json:"assignedTo"`
}

func (s *PostgresStore) UpdateTask(ctx context.Context, taskID string, update TaskUpdate) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin update task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET title = COALESCE($2, title),
			description = COALESCE($3, description),
			status = COALESCE($4, status),
			updated_at = NOW()
		WHERE id = $1
	`, taskID, update.Title, update.Description, update.Status)
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Task{}, fmt.Errorf("update task rows: %w", err)
	}
	if affected == 0 {
		return Task{}, sql.ErrNoRows
	}

	if update.Assignees != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id = $1`, taskID); err != nil {
			return Task{}, fmt.Errorf("clear task assignees: %w", err)
		}
		for _, userID := range update.Assignees {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO task_assignees (task_id, user_id)
				VALUES ($1, $2)
				ON CONFLICT (task_id, user_id) DO NOTHING
			`, taskID, userID); err != nil {
				return Task{}, fmt.Errorf("insert task assignee: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit update task: %w", err)
	}
	return s.GetTask(ctx, taskID)
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) (Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id = $1`, taskID); err != nil {
		return Task{}, fmt.Errorf("delete task assignees: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, taskID); err != nil {
		return Task{}, fmt.Errorf("delete task: %w", err)
	}
	return task, nil
}

// ---------------------------------------------------------------------------
// Messages

func (s *PostgresStore) InsertMessage(ctx context.Context, message Message) (Message, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, content, sender_id, workspace_id)
		VALUES ($1, $2, $3, $4)
	`, message.ID, message.Content, message.Sender.ID, message.WorkspaceID)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return s.GetMessage(ctx, message.ID)
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	var item Message
	err := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.content, m.workspace_id, m.created_at, u.id, u.name, u.email
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1
	`, messageID).Scan(&item.ID, &item.Content, &item.WorkspaceID, &item.CreatedAt, &item.Sender.ID, &item.Sender.Name, &item.Sender.Email)
	if err != nil {
		return Message{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListMessagesByWorkspace(ctx context.Context, workspaceID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.content, m.workspace_id, m.created_at, u.id, u.name, u.email
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.workspace_id = $1
		ORDER BY m.created_at ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.Content, &item.WorkspaceID, &item.CreatedAt, &item.Sender.ID, &item.Sender.Name, &item.Sender.Email); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteMessagesBySender removes only the requested messages that the sender
// actually owns and returns the ids that were deleted.
func (s *PostgresStore) DeleteMessagesBySender(ctx context.Context, messageIDs []string, senderID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM messages
		WHERE id = ANY($1) AND sender_id = $2
		RETURNING id
	`, messageIDs, senderID)
	if err != nil {
		return nil, fmt.Errorf("delete messages: %w", err)
	}
	defer rows.Close()

	deleted := make([]string, 0, len(messageIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted message id: %w", err)
		}
		deleted = append(deleted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted message ids: %w", err)
	}
	return deleted, nil
}

// ---------------------------------------------------------------------------
// Documents

func (s *PostgresStore) InsertDocument(ctx context.Context, document Document) (Document, error) {
	content := document.Content
	if len(content) == 0 {
		content = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, workspace_id, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, document.ID, document.Title, []byte(content), document.WorkspaceID, document.CreatedBy.ID)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return s.GetDocument(ctx, document.ID)
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	var content []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.title, d.content, d.workspace_id, d.created_at, d.updated_at, u.id, u.name, u.email
		FROM documents d
		JOIN users u ON u.id = d.created_by
		WHERE d.id = $1
	`, documentID).Scan(&item.ID, &item.Title, &content, &item.WorkspaceID, &item.CreatedAt, &item.UpdatedAt, &item.CreatedBy.ID, &item.CreatedBy.Name, &item.CreatedBy.Email)
	if err != nil {
		return Document{}, err
	}
	item.Content = json.RawMessage(content)
	return item, nil
}

func (s *PostgresStore) ListDocumentsByWorkspace(ctx context.Context, workspaceID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.workspace_id, d.created_at, d.updated_at, u.id, u.name, u.email
		FROM documents d
		JOIN users u ON u.id = d.created_by
		WHERE d.workspace_id = $1
		ORDER BY d.updated_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.Title, &item.WorkspaceID, &item.CreatedAt, &item.UpdatedAt, &item.CreatedBy.ID, &item.CreatedBy.Name, &item.CreatedBy.Email); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, documentID string, content json.RawMessage) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET content = $2, updated_at = NOW() WHERE id = $1
	`, documentID, []byte(content))
	if err != nil {
		return fmt.Errorf("update document content: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document content rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) RenameDocument(ctx context.Context, documentID, title string) (Document, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET title = $2, updated_at = NOW() WHERE id = $1
	`, documentID, title)
	if err != nil {
		return Document{}, fmt.Errorf("rename document: %w", err)
	}
	return s.GetDocument(ctx, documentID)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---------------------------------------------------------------------------
// Files

func (s *PostgresStore) InsertFile(ctx context.Context, file File) (File, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, name, storage_key, size, content_type, workspace_id, uploader_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, file.ID, file.Name, file.StorageKey, file.Size, file.ContentType, file.WorkspaceID, file.Uploader.ID)
	if err != nil {
		return File{}, fmt.Errorf("insert file: %w", err)
	}
	return s.GetFile(ctx, file.ID)
}

func (s *PostgresStore) GetFile(ctx context.Context, fileID string) (File, error) {
	var item File
	err := s.db.QueryRowContext(ctx, `
		SELECT f.id, f.name, f.storage_key, f.size, f.content_type, f.workspace_id, f.created_at, u.id, u.name, u.email
		FROM files f
		JOIN users u ON u.id = f.uploader_id
		WHERE f.id = $1
	`, fileID).Scan(&item.ID, &item.Name, &item.StorageKey, &item.Size, &item.ContentType, &item.WorkspaceID, &item.CreatedAt, &item.Uploader.ID, &item.Uploader.Name, &item.Uploader.Email)
	if err != nil {
		return File{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListFilesByWorkspace(ctx context.Context, workspaceID string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.name, f.storage_key, f.size, f.content_type, f.workspace_id, f.created_at, u.id, u.name, u.email
		FROM files f
		JOIN users u ON u.id = f.uploader_id
		WHERE f.workspace_id = $1
		ORDER BY f.created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	items := make([]File, 0)
	for rows.Next() {
		var item File
		if err := rows.Scan(&item.ID, &item.Name, &item.StorageKey, &item.Size, &item.ContentType, &item.WorkspaceID, &item.CreatedAt, &item.Uploader.ID, &item.Uploader.Name, &item.Uploader.Email); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteFile(ctx context.Context, fileID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete file rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---------------------------------------------------------------------------
// Refresh sessions (Postgres fallback when Redis is not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.name, u.email, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Name, &user.Email, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
