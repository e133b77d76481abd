package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"syncspace/api/internal/util"
)

// Exercises DeleteWorkspaceCascade against a real Postgres: every child row
// must be gone afterwards and the storage keys of deleted files must come
// back for object-store cleanup. Requires TEST_DATABASE_URL (or DATABASE_URL)
// to point at a scratch database.
func TestDeleteWorkspaceCascadeIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	databaseURL := getTestDatabaseURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	s := NewPostgresStore(db)

	owner := User{
		ID:           util.NewID("user"),
		Name:         "Cascade Owner",
		Email:        util.NewID("") + "@example.com",
		PasswordHash: "x",
		Role:         "admin",
	}
	member := User{
		ID:           util.NewID("user"),
		Name:         "Cascade Member",
		Email:        util.NewID("") + "@example.com",
		PasswordHash: "x",
		Role:         "member",
	}
	for _, u := range []User{owner, member} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cleanupCancel()
		_, _ = db.ExecContext(cleanupCtx, `DELETE FROM users WHERE id = ANY($1)`,
			[]string{owner.ID, member.ID})
	})

	workspaceID := util.NewID("ws")
	if err := s.InsertWorkspace(ctx, Workspace{ID: workspaceID, Name: "Doomed", OwnerID: owner.ID}); err != nil {
		t.Fatalf("insert workspace: %v", err)
	}
	if _, err := s.AddWorkspaceMember(ctx, workspaceID, member.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}

	taskID := util.NewID("task")
	if _, err := s.InsertTask(ctx, Task{
		ID:          taskID,
		Title:       "Tear down staging",
		Status:      TaskStatusTodo,
		WorkspaceID: workspaceID,
		CreatedBy:   UserRef{ID: owner.ID},
	}, []string{member.ID}); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if _, err := s.InsertMessage(ctx, Message{
		ID:          util.NewID("msg"),
		Content:     "last words",
		Sender:      UserRef{ID: member.ID},
		WorkspaceID: workspaceID,
	}); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if _, err := s.InsertDocument(ctx, Document{
		ID:          util.NewID("doc"),
		Title:       "Runbook",
		Content:     json.RawMessage(`{"ops":[{"insert":"bye\n"}]}`),
		WorkspaceID: workspaceID,
		CreatedBy:   UserRef{ID: owner.ID},
	}); err != nil {
		t.Fatalf("insert document: %v", err)
	}

	wantKeys := map[string]bool{}
	for i := 0; i < 2; i++ {
		key := fmt.Sprintf("%s/%s", workspaceID, util.NewID("file"))
		wantKeys[key] = true
		if _, err := s.InsertFile(ctx, File{
			ID:          util.NewID("file"),
			Name:        fmt.Sprintf("attachment-%d.png", i),
			StorageKey:  key,
			Size:        1024,
			ContentType: "image/png",
			WorkspaceID: workspaceID,
			Uploader:    UserRef{ID: owner.ID},
		}); err != nil {
			t.Fatalf("insert file: %v", err)
		}
	}

	storageKeys, err := s.DeleteWorkspaceCascade(ctx, workspaceID)
	if err != nil {
		t.Fatalf("delete workspace cascade: %v", err)
	}
	if len(storageKeys) != len(wantKeys) {
		t.Fatalf("expected %d storage keys, got %d (%v)", len(wantKeys), len(storageKeys), storageKeys)
	}
	for _, key := range storageKeys {
		if !wantKeys[key] {
			t.Fatalf("unexpected storage key %q", key)
		}
	}

	childQueries := map[string]string{
		"tasks":             `SELECT count(*) FROM tasks WHERE workspace_id = $1`,
		"messages":          `SELECT count(*) FROM messages WHERE workspace_id = $1`,
		"documents":         `SELECT count(*) FROM documents WHERE workspace_id = $1`,
		"files":             `SELECT count(*) FROM files WHERE workspace_id = $1`,
		"workspace_members": `SELECT count(*) FROM workspace_members WHERE workspace_id = $1`,
	}
	for table, query := range childQueries {
		var count int
		if err := db.QueryRowContext(ctx, query, workspaceID).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Errorf("expected 0 rows in %s after cascade, got %d", table, count)
		}
	}

	var assigneeCount int
	if err := db.QueryRowContext(ctx,
		`SELECT count(*) FROM task_assignees WHERE task_id = $1`, taskID).Scan(&assigneeCount); err != nil {
		t.Fatalf("count task_assignees: %v", err)
	}
	if assigneeCount != 0 {
		t.Errorf("expected 0 task_assignees rows after cascade, got %d", assigneeCount)
	}

	if _, err := s.GetWorkspace(ctx, workspaceID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for deleted workspace, got %v", err)
	}

	if _, err := s.DeleteWorkspaceCascade(ctx, workspaceID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows deleting missing workspace, got %v", err)
	}
}

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	t.Skip("TEST_DATABASE_URL not set; skipping integration test")
	return ""
}
