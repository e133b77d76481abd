package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"syncspace/api/internal/config"
	"syncspace/api/internal/realtime"
	"syncspace/api/internal/store"
)

type fakeStore struct {
	createUserFn             func(context.Context, store.User) error
	getUserByEmailFn         func(context.Context, string) (store.User, error)
	getUserByIDFn            func(context.Context, string) (store.User, error)
	isWorkspaceMemberFn      func(context.Context, string, string) (bool, error)
	getWorkspaceFn           func(context.Context, string) (store.Workspace, error)
	deleteWorkspaceCascadeFn func(context.Context, string) ([]string, error)
	insertTaskFn             func(context.Context, store.Task, []string) (store.Task, error)
	getTaskFn                func(context.Context, string) (store.Task, error)
	updateTaskFn             func(context.Context, string, store.TaskUpdate) (store.Task, error)
	deleteTaskFn             func(context.Context, string) (store.Task, error)
	insertMessageFn          func(context.Context, store.Message) (store.Message, error)
	getMessageFn             func(context.Context, string) (store.Message, error)
	deleteMessageFn          func(context.Context, string) error
	deleteMessagesFn         func(context.Context, []string, string) ([]string, error)
	getDocumentFn            func(context.Context, string) (store.Document, error)
	updateDocContentFn       func(context.Context, string, json.RawMessage) error
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateUserProfile(context.Context, string, string, string) (store.User, error) {
	return store.User{}, nil
}
func (f *fakeStore) ListAllUserRefs(context.Context) ([]store.UserRef, error) { return nil, nil }

func (f *fakeStore) InsertWorkspace(context.Context, store.Workspace) error { return nil }
func (f *fakeStore) GetWorkspace(ctx context.Context, workspaceID string) (store.Workspace, error) {
	if f.getWorkspaceFn != nil {
		return f.getWorkspaceFn(ctx, workspaceID)
	}
	return store.Workspace{ID: workspaceID}, nil
}
func (f *fakeStore) ListWorkspacesByMember(context.Context, string) ([]store.Workspace, error) {
	return nil, nil
}
func (f *fakeStore) IsWorkspaceMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	if f.isWorkspaceMemberFn != nil {
		return f.isWorkspaceMemberFn(ctx, workspaceID, userID)
	}
	return true, nil
}
func (f *fakeStore) AddWorkspaceMember(context.Context, string, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) UpdateWorkspaceName(context.Context, string, string) (store.Workspace, error) {
	return store.Workspace{}, nil
}
func (f *fakeStore) DeleteWorkspaceCascade(ctx context.Context, workspaceID string) ([]string, error) {
	if f.deleteWorkspaceCascadeFn != nil {
		return f.deleteWorkspaceCascadeFn(ctx, workspaceID)
	}
	return nil, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, task store.Task, assignees []string) (store.Task, error) {
	if f.insertTaskFn != nil {
		return f.insertTaskFn(ctx, task, assignees)
	}
	return task, nil
}
func (f *fakeStore) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	if f.getTaskFn != nil {
		return f.getTaskFn(ctx, taskID)
	}
	return store.Task{}, sql.ErrNoRows
}
func (f *fakeStore) ListTasksByWorkspace(context.Context, string) ([]store.Task, error) {
	return nil, nil
}
func (f *fakeStore) UpdateTask(ctx context.Context, taskID string, update store.TaskUpdate) (store.Task, error) {
	if f.updateTaskFn != nil {
		return f.updateTaskFn(ctx, taskID, update)
	}
	return store.Task{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteTask(ctx context.Context, taskID string) (store.Task, error) {
	if f.deleteTaskFn != nil {
		return f.deleteTaskFn(ctx, taskID)
	}
	return store.Task{}, sql.ErrNoRows
}

func (f *fakeStore) InsertMessage(ctx context.Context, message store.Message) (store.Message, error) {
	if f.insertMessageFn != nil {
		return f.insertMessageFn(ctx, message)
	}
	return message, nil
}
func (f *fakeStore) GetMessage(ctx context.Context, messageID string) (store.Message, error) {
	if f.getMessageFn != nil {
		return f.getMessageFn(ctx, messageID)
	}
	return store.Message{}, sql.ErrNoRows
}
func (f *fakeStore) ListMessagesByWorkspace(context.Context, string) ([]store.Message, error) {
	return nil, nil
}
func (f *fakeStore) DeleteMessage(ctx context.Context, messageID string) error {
	if f.deleteMessageFn != nil {
		return f.deleteMessageFn(ctx, messageID)
	}
	return nil
}
func (f *fakeStore) DeleteMessagesBySender(ctx context.Context, ids []string, senderID string) ([]string, error) {
	if f.deleteMessagesFn != nil {
		return f.deleteMessagesFn(ctx, ids, senderID)
	}
	return nil, nil
}

func (f *fakeStore) InsertDocument(ctx context.Context, doc store.Document) (store.Document, error) {
	return doc, nil
}
func (f *fakeStore) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, documentID)
	}
	return store.Document{}, sql.ErrNoRows
}
func (f *fakeStore) ListDocumentsByWorkspace(context.Context, string) ([]store.Document, error) {
	return nil, nil
}
func (f *fakeStore) UpdateDocumentContent(ctx context.Context, documentID string, content json.RawMessage) error {
	if f.updateDocContentFn != nil {
		return f.updateDocContentFn(ctx, documentID, content)
	}
	return nil
}
func (f *fakeStore) RenameDocument(context.Context, string, string) (store.Document, error) {
	return store.Document{}, nil
}
func (f *fakeStore) DeleteDocument(context.Context, string) error { return nil }

func (f *fakeStore) InsertFile(ctx context.Context, file store.File) (store.File, error) {
	return file, nil
}
func (f *fakeStore) GetFile(context.Context, string) (store.File, error) {
	return store.File{}, sql.ErrNoRows
}
func (f *fakeStore) ListFilesByWorkspace(context.Context, string) ([]store.File, error) {
	return nil, nil
}
func (f *fakeStore) DeleteFile(context.Context, string) error { return nil }

func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) {
	return false, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeSessions struct{}

func (fakeSessions) SaveRefreshSession(context.Context, string, store.User, time.Time) error {
	return nil
}
func (fakeSessions) LookupRefreshSession(context.Context, string) (store.User, error) {
	return store.User{}, errors.New("not found")
}
func (fakeSessions) RevokeRefreshSession(context.Context, string) error { return nil }

type broadcastCall struct {
	room    string
	event   string
	payload any
	exclude string
}

type fakeHub struct {
	err   error
	calls []broadcastCall
}

func (f *fakeHub) Broadcast(roomID, event string, payload any, excludeSession string) error {
	f.calls = append(f.calls, broadcastCall{room: roomID, event: event, payload: payload, exclude: excludeSession})
	return f.err
}

func newTestService(fake *fakeStore, hub *fakeHub) *Service {
	svc := &Service{
		cfg:      config.Config{JWTSecret: "test-secret", AccessTTL: time.Minute, RefreshTTL: time.Hour},
		store:    fake,
		sessions: fakeSessions{},
	}
	if hub != nil {
		svc.hub = hub
	}
	return svc
}

const (
	testWorkspaceID = "ws_0123456789abcdef0123456789abcdef"
	testTaskID      = "task_0123456789abcdef0123456789abcdef"
	testMessageID   = "msg_0123456789abcdef0123456789abcdef"
	testUserID      = "user_0123456789abcdef0123456789abcdef"
	testOtherUserID = "user_fedcba9876543210fedcba9876543210"
)

func memberSession() Session {
	return Session{UserID: testUserID, UserName: "Avery", Role: "member"}
}

func TestCreateTaskBroadcastsCommittedRecord(t *testing.T) {
	committed := store.Task{
		ID:          testTaskID,
		Title:       "Ship the beta",
		Status:      store.TaskStatusTodo,
		WorkspaceID: testWorkspaceID,
		CreatedBy:   store.UserRef{ID: testUserID, Name: "Avery"},
	}
	fake := &fakeStore{
		insertTaskFn: func(_ context.Context, task store.Task, _ []string) (store.Task, error) {
			return committed, nil
		},
	}
	hub := &fakeHub{}
	svc := newTestService(fake, hub)

	task, err := svc.CreateTask(context.Background(), memberSession(), testWorkspaceID, CreateTaskInput{Title: "Ship the beta"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if len(hub.calls) != 1 {
		t.Fatalf("expected exactly one broadcast, got %d", len(hub.calls))
	}
	call := hub.calls[0]
	if call.room != testWorkspaceID || call.event != realtime.EventTaskCreated {
		t.Fatalf("unexpected broadcast %s to %s", call.event, call.room)
	}
	got, ok := call.payload.(store.Task)
	if !ok {
		t.Fatalf("payload is %T, want store.Task", call.payload)
	}
	if got.ID != task.ID || got.Title != committed.Title {
		t.Fatalf("broadcast payload %+v does not match committed record %+v", got, committed)
	}
}

func TestCreateTaskStoreFailureDoesNotBroadcast(t *testing.T) {
	fake := &fakeStore{
		insertTaskFn: func(context.Context, store.Task, []string) (store.Task, error) {
			return store.Task{}, errors.New("insert failed")
		},
	}
	hub := &fakeHub{}
	svc := newTestService(fake, hub)

	if _, err := svc.CreateTask(context.Background(), memberSession(), testWorkspaceID, CreateTaskInput{Title: "x"}); err == nil {
		t.Fatal("expected error from failed insert")
	}
	if len(hub.calls) != 0 {
		t.Fatalf("failed mutation must not broadcast, got %d calls", len(hub.calls))
	}
}

func TestCreateTaskRejectsInvalidStatus(t *testing.T) {
	hub := &fakeHub{}
	svc := newTestService(&fakeStore{}, hub)

	_, err := svc.CreateTask(context.Background(), memberSession(), testWorkspaceID, CreateTaskInput{Title: "x", Status: "Archived"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if len(hub.calls) != 0 {
		t.Fatalf("rejected mutation must not broadcast, got %d calls", len(hub.calls))
	}
}

func TestCreateTaskRequiresMembership(t *testing.T) {
	fake := &fakeStore{
		isWorkspaceMemberFn: func(context.Context, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fake, &fakeHub{})

	_, err := svc.CreateTask(context.Background(), memberSession(), testWorkspaceID, CreateTaskInput{Title: "x"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestUpdateTaskBroadcastMatchesPersistedRecord(t *testing.T) {
	existing := store.Task{ID: testTaskID, Title: "Old", Status: store.TaskStatusTodo, WorkspaceID: testWorkspaceID}
	updated := store.Task{ID: testTaskID, Title: "Old", Status: store.TaskStatusDone, WorkspaceID: testWorkspaceID}
	fake := &fakeStore{
		getTaskFn: func(context.Context, string) (store.Task, error) { return existing, nil },
		updateTaskFn: func(_ context.Context, _ string, update store.TaskUpdate) (store.Task, error) {
			if update.Status == nil || *update.Status != store.TaskStatusDone {
				t.Fatalf("unexpected update %+v", update)
			}
			return updated, nil
		},
	}
	hub := &fakeHub{}
	svc := newTestService(fake, hub)

	status := store.TaskStatusDone
	task, err := svc.UpdateTask(context.Background(), memberSession(), testTaskID, store.TaskUpdate{Status: &status})
	if err != nil {
		t.Fatalf("update task: %v", err)
	}
	if len(hub.calls) != 1 || hub.calls[0].event != realtime.EventTaskUpdated {
		t.Fatalf("expected one task_updated broadcast, got %+v", hub.calls)
	}
	got := hub.calls[0].payload.(store.Task)
	if got.Status != task.Status || got.Status != store.TaskStatusDone {
		t.Fatalf("broadcast status %q must match persisted %q", got.Status, task.Status)
	}
}

func TestDeleteTaskBroadcastsID(t *testing.T) {
	existing := store.Task{ID: testTaskID, WorkspaceID: testWorkspaceID}
	fake := &fakeStore{
		getTaskFn:    func(context.Context, string) (store.Task, error) { return existing, nil },
		deleteTaskFn: func(context.Context, string) (store.Task, error) { return existing, nil },
	}
	hub := &fakeHub{}
	svc := newTestService(fake, hub)

	if err := svc.DeleteTask(context.Background(), memberSession(), testTaskID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if len(hub.calls) != 1 || hub.calls[0].event != realtime.EventTaskDeleted {
		t.Fatalf("expected one task_deleted broadcast, got %+v", hub.calls)
	}
	if id, ok := hub.calls[0].payload.(string); !ok || id != testTaskID {
		t.Fatalf("task_deleted payload should be the id, got %v", hub.calls[0].payload)
	}
}

func TestBroadcastFailureDoesNotFailMutation(t *testing.T) {
	fake := &fakeStore{
		insertMessageFn: func(_ context.Context, message store.Message) (store.Message, error) {
			message.Sender.Name = "Avery"
			return message, nil
		},
	}
	hub := &fakeHub{err: errors.New("marshal failed")}
	svc := newTestService(fake, hub)

	if _, err := svc.PostMessage(context.Background(), memberSession(), testWorkspaceID, "hello"); err != nil {
		t.Fatalf("mutation must succeed despite broadcast failure: %v", err)
	}
}

func TestDeleteMessageSenderOnly(t *testing.T) {
	fake := &fakeStore{
		getMessageFn: func(context.Context, string) (store.Message, error) {
			return store.Message{ID: testMessageID, Sender: store.UserRef{ID: testOtherUserID}, WorkspaceID: testWorkspaceID}, nil
		},
		deleteMessageFn: func(context.Context, string) error {
			t.Fatal("delete must not run for a non-sender")
			return nil
		},
	}
	hub := &fakeHub{}
	svc := newTestService(fake, hub)

	err := svc.DeleteMessage(context.Background(), memberSession(), testMessageID)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	if len(hub.calls) != 0 {
		t.Fatalf("denied deletion must not broadcast, got %d calls", len(hub.calls))
	}
}

func TestDeleteMessagesBroadcastsExactlyDeletedIDs(t *testing.T) {
	mine := "msg_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	theirs := "msg_bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	fake := &fakeStore{
		deleteMessagesFn: func(_ context.Context, ids []string, senderID string) ([]string, error) {
			if senderID != testUserID {
				t.Fatalf("filter must use the caller id, got %s", senderID)
			}
			return []string{mine}, nil
		},
	}
	hub := &fakeHub{}
	svc := newTestService(fake, hub)

	deleted, err := svc.DeleteMessages(context.Background(), memberSession(), testWorkspaceID, []string{mine, theirs})
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != mine {
		t.Fatalf("expected only the caller's message deleted, got %v", deleted)
	}
	if len(hub.calls) != 1 || hub.calls[0].event != realtime.EventMessagesDeleted {
		t.Fatalf("expected one messages_deleted broadcast, got %+v", hub.calls)
	}
	ids := hub.calls[0].payload.([]string)
	if len(ids) != 1 || ids[0] != mine {
		t.Fatalf("broadcast must carry exactly the deleted ids, got %v", ids)
	}
}

func TestDeleteMessagesNothingDeletedNoBroadcast(t *testing.T) {
	fake := &fakeStore{
		deleteMessagesFn: func(context.Context, []string, string) ([]string, error) {
			return nil, nil
		},
	}
	hub := &fakeHub{}
	svc := newTestService(fake, hub)

	deleted, err := svc.DeleteMessages(context.Background(), memberSession(), testWorkspaceID, []string{testMessageID})
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("expected empty result, got %v", deleted)
	}
	if len(hub.calls) != 0 {
		t.Fatalf("empty deletion must not broadcast, got %d calls", len(hub.calls))
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	fake := &fakeStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: testUserID}, nil
		},
	}
	svc := newTestService(fake, nil)

	_, err := svc.Register(context.Background(), "Avery", "avery@example.com", "hunter22", "member")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "EMAIL_EXISTS" {
		t.Fatalf("expected EMAIL_EXISTS, got %v", err)
	}
}

func TestRegisterThenSessionRoundTrip(t *testing.T) {
	var created store.User
	fake := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) error {
			created = user
			return nil
		},
	}
	svc := newTestService(fake, nil)

	session, err := svc.Register(context.Background(), "Avery", "avery@example.com", "hunter22", "admin")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if created.PasswordHash == "hunter22" {
		t.Fatal("password must be stored hashed")
	}
	if session.Role != "admin" {
		t.Fatalf("expected admin role, got %s", session.Role)
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if parsed.UserID != session.UserID || parsed.UserName != "Avery" {
		t.Fatalf("round-tripped session mismatch: %+v", parsed)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	fake := &fakeStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: testUserID, Email: "avery@example.com", PasswordHash: "$2a$10$invalidhashinvalidhashinvalidhashinvalid"}, nil
		},
	}
	svc := newTestService(fake, nil)

	_, err := svc.Login(context.Background(), "avery@example.com", "wrong")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("expected INVALID_CREDENTIALS, got %v", err)
	}
}

func TestCreateWorkspaceAdminOnly(t *testing.T) {
	svc := newTestService(&fakeStore{}, nil)

	_, err := svc.CreateWorkspace(context.Background(), memberSession(), "Design")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("members must not create workspaces, got %v", err)
	}

	admin := Session{UserID: testUserID, Role: "admin"}
	if _, err := svc.CreateWorkspace(context.Background(), admin, "Design"); err != nil {
		t.Fatalf("admin create workspace: %v", err)
	}
}

func TestDeleteWorkspaceReturnsStorageCleanup(t *testing.T) {
	var cascaded bool
	fake := &fakeStore{
		deleteWorkspaceCascadeFn: func(context.Context, string) ([]string, error) {
			cascaded = true
			return []string{"ws_1/file_1/report.pdf"}, nil
		},
	}
	svc := newTestService(fake, nil)

	admin := Session{UserID: testUserID, Role: "admin"}
	if err := svc.DeleteWorkspace(context.Background(), admin, testWorkspaceID); err != nil {
		t.Fatalf("delete workspace: %v", err)
	}
	if !cascaded {
		t.Fatal("cascade delete must run")
	}
}

func TestSaveDocumentContentValidatesJSON(t *testing.T) {
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			return store.Document{ID: "doc_0123456789abcdef0123456789abcdef", WorkspaceID: testWorkspaceID, CreatedBy: store.UserRef{ID: testUserID}}, nil
		},
	}
	svc := newTestService(fake, nil)

	err := svc.SaveDocumentContent(context.Background(), memberSession(), "doc_0123456789abcdef0123456789abcdef", json.RawMessage(`{"ops":`))
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR for truncated JSON, got %v", err)
	}
}
