package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"syncspace/api/internal/export"
	"syncspace/api/internal/realtime"
	"syncspace/api/internal/search"
	"syncspace/api/internal/store"
	"syncspace/api/internal/util"
)

// ---------------------------------------------------------------------------
// Tasks

type CreateTaskInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Assignees   []string `json:"assignedTo"`
}

func (s *Service) CreateTask(ctx context.Context, session Session, workspaceID string, input CreateTaskInput) (store.Task, error) {
	if err := s.requireMember(ctx, session, workspaceID); err != nil {
		return store.Task{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Task{}, validationError("task title is required")
	}
	status := input.Status
	if status == "" {
		status = store.TaskStatusTodo
	}
	if !store.ValidTaskStatus(status) {
		return store.Task{}, validationError("invalid task status")
	}
	for _, assigneeID := range input.Assignees {
		if !util.ValidID(assigneeID) {
			return store.Task{}, validationError("invalid assignee id")
		}
	}

	task, err := s.store.InsertTask(ctx, store.Task{
		ID:          util.NewID("task"),
		Title:       title,
		Description: input.Description,
		Status:      status,
		WorkspaceID: workspaceID,
		CreatedBy:   store.UserRef{ID: session.UserID},
	}, input.Assignees)
	if err != nil {
		return store.Task{}, err
	}

	s.announce(workspaceID, realtime.EventTaskCreated, task)
	s.indexTask(task)
	if s.SMTPConfigured() && len(task.Assignees) > 0 {
		if workspace, err := s.store.GetWorkspace(ctx, workspaceID); err == nil {
			s.notifyAssignees(task, workspace.Name)
		}
	}
	return task, nil
}

func (s *Service) ListTasks(ctx context.Context, session Session, workspaceID string) ([]store.Task, error) {
	if err := s.requireMember(ctx, session, workspaceID); err != nil {
		return nil, err
	}
	items, err := s.store.ListTasksByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.Task{}
	}
	return items, nil
}

func (s *Service) UpdateTask(ctx context.Context, session Session, taskID string, update store.TaskUpdate) (store.Task, error) {
	if !util.ValidID(taskID) {
		return store.Task{}, validationError("invalid task id")
	}
	existing, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.requireMember(ctx, session, existing.WorkspaceID); err != nil {
		return store.Task{}, err
	}
	if update.Status != nil && !store.ValidTaskStatus(*update.Status) {
		return store.Task{}, validationError("invalid task status")
	}
	if update.Title != nil && strings.TrimSpace(*update.Title) == "" {
		return store.Task{}, validationError("task title is required")
	}
	for _, assigneeID := range update.Assignees {
		if !util.ValidID(assigneeID) {
			return store.Task{}, validationError("invalid assignee id")
		}
	}

	task, err := s.store.UpdateTask(ctx, taskID, update)
	if err != nil {
		return store.Task{}, err
	}

	s.announce(task.WorkspaceID, realtime.EventTaskUpdated, task)
	s.indexTask(task)
	if added := newAssignees(existing.Assignees, task.Assignees); s.SMTPConfigured() && len(added) > 0 {
		if workspace, err := s.store.GetWorkspace(ctx, task.WorkspaceID); err == nil {
			notify := task
			notify.Assignees = added
			s.notifyAssignees(notify, workspace.Name)
		}
	}
	return task, nil
}

func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) error {
	if !util.ValidID(taskID) {
		return validationError("invalid task id")
	}
	existing, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.requireMember(ctx, session, existing.WorkspaceID); err != nil {
		return err
	}

	task, err := s.store.DeleteTask(ctx, taskID)
	if err != nil {
		return err
	}

	s.announce(task.WorkspaceID, realtime.EventTaskDeleted, task.ID)
	if s.search != nil {
		s.search.DeleteTask(task.ID)
	}
	return nil
}

// newAssignees returns the refs present in after but not in before.
func newAssignees(before, after []store.UserRef) []store.UserRef {
	known := make(map[string]struct{}, len(before))
	for _, ref := range before {
		known[ref.ID] = struct{}{}
	}
	var added []store.UserRef
	for _, ref := range after {
		if _, ok := known[ref.ID]; !ok {
			added = append(added, ref)
		}
	}
	return added
}

// ---------------------------------------------------------------------------
// Messages

func (s *Service) PostMessage(ctx context.Context, session Session, workspaceID, content string) (store.Message, error) {
	if err := s.requireMember(ctx, session, workspaceID); err != nil {
		return store.Message{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return store.Message{}, validationError("message content is required")
	}

	message, err := s.store.InsertMessage(ctx, store.Message{
		ID:          util.NewID("msg"),
		Content:     content,
		Sender:      store.UserRef{ID: session.UserID},
		WorkspaceID: workspaceID,
	})
	if err != nil {
		return store.Message{}, err
	}

	s.announce(workspaceID, realtime.EventReceiveMessage, message)
	s.indexMessage(message)
	return message, nil
}

func (s *Service) ListMessages(ctx context.Context, session Session, workspaceID string) ([]store.Message, error) {
	if err := s.requireMember(ctx, session, workspaceID); err != nil {
		return nil, err
	}
	items, err := s.store.ListMessagesByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.Message{}
	}
	return items, nil
}

// DeleteMessage removes one message. Only the sender may delete their own.
func (s *Service) DeleteMessage(ctx context.Context, session Session, messageID string) error {
	if !util.ValidID(messageID) {
		return validationError("invalid message id")
	}
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if message.Sender.ID != session.UserID {
		return forbiddenError("Only the sender can delete a message")
	}

	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return err
	}

	s.announce(message.WorkspaceID, realtime.EventMessageDeleted, message.ID)
	if s.search != nil {
		s.search.DeleteMessages([]string{message.ID})
	}
	return nil
}

// DeleteMessages bulk-deletes the caller's own messages from the requested id
// set. Ids belonging to other senders are silently skipped; the broadcast
// carries exactly the ids that were deleted.
func (s *Service) DeleteMessages(ctx context.Context, session Session, workspaceID string, messageIDs []string) ([]string, error) {
	if err := s.requireMember(ctx, session, workspaceID); err != nil {
		return nil, err
	}
	if len(messageIDs) == 0 {
		return []string{}, nil
	}
	for _, id := range messageIDs {
		if !util.ValidID(id) {
			return nil, validationError("invalid message id")
		}
	}

	deleted, err := s.store.DeleteMessagesBySender(ctx, messageIDs, session.UserID)
	if err != nil {
		return nil, err
	}
	if len(deleted) == 0 {
		return []string{}, nil
	}

	s.announce(workspaceID, realtime.EventMessagesDeleted, deleted)
	if s.search != nil {
		s.search.DeleteMessages(deleted)
	}
	return deleted, nil
}

// ---------------------------------------------------------------------------
// Documents

func (s *Service) CreateDocument(ctx context.Context, session Session, workspaceID, title string) (store.Document, error) {
	if err := s.requireMember(ctx, session, workspaceID); err != nil {
		return store.Document{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled Document"
	}

	doc, err := s.store.InsertDocument(ctx, store.Document{
		ID:          util.NewID("doc"),
		Title:       title,
		WorkspaceID: workspaceID,
		CreatedBy:   store.UserRef{ID: session.UserID},
	})
	if err != nil {
		return store.Document{}, err
	}

	s.indexDocument(doc, "")
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session, workspaceID string) ([]store.Document, error) {
	if err := s.requireMember(ctx, session, workspaceID); err != nil {
		return nil, err
	}
	items, err := s.store.ListDocumentsByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.Document{}
	}
	return items, nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	if !util.ValidID(documentID) {
		return store.Document{}, validationError("invalid document id")
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if err := s.requireMember(ctx, session, doc.WorkspaceID); err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

func (s *Service) RenameDocument(ctx context.Context, session Session, documentID, title string) (store.Document, error) {
	doc, err := s.GetDocument(ctx, session, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if doc.CreatedBy.ID != session.UserID {
		return store.Document{}, forbiddenError("Only the creator can rename a document")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Document{}, validationError("document title is required")
	}

	renamed, err := s.store.RenameDocument(ctx, documentID, title)
	if err != nil {
		return store.Document{}, err
	}
	s.indexDocument(renamed, documentPlainText(renamed.Content))
	return renamed, nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	doc, err := s.GetDocument(ctx, session, documentID)
	if err != nil {
		return err
	}
	if doc.CreatedBy.ID != session.UserID {
		return forbiddenError("Only the creator can delete a document")
	}

	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}
	return nil
}

// SaveDocumentContent is the explicit REST save path. The websocket autosave
// path goes through the sync session instead and shares the same store write.
func (s *Service) SaveDocumentContent(ctx context.Context, session Session, documentID string, content json.RawMessage) error {
	doc, err := s.GetDocument(ctx, session, documentID)
	if err != nil {
		return err
	}
	if len(content) == 0 || !json.Valid(content) {
		return validationError("invalid document content")
	}
	if err := s.store.UpdateDocumentContent(ctx, documentID, content); err != nil {
		return err
	}
	doc.Content = content
	s.indexDocument(doc, documentPlainText(content))
	return nil
}

// DocumentSaver is the persistence hook handed to the document sync session.
// Search indexing rides along so debounced autosaves keep the index fresh.
func (s *Service) DocumentSaver() realtime.Saver {
	return func(ctx context.Context, documentID string, content json.RawMessage) error {
		if err := s.store.UpdateDocumentContent(ctx, documentID, content); err != nil {
			return err
		}
		if doc, err := s.store.GetDocument(ctx, documentID); err == nil {
			s.indexDocument(doc, documentPlainText(content))
		}
		return nil
	}
}

func (s *Service) ExportDocument(ctx context.Context, session Session, documentID string, format export.Format) (*export.Result, error) {
	doc, err := s.GetDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	workspaceName := ""
	if workspace, err := s.store.GetWorkspace(ctx, doc.WorkspaceID); err == nil {
		workspaceName = workspace.Name
	}
	return export.Export(export.Document{
		Title:         doc.Title,
		WorkspaceName: workspaceName,
		Content:       doc.Content,
	}, format)
}

func documentPlainText(content json.RawMessage) string {
	delta, err := export.ParseDelta(content)
	if err != nil {
		return ""
	}
	return delta.PlainText()
}

// ---------------------------------------------------------------------------
// Files

func (s *Service) filesAvailable() error {
	if s.files == nil {
		return domainError(http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "File storage not configured", nil)
	}
	return nil
}

func (s *Service) UploadFile(ctx context.Context, session Session, workspaceID, name, contentType string, size int64, r io.Reader) (store.File, error) {
	if err := s.filesAvailable(); err != nil {
		return store.File{}, err
	}
	if err := s.requireMember(ctx, session, workspaceID); err != nil {
		return store.File{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.File{}, validationError("file name is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	fileID := util.NewID("file")
	storageKey := workspaceID + "/" + fileID + "/" + name
	if err := s.files.Put(ctx, storageKey, r, size, contentType); err != nil {
		return store.File{}, err
	}

	file, err := s.store.InsertFile(ctx, store.File{
		ID:          fileID,
		Name:        name,
		StorageKey:  storageKey,
		Size:        size,
		ContentType: contentType,
		WorkspaceID: workspaceID,
		Uploader:    store.UserRef{ID: session.UserID},
	})
	if err != nil {
		// The row failed after the object was written; drop the orphan.
		s.cleanupStorage([]string{storageKey})
		return store.File{}, err
	}
	return file, nil
}

func (s *Service) ListFiles(ctx context.Context, session Session, workspaceID string) ([]store.File, error) {
	if err := s.requireMember(ctx, session, workspaceID); err != nil {
		return nil, err
	}
	items, err := s.store.ListFilesByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.File{}
	}
	return items, nil
}

// DownloadFile returns the file record and an open reader over its content.
// The caller must close the reader.
func (s *Service) DownloadFile(ctx context.Context, session Session, fileID string) (store.File, io.ReadCloser, error) {
	if err := s.filesAvailable(); err != nil {
		return store.File{}, nil, err
	}
	if !util.ValidID(fileID) {
		return store.File{}, nil, validationError("invalid file id")
	}
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return store.File{}, nil, err
	}
	if err := s.requireMember(ctx, session, file.WorkspaceID); err != nil {
		return store.File{}, nil, err
	}
	reader, err := s.files.Get(ctx, file.StorageKey)
	if err != nil {
		return store.File{}, nil, err
	}
	return file, reader, nil
}

func (s *Service) DeleteFile(ctx context.Context, session Session, fileID string) error {
	if err := s.filesAvailable(); err != nil {
		return err
	}
	if !util.ValidID(fileID) {
		return validationError("invalid file id")
	}
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if file.Uploader.ID != session.UserID {
		return forbiddenError("Only the uploader can delete a file")
	}

	if err := s.store.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	s.cleanupStorage([]string{file.StorageKey})
	return nil
}

// ---------------------------------------------------------------------------
// Search

// Search queries across the caller's workspaces only.
func (s *Service) Search(ctx context.Context, session Session, text, filterType string, limit, offset int) (search.Response, error) {
	workspaces, err := s.store.ListWorkspacesByMember(ctx, session.UserID)
	if err != nil {
		return search.Response{}, err
	}
	workspaceIDs := make([]string, 0, len(workspaces))
	for _, workspace := range workspaces {
		workspaceIDs = append(workspaceIDs, workspace.ID)
	}

	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:               text,
		FilterType:         search.ResultType(filterType),
		FilterWorkspaceIDs: workspaceIDs,
		Limit:              limit,
		Offset:             offset,
	}), nil
}
