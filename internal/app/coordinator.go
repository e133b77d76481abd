package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"syncspace/api/internal/realtime"
	"syncspace/api/internal/search"
	"syncspace/api/internal/store"
)

// Mutation flow: validate, persist, then announce the committed record to the
// workspace room. The broadcast and every other side effect here is strictly
// after-commit and best-effort; a failure is logged and never propagated back
// to the caller, whose mutation already succeeded.

func (s *Service) announce(roomID, event string, payload any) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Broadcast(roomID, event, payload, ""); err != nil {
		log.Printf("broadcast %s to %s: %v", event, roomID, err)
	}
}

// notifyAssignees emails each assignee with a resolvable address. Runs in the
// background so a slow SMTP server never delays the API response.
func (s *Service) notifyAssignees(task store.Task, workspaceName string) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	boardURL := s.cfg.FrontendURL + "/workspace/" + task.WorkspaceID
	for _, assignee := range task.Assignees {
		if assignee.Email == "" {
			continue
		}
		go func(to, name string) {
			if err := s.email.SendTaskAssignedEmail(to, name, task.Title, workspaceName, boardURL); err != nil {
				log.Printf("task assigned email to %s: %v", to, err)
			}
		}(assignee.Email, assignee.Name)
	}
}

func (s *Service) indexTask(task store.Task) {
	if s.search == nil {
		return
	}
	s.search.IndexTask(search.TaskRecord{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		Status:      task.Status,
		WorkspaceID: task.WorkspaceID,
	})
}

func (s *Service) indexDocument(doc store.Document, plainText string) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:          doc.ID,
		Title:       doc.Title,
		Content:     plainText,
		WorkspaceID: doc.WorkspaceID,
	})
}

func (s *Service) indexMessage(message store.Message) {
	if s.search == nil {
		return
	}
	s.search.IndexMessage(search.MessageRecord{
		ID:          message.ID,
		Content:     message.Content,
		SenderName:  message.Sender.Name,
		WorkspaceID: message.WorkspaceID,
	})
}

// cleanupStorage removes orphaned file objects after a cascade delete.
func (s *Service) cleanupStorage(storageKeys []string) {
	if s.files == nil || len(storageKeys) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.files.RemoveAll(ctx, storageKeys); err != nil {
			log.Printf("cleanup %d stored files: %v", len(storageKeys), err)
		}
	}()
}

// RealtimeHandlers wires the websocket transport to the service: join
// authorization, the legacy chat path, and document edits feeding the sync
// session.
func (s *Service) RealtimeHandlers(sync *realtime.DocSync) realtime.Handlers {
	return realtime.Handlers{
		CanJoin: func(ctx context.Context, identity realtime.Identity, roomID string) bool {
			return s.CanJoinRoom(ctx, identity.UserID, roomID)
		},
		OnChatMessage: func(ctx context.Context, identity realtime.Identity, workspaceID, content string) {
			session := Session{UserID: identity.UserID, UserName: identity.Name, Role: identity.Role}
			if _, err := s.PostMessage(ctx, session, workspaceID, content); err != nil {
				log.Printf("ws chat message from %s: %v", identity.UserID, err)
			}
		},
		OnDocumentChange: func(ctx context.Context, sessionID, documentID string, content json.RawMessage) {
			sync.Apply(sessionID, documentID, content)
		},
	}
}
