package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"syncspace/api/internal/auth"
	"syncspace/api/internal/blob"
	"syncspace/api/internal/config"
	"syncspace/api/internal/email"
	"syncspace/api/internal/rbac"
	"syncspace/api/internal/realtime"
	"syncspace/api/internal/search"
	"syncspace/api/internal/store"
	"syncspace/api/internal/util"
)

// Session is the authenticated caller for one request or one websocket
// connection.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	UpdateUserProfile(context.Context, string, string, string) (store.User, error)
	ListAllUserRefs(context.Context) ([]store.UserRef, error)

	InsertWorkspace(context.Context, store.Workspace) error
	GetWorkspace(context.Context, string) (store.Workspace, error)
	ListWorkspacesByMember(context.Context, string) ([]store.Workspace, error)
	IsWorkspaceMember(context.Context, string, string) (bool, error)
	AddWorkspaceMember(context.Context, string, string) (bool, error)
	UpdateWorkspaceName(context.Context, string, string) (store.Workspace, error)
	DeleteWorkspaceCascade(context.Context, string) ([]string, error)

	InsertTask(context.Context, store.Task, []string) (store.Task, error)
	GetTask(context.Context, string) (store.Task, error)
	ListTasksByWorkspace(context.Context, string) ([]store.Task, error)
	UpdateTask(context.Context, string, store.TaskUpdate) (store.Task, error)
	DeleteTask(context.Context, string) (store.Task, error)

	InsertMessage(context.Context, store.Message) (store.Message, error)
	GetMessage(context.Context, string) (store.Message, error)
	ListMessagesByWorkspace(context.Context, string) ([]store.Message, error)
	DeleteMessage(context.Context, string) error
	DeleteMessagesBySender(context.Context, []string, string) ([]string, error)

	InsertDocument(context.Context, store.Document) (store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	ListDocumentsByWorkspace(context.Context, string) ([]store.Document, error)
	UpdateDocumentContent(context.Context, string, json.RawMessage) error
	RenameDocument(context.Context, string, string) (store.Document, error)
	DeleteDocument(context.Context, string) error

	InsertFile(context.Context, store.File) (store.File, error)
	GetFile(context.Context, string) (store.File, error)
	ListFilesByWorkspace(context.Context, string) ([]store.File, error)
	DeleteFile(context.Context, string) error

	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Redis in production, Postgres tables as
// the fallback.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// broadcaster fans committed mutations out to room members. Satisfied by
// *realtime.Hub.
type broadcaster interface {
	Broadcast(roomID, event string, payload any, excludeSession string) error
}

// notifier sends transactional email. nil-able via IsConfigured.
type notifier interface {
	IsConfigured() bool
	SendTaskAssignedEmail(to, userName, taskTitle, workspaceName, boardURL string) error
}

// searchIndex maintains and queries the cross-entity search index. Satisfied
// by *search.Service; index maintenance is fire-and-forget.
type searchIndex interface {
	Search(q search.Query) search.Response
	IndexTask(t search.TaskRecord)
	IndexDocument(d search.DocumentRecord)
	IndexMessage(m search.MessageRecord)
	DeleteTask(id string)
	DeleteDocument(id string)
	DeleteMessages(ids []string)
}

// fileStore is the object storage for uploaded workspace files. May be nil
// when no endpoint is configured; file endpoints then report unavailable.
type fileStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
	RemoveAll(ctx context.Context, keys []string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	hub      broadcaster
	email    notifier
	search   searchIndex
	files    fileStore
}

// New wires the service from concrete components. email, searchSvc, and
// files may be nil when the deployment does not configure them.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, hub *realtime.Hub, emailSvc *email.Service, searchSvc *search.Service, files *blob.Store) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
	}
	if hub != nil {
		s.hub = hub
	}
	if emailSvc != nil {
		s.email = emailSvc
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if files != nil {
		s.files = files
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// ---------------------------------------------------------------------------
// Auth

func (s *Service) Register(ctx context.Context, name, email, password, role string) (Session, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return Session{}, validationError("name is required")
	}
	if email == "" || !strings.Contains(email, "@") {
		return Session{}, validationError("a valid email is required")
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return Session{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return Session{}, validationError(err.Error())
	}

	user := store.User{
		ID:           util.NewID("user"),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         string(rbac.Normalize(role)),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.Name,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		Role:      string(rbac.Normalize(claims.Role)),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Users

func (s *Service) Me(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (map[string]any, error) {
	if !util.ValidID(userID) {
		return nil, validationError("invalid user id")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, name, title string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	user, err := s.store.UpdateUserProfile(ctx, session.UserID, name, strings.TrimSpace(title))
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) ListUsers(ctx context.Context) ([]store.UserRef, error) {
	refs, err := s.store.ListAllUserRefs(ctx)
	if err != nil {
		return nil, err
	}
	if refs == nil {
		refs = []store.UserRef{}
	}
	return refs, nil
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":             user.ID,
		"name":           user.Name,
		"email":          user.Email,
		"role":           user.Role,
		"title":          user.Title,
		"profilePicture": user.ProfilePicture,
		"createdAt":      user.CreatedAt,
	}
}

// ---------------------------------------------------------------------------
// Workspaces

func (s *Service) CreateWorkspace(ctx context.Context, session Session, name string) (store.Workspace, error) {
	if !s.Can(session.Role, rbac.ActionManageWorkspace) {
		return store.Workspace{}, forbiddenError("Only admins can create workspaces")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Workspace{}, validationError("workspace name is required")
	}

	workspace := store.Workspace{
		ID:      util.NewID("ws"),
		Name:    name,
		OwnerID: session.UserID,
	}
	if err := s.store.InsertWorkspace(ctx, workspace); err != nil {
		return store.Workspace{}, err
	}
	return s.store.GetWorkspace(ctx, workspace.ID)
}

func (s *Service) ListMyWorkspaces(ctx context.Context, session Session) ([]store.Workspace, error) {
	items, err := s.store.ListWorkspacesByMember(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.Workspace{}
	}
	return items, nil
}

func (s *Service) GetWorkspace(ctx context.Context, session Session, workspaceID string) (store.Workspace, error) {
	if !util.ValidID(workspaceID) {
		return store.Workspace{}, validationError("invalid workspace id")
	}
	workspace, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return store.Workspace{}, err
	}
	for _, memberID := range workspace.MemberIDs {
		if memberID == session.UserID {
			return workspace, nil
		}
	}
	return store.Workspace{}, forbiddenError("Not a member of this workspace")
}

// JoinWorkspace adds the caller via an invite link. Joining twice is a no-op.
func (s *Service) JoinWorkspace(ctx context.Context, session Session, workspaceID string) (store.Workspace, error) {
	if !util.ValidID(workspaceID) {
		return store.Workspace{}, validationError("invalid workspace id")
	}
	workspace, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return store.Workspace{}, err
	}
	if _, err := s.store.AddWorkspaceMember(ctx, workspaceID, session.UserID); err != nil {
		return store.Workspace{}, err
	}
	return s.store.GetWorkspace(ctx, workspace.ID)
}

func (s *Service) RenameWorkspace(ctx context.Context, session Session, workspaceID, name string) (store.Workspace, error) {
	if !s.Can(session.Role, rbac.ActionManageWorkspace) {
		return store.Workspace{}, forbiddenError("Only admins can rename workspaces")
	}
	if err := s.requireMember(ctx, session, workspaceID); err != nil {
		return store.Workspace{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Workspace{}, validationError("workspace name is required")
	}
	return s.store.UpdateWorkspaceName(ctx, workspaceID, name)
}

// DeleteWorkspace removes the workspace and all of its content. Stored file
// objects are cleaned up after the transaction commits; object storage
// failures are logged, not surfaced.
func (s *Service) DeleteWorkspace(ctx context.Context, session Session, workspaceID string) error {
	if !s.Can(session.Role, rbac.ActionManageWorkspace) {
		return forbiddenError("Only admins can delete workspaces")
	}
	if err := s.requireMember(ctx, session, workspaceID); err != nil {
		return err
	}

	storageKeys, err := s.store.DeleteWorkspaceCascade(ctx, workspaceID)
	if err != nil {
		return err
	}
	s.cleanupStorage(storageKeys)
	return nil
}

func (s *Service) requireMember(ctx context.Context, session Session, workspaceID string) error {
	if !util.ValidID(workspaceID) {
		return validationError("invalid workspace id")
	}
	member, err := s.store.IsWorkspaceMember(ctx, workspaceID, session.UserID)
	if err != nil {
		return err
	}
	if !member {
		return forbiddenError("Not a member of this workspace")
	}
	return nil
}

// CanJoinRoom authorizes a realtime room join. Workspace rooms require
// membership; document rooms require membership of the owning workspace.
func (s *Service) CanJoinRoom(ctx context.Context, userID, roomID string) bool {
	if !util.ValidID(roomID) {
		return false
	}
	member, err := s.store.IsWorkspaceMember(ctx, roomID, userID)
	if err == nil && member {
		return true
	}
	doc, err := s.store.GetDocument(ctx, roomID)
	if err != nil {
		return false
	}
	member, err = s.store.IsWorkspaceMember(ctx, doc.WorkspaceID, userID)
	return err == nil && member
}
