// Package search provides cross-entity full-text search over tasks,
// documents, and chat messages, backed by Meilisearch with a PostgreSQL
// fallback.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultTask     ResultType = "task"
	ResultDocument ResultType = "document"
	ResultMessage  ResultType = "message"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	WorkspaceID string     `json:"workspaceId"`
}

// Query describes a search request. FilterWorkspaceIDs restricts results to
// the caller's workspaces; an empty slice means no results at all.
type Query struct {
	Text               string
	FilterType         ResultType // empty = all types
	FilterWorkspaceIDs []string
	Limit              int
	Offset             int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// TaskRecord is the data indexed for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	WorkspaceID string `json:"workspaceId"`
}

// DocumentRecord is the data indexed for a document. Content is the plain
// text extracted from the rich-text blob.
type DocumentRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	WorkspaceID string `json:"workspaceId"`
}

// MessageRecord is the data indexed for a chat message.
type MessageRecord struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	SenderName  string `json:"senderName"`
	WorkspaceID string `json:"workspaceId"`
}
