package models

// Document types accepted by the upload endpoint.
const (
	DocumentTypeMetadata      = "metadata"
	DocumentTypeBusinessLogic = "businesslogic"
	DocumentTypeReferences    = "references"
)

// ValidDocumentType reports whether t is one of the accepted document types.
func ValidDocumentType(t string) bool {
	switch t {
	case DocumentTypeMetadata, DocumentTypeBusinessLogic, DocumentTypeReferences:
		return true
	}
	return false
}

// Project groups uploaded documents, conversations and purchase orders.
type Project struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
	DocumentCounts DocumentCounts `json:"documentCounts"`
	Documents      []Document     `json:"documents,omitempty"`
}

// DocumentCounts holds per-type document totals for a project.
type DocumentCounts struct {
	Metadata      int `json:"metadata"`
	BusinessLogic int `json:"businesslogic"`
	References    int `json:"references"`
	Total         int `json:"total"`
}

// Document is an uploaded file tracked by the backend.
type Document struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	OriginalFilename string `json:"original_filename"`
	FileSize         int64  `json:"file_size"`
	MimeType         string `json:"mime_type"`
	DocumentType     string `json:"document_type"`
	UploadStatus     string `json:"upload_status"`
	EmbeddingStatus  string `json:"embedding_status"`
	CreatedAt        string `json:"created_at"`
}

// EmbeddingStatus summarizes embedding progress across a project's documents.
type EmbeddingStatus struct {
	Total      int `json:"total"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`
}

// IsProcessing reports whether any document is still waiting for or
// undergoing embedding. Chat input is gated on this.
func (s EmbeddingStatus) IsProcessing() bool {
	return s.Processing > 0 || s.Pending > 0
}

// Conversation is a chat thread owned by a project.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ProjectID    string    `json:"project_id"`
	CreatedAt    Timestamp `json:"created_at"`
	UpdatedAt    Timestamp `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// User is the authenticated account.
type User struct {
	ID        int       `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`
}
