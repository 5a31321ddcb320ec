package models

import "time"

type Agent struct {
	ID          string
	Name        string
	Instruction string
	ActivatedAt *time.Time
	CreatedAt   time.Time
}

type Document struct {
	ID                 string
	AgentID            string
	Title              string
	SourceType         string
	RawContent         string
	Summary            string
	PageCount          int
	ChunkCount         int
	ExtractionMode     string
	ExtractionAttempts int
	Status             string
	FailureReason      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusCompleted  = "completed"
	DocStatusFailed     = "failed"

	ExtractionModeStandard = "standard"
	ExtractionModeOCR      = "ocr"
)

type Chunk struct {
	ID            string
	AgentID       string
	DocumentID    string
	Content       string
	Category      string
	Active        bool
	RemovalReason string
	RemovedAt     *time.Time
	CreatedAt     time.Time
}

// RequirementProfile describes what an agent is supposed to know.
// Produced by an external extraction step; read-only here. List fields
// are stored as JSON arrays.
type RequirementProfile struct {
	ID          string
	AgentID     string
	Summary     string
	Concepts    []string
	Procedures  []string
	Patterns    []string
	Vocabulary  []string
	References  []string
	StrictRules int
	CreatedAt   time.Time
}

type RelevanceScore struct {
	ID              string
	ChunkID         string
	RequirementID   string
	SemanticScore   float64
	ConceptScore    float64
	ProceduralScore float64
	VocabularyScore float64
	ReferenceScore  float64
	FinalScore      float64
	Rationale       string
	OracleModel     string
	CreatedAt       time.Time
}

type AnalysisProgress struct {
	ID              string
	AgentID         string
	RequirementID   string
	TotalChunks     int
	ChunksProcessed int
	CurrentBatch    int
	Status          string
	StartedAt       time.Time
	UpdatedAt       time.Time
}

const (
	AnalysisRunning   = "running"
	AnalysisCompleted = "completed"
	AnalysisTimeout   = "timeout"
	AnalysisError     = "error"
)

type RemovalHistoryEntry struct {
	ID          string
	ChunkID     string
	AgentID     string
	Content     string
	Category    string
	FinalScore  float64
	Reason      string
	RemovalType string
	RemovedAt   time.Time
}

const (
	RemovalAuto   = "auto"
	RemovalManual = "manual"
)

type MaintenanceRun struct {
	ID                 string
	Status             string
	DocumentsFixed     int
	DocumentsFailed    int
	ChunksCleaned      int
	AgentsSynced       int
	AgentsFailed       int
	SummariesGenerated int
	SummariesFailed    int
	StartedAt          time.Time
	FinishedAt         *time.Time
}

const (
	MaintenanceRunning        = "running"
	MaintenanceSuccess        = "success"
	MaintenancePartialFailure = "partial_failure"
	MaintenanceError          = "error"
)

type MaintenanceOperation struct {
	ID        int64
	RunID     string
	TargetID  string
	Operation string
	Attempt   int
	Status    string
	Error     string
	CreatedAt time.Time
}

const (
	OpStatusVerified         = "verified"
	OpStatusFailed           = "failed"
	OpStatusPermanentFailure = "permanent_failure"

	OpStuckDocument  = "stuck_document"
	OpOrphanCleanup  = "orphan_cleanup"
	OpMissingSummary = "missing_summary"
	OpAgentSync      = "agent_sync"
)
