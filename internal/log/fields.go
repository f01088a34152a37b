package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldError         = "error"
	FieldDuration      = "duration_ms"
	FieldTransactionID = "transaction_id"
	FieldDescription   = "description"
	FieldCategory      = "category"
	FieldCategoryID    = "category_id"
	FieldFilePath      = "file_path"
	FieldAttempt       = "attempt"
	FieldMaxAttempts   = "max_attempts"
	FieldJobKind       = "job_kind"
	FieldJobID         = "job_id"
	FieldCount         = "count"
	FieldQueue         = "queue"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentClassifier = "classifier"
	ComponentCategorize = "categorizer"
	ComponentBatch      = "batch"
	ComponentService    = "service"
	ComponentCLI        = "cli"
)
