package constant

import "strings"

type Plan string

const (
	PlanFree     Plan = "FREE"
	PlanPro      Plan = "PRO"
	PlanBusiness Plan = "BUSINESS"
)

func (p Plan) String() string {
	return string(p)
}

// Enriches reports whether recordings on this plan get transcription and a generated title/summary.
func (p Plan) Enriches() bool {
	return p == PlanPro || p == PlanBusiness
}

// ParsePlan returns false for anything the control plane should not be sending.
func ParsePlan(raw string) (Plan, bool) {
	switch p := Plan(strings.ToUpper(strings.TrimSpace(raw))); p {
	case PlanFree, PlanPro, PlanBusiness:
		return p, true
	default:
		return "", false
	}
}

type SessionState string

const (
	SessionStateReceiving  SessionState = "RECEIVING"
	SessionStateFinalizing SessionState = "FINALIZING"
	SessionStateUploading  SessionState = "UPLOADING"
	SessionStateEnriching  SessionState = "ENRICHING"
	SessionStateSkipped    SessionState = "SKIPPED"
	SessionStateDone       SessionState = "DONE"
	SessionStateError      SessionState = "ERROR"
)

func (s SessionState) Terminal() bool {
	return s == SessionStateDone || s == SessionStateError
}

type JobStatus string

const (
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusSkipped    JobStatus = "SKIPPED"
	JobStatusRejected   JobStatus = "REJECTED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCompleted  JobStatus = "COMPLETED"
)

type Stage string

const (
	StageSizeGate   Stage = "size_gate"
	StageComplete   Stage = "mark_complete"
	StageTranscribe Stage = "transcribe"
	StageGenerate   Stage = "generate"
	StageDeliver    Stage = "deliver_transcript"
	StageCleanup    Stage = "cleanup"
)

type DispatchMode string

const (
	DispatchInline DispatchMode = "inline"
	DispatchQueue  DispatchMode = "queue"
)

const (
	EventVideoChunks  = "video-chunks"
	EventProcessVideo = "process-video"

	RecordingContentType = "video/webm"

	// Whisper rejects uploads at 25MB.
	DefaultMaxTranscriptionBytes int64 = 25_000_000

	MessageProcessed      = "Video processed successfully!"
	MessageUpgradePlan    = "Please upgrade your plan."
	MessageSizeLimit      = "Video exceeds the 25MB transcription limit."
	MessageNotFound       = "No recording found for this file."
	MessageBusy           = "This recording is already being processed."
	MessageInvalidName    = "Invalid file name."
	MessageProcessingFail = "Error, something went wrong while processing file."
	MessageUploadFail     = "Error uploading video."
	MessageConflict       = "File with the same name already exists."

	MessageNoFile              = "No file uploaded"
	MessageUploadStarted       = "File uploaded and processing started"
	MessageProcessingStartFail = "Error starting video processing"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
