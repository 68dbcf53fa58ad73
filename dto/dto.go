package dto

import (
	"encoding/json"
	"github.com/google/uuid"
)

// Envelope is one frame on the duplex channel. Ack is echoed back on the
// reply so a client can correlate it with its request.
type Envelope struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// VideoChunk carries one fragment. Chunks is base64 on the wire. Seq is
// optional; when the client numbers its fragments duplicates are dropped.
type VideoChunk struct {
	Filename string  `json:"filename"`
	Chunks   []byte  `json:"chunks"`
	Seq      *uint64 `json:"seq,omitempty"`
}

type ProcessVideo struct {
	Filename string `json:"filename"`
	UserId   string `json:"userId"`
}

// PipelineResult is the single terminal answer to a process-video request.
type PipelineResult struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (r PipelineResult) OK() bool {
	return r.Status == 200
}

// EnrichmentMessage hands a recording that passed the size gate to the
// enrichment tail, either in-process or through the queue.
type EnrichmentMessage struct {
	JobId    uuid.UUID `json:"jobId"`
	Filename string    `json:"filename"`
	UserId   string    `json:"userId"`
	Plan     string    `json:"plan"`
}
