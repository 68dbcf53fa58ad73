package handler

import (
	"context"
	"errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"recording-ingest/constant"
	"recording-ingest/dto"
	"recording-ingest/service"
	"reflect"
	"testing"
)

type fakeEnrichment struct {
	runs      []dto.EnrichmentMessage
	abandoned []string
	err       error
}

func (f *fakeEnrichment) Abandon(ctx context.Context, filename string) {
	f.abandoned = append(f.abandoned, filename)
}

func (f *fakeEnrichment) Run(ctx context.Context, msg dto.EnrichmentMessage) *service.PipelineReport {
	f.runs = append(f.runs, msg)
	report := &service.PipelineReport{JobId: msg.JobId.String(), Filename: msg.Filename}
	report.Stages = append(report.Stages, service.StageOutcome{Stage: constant.StageTranscribe, Err: f.err})
	return report
}

func TestEnrichmentHandler(t *testing.T) {
	id := uuid.New()
	valid := `{"jobId":"` + id.String() + `","filename":"rec.webm","userId":"u1","plan":"PRO"}`

	tests := []struct {
		name          string
		body          string
		runErr        error
		wantRuns      int
		wantAbandoned []string
		permanent     bool
	}{
		{name: "runs the tail", body: valid, wantRuns: 1},
		{name: "malformed json", body: `{"jobId":`, permanent: true},
		{name: "missing filename", body: `{"jobId":"` + id.String() + `","userId":"u1"}`, permanent: true},
		{name: "missing job id", body: `{"filename":"rec.webm","userId":"u1"}`, wantAbandoned: []string{"rec.webm"}, permanent: true},
		{name: "failed stage", body: valid, runErr: errors.New("whisper down"), wantRuns: 1, permanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enrichment := &fakeEnrichment{err: tt.runErr}
			err := EnrichmentHandler(context.Background(), amqp.Delivery{Body: []byte(tt.body)}, ServiceDependencies{
				Enrichment: enrichment,
			})

			if len(enrichment.runs) != tt.wantRuns {
				t.Fatalf("runs = %d, want %d", len(enrichment.runs), tt.wantRuns)
			}
			if !reflect.DeepEqual(enrichment.abandoned, tt.wantAbandoned) {
				t.Fatalf("abandoned = %v, want %v", enrichment.abandoned, tt.wantAbandoned)
			}
			if tt.permanent != IsPermanent(err) {
				t.Fatalf("IsPermanent(%v) = %v, want %v", err, IsPermanent(err), tt.permanent)
			}
			if !tt.permanent && err != nil {
				t.Fatalf("EnrichmentHandler: %v", err)
			}
			if tt.wantRuns == 1 && enrichment.runs[0].JobId != id {
				t.Fatalf("job id = %s, want %s", enrichment.runs[0].JobId, id)
			}
		})
	}
}
