package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"recording-ingest/constant"
	"testing"
)

type recordedCall struct {
	Path string
	Body map[string]string
}

func newControlPlane(t *testing.T, reply func(path string) (int, string)) (*httptest.Server, *[]recordedCall) {
	t.Helper()
	calls := &[]recordedCall{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		raw, _ := io.ReadAll(r.Body)
		body := map[string]string{}
		_ = json.Unmarshal(raw, &body)
		*calls = append(*calls, recordedCall{Path: r.URL.Path, Body: body})

		code, payload := reply(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, payload)
	}))
	t.Cleanup(server.Close)
	return server, calls
}

func TestMarkProcessing(t *testing.T) {
	server, calls := newControlPlane(t, func(string) (int, string) {
		return http.StatusOK, `{"status":200,"plan":"PRO"}`
	})
	client := NewClient(server.URL + "/api/")

	resp, err := client.MarkProcessing(context.Background(), "u1", "rec-1.webm")
	if err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if resp.Status != 200 || resp.Plan != constant.PlanPro {
		t.Fatalf("resp = %+v", resp)
	}
	if len(*calls) != 1 {
		t.Fatalf("calls = %d", len(*calls))
	}
	call := (*calls)[0]
	if call.Path != "/api/recording/u1/processing" {
		t.Fatalf("path = %s", call.Path)
	}
	if call.Body["filename"] != "rec-1.webm" {
		t.Fatalf("body = %v", call.Body)
	}
}

func TestMarkProcessingUnknownPlan(t *testing.T) {
	server, _ := newControlPlane(t, func(string) (int, string) {
		return http.StatusOK, `{"status":200,"plan":"ENTERPRISE"}`
	})
	resp, err := NewClient(server.URL).MarkProcessing(context.Background(), "u1", "rec.webm")
	if err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if resp.Plan != "" {
		t.Fatalf("plan = %q, want empty", resp.Plan)
	}
}

func TestStatusHandling(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		body       string
		wantStatus int
		malformed  bool
	}{
		{name: "body status rejected", code: http.StatusOK, body: `{"status":403}`, wantStatus: 403},
		{name: "body status wins over http", code: http.StatusInternalServerError, body: `{"status":500}`, wantStatus: 500},
		{name: "missing status", code: http.StatusOK, body: `{"plan":"PRO"}`, malformed: true},
		{name: "not json", code: http.StatusBadGateway, body: `<html>bad gateway</html>`, malformed: true},
		{name: "status wrong type", code: http.StatusOK, body: `{"status":"ok"}`, malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newControlPlane(t, func(string) (int, string) { return tt.code, tt.body })
			err := NewClient(server.URL).MarkComplete(context.Background(), "u1", "rec.webm")
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.malformed {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("err = %v, want ErrMalformedResponse", err)
				}
				return
			}
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("err = %v, want *StatusError", err)
			}
			if statusErr.Status != tt.wantStatus || statusErr.Op != "complete" {
				t.Fatalf("statusErr = %+v", statusErr)
			}
		})
	}
}

func TestSendTranscript(t *testing.T) {
	server, calls := newControlPlane(t, func(string) (int, string) {
		return http.StatusOK, `{"status":200}`
	})
	err := NewClient(server.URL).SendTranscript(context.Background(), "u1", TranscriptNotification{
		Filename:   "rec-1.webm",
		Content:    `{"title":"T","summary":"S"}`,
		Transcript: "hello world",
	})
	if err != nil {
		t.Fatalf("SendTranscript: %v", err)
	}
	call := (*calls)[0]
	if call.Path != "/recording/u1/transcribe" {
		t.Fatalf("path = %s", call.Path)
	}
	if call.Body["transcript"] != "hello world" || call.Body["content"] != `{"title":"T","summary":"S"}` {
		t.Fatalf("body = %v", call.Body)
	}
}

func TestTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url).MarkProcessing(context.Background(), "u1", "rec.webm")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("transport error classified as malformed: %v", err)
	}
}

func TestMissingConfiguration(t *testing.T) {
	if err := NewClient("").MarkComplete(context.Background(), "u1", "rec.webm"); err == nil {
		t.Fatal("expected error without base url")
	}
	if err := NewClient("http://example.invalid").MarkComplete(context.Background(), " ", "rec.webm"); err == nil {
		t.Fatal("expected error without user id")
	}
}

func TestUserIDStaysOneSegment(t *testing.T) {
	server, calls := newControlPlane(t, func(string) (int, string) {
		return http.StatusOK, `{"status":200,"plan":"PRO"}`
	})
	client := NewClient(server.URL + "/api")

	for _, userID := range []string{"../../admin/users/u9", "..", ".", `u1\x`, "u1/processing"} {
		if _, err := client.MarkProcessing(context.Background(), userID, "rec.webm"); !errors.Is(err, ErrInvalidUser) {
			t.Fatalf("MarkProcessing(%q) err = %v, want ErrInvalidUser", userID, err)
		}
	}
	if len(*calls) != 0 {
		t.Fatalf("control plane reached: %+v", *calls)
	}

	if _, err := client.MarkProcessing(context.Background(), "user one?", "rec.webm"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if got := (*calls)[0].Path; got != "/api/recording/user one?/processing" {
		t.Fatalf("path = %q", got)
	}
}
