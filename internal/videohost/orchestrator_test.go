package videohost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type statusStep struct {
	state ProcessingState
	err   error
}

type fakeHost struct {
	uploadErrs  []error
	uploadCalls int
	steps       []statusStep
	statusCalls int
	deleted     []string
}

func (f *fakeHost) Upload(ctx context.Context, req UploadRequest) (string, error) {
	f.uploadCalls++
	if len(f.uploadErrs) > 0 {
		err := f.uploadErrs[0]
		f.uploadErrs = f.uploadErrs[1:]
		return "", err
	}
	return "vid-1", nil
}

func (f *fakeHost) Status(ctx context.Context, videoID string) (ProcessingState, error) {
	i := f.statusCalls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.statusCalls++
	return f.steps[i].state, f.steps[i].err
}

func (f *fakeHost) Delete(ctx context.Context, videoID string) error {
	f.deleted = append(f.deleted, videoID)
	return nil
}

func newTestOrchestrator(host Host) *Orchestrator {
	o := NewOrchestrator(host, time.Millisecond, 100*time.Millisecond, zap.NewNop())
	o.retryBackoff = time.Millisecond
	return o
}

func TestUploadRetriesTransientFailures(t *testing.T) {
	host := &fakeHost{uploadErrs: []error{
		fmt.Errorf("%w: provider returned 503", ErrTransient),
		fmt.Errorf("%w: provider returned 503", ErrTransient),
	}}
	o := newTestOrchestrator(host)
	videoID, err := o.Upload(context.Background(), UploadRequest{Title: "lecture"})
	if err != nil {
		t.Fatalf("expected upload to succeed after retries, got %v", err)
	}
	if videoID != "vid-1" {
		t.Fatalf("unexpected video id %q", videoID)
	}
	if host.uploadCalls != 3 {
		t.Fatalf("expected 3 upload attempts, got %d", host.uploadCalls)
	}
}

func TestUploadStopsOnPermanentFailure(t *testing.T) {
	host := &fakeHost{uploadErrs: []error{errors.New("provider returned 400")}}
	o := newTestOrchestrator(host)
	if _, err := o.Upload(context.Background(), UploadRequest{Title: "lecture"}); err == nil {
		t.Fatalf("expected error for permanent failure")
	}
	if host.uploadCalls != 1 {
		t.Fatalf("permanent failure must not be retried, got %d attempts", host.uploadCalls)
	}
}

func TestUploadExhaustsRetryBudget(t *testing.T) {
	transient := fmt.Errorf("%w: provider returned 503", ErrTransient)
	host := &fakeHost{uploadErrs: []error{transient, transient, transient, transient}}
	o := newTestOrchestrator(host)
	if _, err := o.Upload(context.Background(), UploadRequest{Title: "lecture"}); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error after exhausting retries, got %v", err)
	}
	if host.uploadCalls != uploadAttempts {
		t.Fatalf("expected %d attempts, got %d", uploadAttempts, host.uploadCalls)
	}
}

func TestAwaitProcessingCompletes(t *testing.T) {
	host := &fakeHost{steps: []statusStep{
		{state: ProcessingState{Status: StatusUploading}},
		{state: ProcessingState{Status: StatusProcessing, Progress: 40}},
		{state: ProcessingState{Status: StatusCompleted, Progress: 100}},
	}}
	o := newTestOrchestrator(host)
	state, err := o.AwaitProcessing(context.Background(), "vid-1")
	if err != nil {
		t.Fatalf("expected completion, got %v", err)
	}
	if state.Status != StatusCompleted {
		t.Fatalf("unexpected terminal state %+v", state)
	}
}

func TestAwaitProcessingProviderFailure(t *testing.T) {
	host := &fakeHost{steps: []statusStep{
		{state: ProcessingState{Status: StatusProcessing}},
		{state: ProcessingState{Status: StatusFailed, Error: "unsupported codec"}},
	}}
	o := newTestOrchestrator(host)
	_, err := o.AwaitProcessing(context.Background(), "vid-1")
	var failed *ProcessingFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected ProcessingFailedError, got %v", err)
	}
	if !strings.Contains(failed.Reason, "unsupported codec") {
		t.Fatalf("expected provider reason, got %q", failed.Reason)
	}
}

func TestAwaitProcessingTimesOut(t *testing.T) {
	host := &fakeHost{steps: []statusStep{
		{state: ProcessingState{Status: StatusProcessing}},
	}}
	o := newTestOrchestrator(host)
	if _, err := o.AwaitProcessing(context.Background(), "vid-1"); !errors.Is(err, ErrProcessingTimeout) {
		t.Fatalf("expected ErrProcessingTimeout, got %v", err)
	}
}

func TestAwaitProcessingRetriesTransientPolls(t *testing.T) {
	host := &fakeHost{steps: []statusStep{
		{err: fmt.Errorf("%w: connection refused", ErrTransient)},
		{state: ProcessingState{Status: StatusCompleted}},
	}}
	o := newTestOrchestrator(host)
	state, err := o.AwaitProcessing(context.Background(), "vid-1")
	if err != nil {
		t.Fatalf("expected completion after transient poll failure, got %v", err)
	}
	if state.Status != StatusCompleted {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestAwaitProcessingStopsOnCancel(t *testing.T) {
	host := &fakeHost{steps: []statusStep{
		{state: ProcessingState{Status: StatusProcessing}},
	}}
	o := NewOrchestrator(host, time.Millisecond, time.Minute, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := o.AwaitProcessing(ctx, "vid-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
