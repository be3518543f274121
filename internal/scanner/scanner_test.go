package scanner

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chalkdrop/chalkdrop/internal/config"
	"github.com/chalkdrop/chalkdrop/internal/model"
)

type stubEngine struct {
	result EngineResult
	delay  time.Duration
	panics bool
}

func (s *stubEngine) ScanBytes(ctx context.Context, r io.Reader) EngineResult {
	if s.panics {
		panic("engine exploded")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
	}
	return s.result
}

func testPolicy() config.ScanPolicy {
	return config.ScanPolicy{
		AVTimeout:              50 * time.Millisecond,
		SuspicionSizeThreshold: 1 << 20,
		Keywords:               []string{"virus", "malware", "trojan"},
	}
}

func testCandidate(name string, data []byte) *model.UploadCandidate {
	return &model.UploadCandidate{
		OwnerID:  "teacher-1",
		Filename: name,
		Size:     int64(len(data)),
		Bytes:    bytes.NewReader(data),
	}
}

func newScanner(engine Engine) *Scanner {
	return New(engine, testPolicy(), zap.NewNop())
}

func TestScanCleanFile(t *testing.T) {
	s := newScanner(&stubEngine{result: EngineResult{Status: EngineClean}})
	verdict := s.Scan(context.Background(), testCandidate("worksheet.txt", []byte("adding fractions")))
	if !verdict.Safe() {
		t.Fatalf("expected clean verdict, got %+v", verdict)
	}
	if verdict.ScannedAt.IsZero() {
		t.Fatalf("expected ScannedAt to be set")
	}
}

func TestScanInfectedFile(t *testing.T) {
	s := newScanner(&stubEngine{result: EngineResult{Status: EngineInfected, Details: "Eicar-Test-Signature"}})
	verdict := s.Scan(context.Background(), testCandidate("worksheet.txt", []byte("adding fractions")))
	if !verdict.VirusFound {
		t.Fatalf("expected VirusFound, got %+v", verdict)
	}
	if !containsDetail(verdict, "Eicar-Test-Signature") {
		t.Fatalf("expected engine details in verdict, got %v", verdict.Details)
	}
}

func TestScanFilenameKeyword(t *testing.T) {
	s := newScanner(&stubEngine{result: EngineResult{Status: EngineClean}})
	verdict := s.Scan(context.Background(), testCandidate("virus_report.txt", []byte("weekly summary")))
	if !verdict.SuspiciousContent {
		t.Fatalf("expected suspicious verdict for keyword filename, got %+v", verdict)
	}
}

func TestScanContentKeywordInTextFile(t *testing.T) {
	s := newScanner(&stubEngine{result: EngineResult{Status: EngineClean}})
	verdict := s.Scan(context.Background(), testCandidate("notes.txt", []byte("this sample contains a trojan string")))
	if !verdict.SuspiciousContent {
		t.Fatalf("expected suspicious verdict for keyword content, got %+v", verdict)
	}
}

func TestScanContentKeywordIgnoredForBinaryFormats(t *testing.T) {
	s := newScanner(&stubEngine{result: EngineResult{Status: EngineClean}})
	// Keywords inside non-text formats are not inspected; only the filename is.
	verdict := s.Scan(context.Background(), testCandidate("photo.png", []byte("trojan bytes inside an image")))
	if !verdict.Safe() {
		t.Fatalf("expected clean verdict, got %+v", verdict)
	}
}

func TestScanUnavailableEngineIsSoftPassForSmallFiles(t *testing.T) {
	s := newScanner(&stubEngine{result: EngineResult{Status: EngineUnavailable, Details: "connection refused"}})
	verdict := s.Scan(context.Background(), testCandidate("worksheet.txt", []byte("adding fractions")))
	if !verdict.Safe() {
		t.Fatalf("expected soft pass for small file, got %+v", verdict)
	}
	if !containsDetail(verdict, "antivirus unavailable") {
		t.Fatalf("expected unavailability recorded in details, got %v", verdict.Details)
	}
}

func TestScanUnavailableEngineFlagsLargeFiles(t *testing.T) {
	s := newScanner(&stubEngine{result: EngineResult{Status: EngineUnavailable, Details: "connection refused"}})
	c := testCandidate("big.txt", []byte("adding fractions"))
	c.Size = 2 << 20
	verdict := s.Scan(context.Background(), c)
	if !verdict.SuspiciousContent {
		t.Fatalf("expected large file with inconclusive scan to be suspicious, got %+v", verdict)
	}
}

func TestScanSlowEngineHitsTimeBudget(t *testing.T) {
	s := newScanner(&stubEngine{result: EngineResult{Status: EngineClean}, delay: 500 * time.Millisecond})
	c := testCandidate("big.txt", []byte("adding fractions"))
	c.Size = 2 << 20
	start := time.Now()
	verdict := s.Scan(context.Background(), c)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("scan did not respect time budget, took %s", elapsed)
	}
	if !verdict.SuspiciousContent {
		t.Fatalf("expected timed-out scan of large file to be suspicious, got %+v", verdict)
	}
}

func TestScanPanickingEngineFailsClosed(t *testing.T) {
	s := newScanner(&stubEngine{panics: true})
	c := testCandidate("big.txt", []byte("adding fractions"))
	c.Size = 2 << 20
	verdict := s.Scan(context.Background(), c)
	if !verdict.SuspiciousContent {
		t.Fatalf("expected panicking engine to fail closed on large file, got %+v", verdict)
	}
}

// lingeringEngine ignores its context and keeps draining the reader, the way
// a blocked socket writer does until the write fails.
type lingeringEngine struct {
	runFor time.Duration
}

func (l *lingeringEngine) ScanBytes(ctx context.Context, r io.Reader) EngineResult {
	deadline := time.Now().Add(l.runFor)
	buf := make([]byte, 512)
	for time.Now().Before(deadline) {
		_, _ = r.Read(buf)
		time.Sleep(time.Millisecond)
	}
	return EngineResult{Status: EngineClean}
}

func TestScanLingeringEngineCannotDisturbOtherPasses(t *testing.T) {
	// Large enough that the keyword pass reads for a while, with the keyword
	// at the very end; an engine still draining a shared stream would steal
	// those bytes.
	content := append(bytes.Repeat([]byte("benign classroom text "), 5000), []byte("trojan")...)
	s := newScanner(&lingeringEngine{runFor: 300 * time.Millisecond})
	verdict := s.Scan(context.Background(), testCandidate("notes.txt", content))
	if !containsDetail(verdict, "content contains keyword: trojan") {
		t.Fatalf("keyword pass missed content while engine was still reading: %+v", verdict)
	}
	if !verdict.SuspiciousContent {
		t.Fatalf("expected suspicious verdict, got %+v", verdict)
	}
}

func TestScanDangerousSignatureWithBlockedExtension(t *testing.T) {
	s := newScanner(&stubEngine{result: EngineResult{Status: EngineClean}})
	payload := append([]byte{0x4D, 0x5A}, make([]byte, 64)...)
	verdict := s.Scan(context.Background(), testCandidate("tool.exe", payload))
	if !verdict.MalwareFound {
		t.Fatalf("expected malware verdict for MZ header behind .exe, got %+v", verdict)
	}
}

func TestScanDangerousSignatureWithBenignExtension(t *testing.T) {
	s := newScanner(&stubEngine{result: EngineResult{Status: EngineClean}})
	payload := append([]byte{0x7F, 0x45, 0x4C, 0x46}, make([]byte, 64)...)
	verdict := s.Scan(context.Background(), testCandidate("data.bin", payload))
	if verdict.MalwareFound {
		t.Fatalf("expected suspicious, not malware, for benign extension: %+v", verdict)
	}
	if !verdict.SuspiciousContent {
		t.Fatalf("expected suspicious verdict for dangerous signature, got %+v", verdict)
	}
}

func containsDetail(v model.ScanVerdict, substr string) bool {
	for _, d := range v.Details {
		if strings.Contains(d, substr) {
			return true
		}
	}
	return false
}
