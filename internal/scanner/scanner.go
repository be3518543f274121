// Package scanner orchestrates the three security scan passes over a staged
// upload (antivirus engine, keyword heuristics, binary signature inspection)
// and merges them into a single verdict. Scan always returns a verdict within
// a bounded time; every internal failure fails closed by marking the file
// suspicious rather than propagating an error to the caller.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chalkdrop/chalkdrop/internal/config"
	"github.com/chalkdrop/chalkdrop/internal/model"
	"github.com/chalkdrop/chalkdrop/internal/validation"
)

// textContentLimit bounds how much of a text-like file the keyword pass reads.
const textContentLimit = 512 << 10

// textLikeExtensions are the formats whose content (not just filename) the
// keyword pass inspects.
var textLikeExtensions = map[string]bool{
	".txt": true,
	".csv": true,
	".md":  true,
	".rtf": true,
}

// Scanner reduces three independent passes to one ScanVerdict.
type Scanner struct {
	engine Engine
	policy config.ScanPolicy
	logger *zap.Logger
}

// New constructs a Scanner. The policy value is treated as immutable.
func New(engine Engine, policy config.ScanPolicy, logger *zap.Logger) *Scanner {
	return &Scanner{engine: engine, policy: policy, logger: logger}
}

// Scan runs all passes and merges their flags with logical OR. It never
// returns an error: a pass that panics or cannot run records its failure on
// the verdict as suspicious content.
func (s *Scanner) Scan(ctx context.Context, c *model.UploadCandidate) model.ScanVerdict {
	verdict := model.ScanVerdict{ScannedAt: time.Now().UTC()}

	s.runPass("antivirus", &verdict, func() {
		s.antivirusPass(ctx, c, &verdict)
	})
	s.runPass("keyword-heuristic", &verdict, func() {
		s.keywordPass(c, &verdict)
	})
	s.runPass("binary-signature", &verdict, func() {
		s.signaturePass(c, &verdict)
	})

	if _, err := c.Bytes.Seek(0, io.SeekStart); err != nil {
		verdict.SuspiciousContent = true
		verdict.Details = append(verdict.Details, fmt.Sprintf("rewind after scan: %v", err))
	}
	return verdict
}

// runPass isolates one pass so a panic inside it cannot leave the caller
// without a verdict.
func (s *Scanner) runPass(name string, verdict *model.ScanVerdict, pass func()) {
	defer func() {
		if r := recover(); r != nil {
			verdict.SuspiciousContent = true
			verdict.Details = append(verdict.Details, fmt.Sprintf("%s pass failed: %v", name, r))
			s.logger.Error("scan pass panicked",
				zap.String("pass", name),
				zap.Any("panic", r))
		}
	}()
	pass()
}

// antivirusPass invokes the external engine under the configured budget. An
// unavailable engine is a soft pass for this pass only: the condition is
// logged, and files above the suspicion threshold are flagged because an
// inconclusive scan of a large file is itself risky.
func (s *Scanner) antivirusPass(ctx context.Context, c *model.UploadCandidate, verdict *model.ScanVerdict) {
	// The engine gets its own view of the bytes. An engine that outlives its
	// budget keeps reading, and must not move the offset the remaining passes
	// seek and read through.
	view, err := engineView(c)
	if err != nil {
		verdict.SuspiciousContent = true
		verdict.Details = append(verdict.Details, fmt.Sprintf("antivirus input: %v", err))
		return
	}
	scanCtx, cancel := context.WithTimeout(ctx, s.policy.AVTimeout)
	defer cancel()

	resultCh := make(chan EngineResult, 1)
	go func() {
		// A panicking engine must still produce a result; the runPass recover
		// cannot see this goroutine.
		defer func() {
			if r := recover(); r != nil {
				resultCh <- EngineResult{Status: EngineUnavailable, Details: fmt.Sprintf("engine panic: %v", r)}
			}
		}()
		resultCh <- s.engine.ScanBytes(scanCtx, view)
	}()
	var result EngineResult
	select {
	case result = <-resultCh:
	case <-scanCtx.Done():
		result = EngineResult{Status: EngineUnavailable, Details: "antivirus scan exceeded time budget"}
	}

	switch result.Status {
	case EngineInfected:
		verdict.VirusFound = true
		verdict.Details = append(verdict.Details, "virus detected: "+result.Details)
	case EngineUnavailable:
		s.logger.Warn("antivirus engine unavailable, continuing with remaining passes",
			zap.String("filename", c.Filename),
			zap.String("reason", result.Details))
		verdict.Details = append(verdict.Details, "antivirus unavailable: "+result.Details)
		if c.Size >= s.policy.SuspicionSizeThreshold {
			verdict.SuspiciousContent = true
			verdict.Details = append(verdict.Details,
				fmt.Sprintf("inconclusive antivirus scan for %d byte file", c.Size))
		}
	}
}

// engineView returns a reader over the candidate bytes that shares no state
// with c.Bytes. Staged files and in-memory buffers are ReaderAts; anything
// else is copied once.
func engineView(c *model.UploadCandidate) (io.Reader, error) {
	if ra, ok := c.Bytes.(io.ReaderAt); ok {
		return io.NewSectionReader(ra, 0, c.Size), nil
	}
	if _, err := c.Bytes.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(c.Bytes)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// keywordPass matches the filename, and for text-like formats the content,
// against the configured keyword list.
func (s *Scanner) keywordPass(c *model.UploadCandidate, verdict *model.ScanVerdict) {
	lowerName := strings.ToLower(c.Filename)
	for _, keyword := range s.policy.Keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(lowerName, keyword) {
			verdict.SuspiciousContent = true
			verdict.Details = append(verdict.Details, "filename contains keyword: "+keyword)
			break
		}
	}

	ext := strings.ToLower(filepath.Ext(c.Filename))
	if !textLikeExtensions[ext] {
		return
	}
	if _, err := c.Bytes.Seek(0, io.SeekStart); err != nil {
		verdict.SuspiciousContent = true
		verdict.Details = append(verdict.Details, fmt.Sprintf("keyword pass rewind: %v", err))
		return
	}
	content, err := io.ReadAll(io.LimitReader(c.Bytes, textContentLimit))
	if err != nil {
		verdict.SuspiciousContent = true
		verdict.Details = append(verdict.Details, fmt.Sprintf("keyword pass read: %v", err))
		return
	}
	lowerContent := strings.ToLower(string(content))
	for _, keyword := range s.policy.Keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(lowerContent, keyword) {
			verdict.SuspiciousContent = true
			verdict.Details = append(verdict.Details, "content contains keyword: "+keyword)
			break
		}
	}
}

// signaturePass inspects the first kilobyte for known dangerous binary
// signatures. A match paired with a blocked extension is treated as malware;
// a match alone is merely suspicious.
func (s *Scanner) signaturePass(c *model.UploadCandidate, verdict *model.ScanVerdict) {
	if _, err := c.Bytes.Seek(0, io.SeekStart); err != nil {
		verdict.SuspiciousContent = true
		verdict.Details = append(verdict.Details, fmt.Sprintf("signature pass rewind: %v", err))
		return
	}
	header := make([]byte, 1024)
	n, err := io.ReadFull(c.Bytes, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		verdict.SuspiciousContent = true
		verdict.Details = append(verdict.Details, fmt.Sprintf("signature pass read: %v", err))
		return
	}
	name := validation.MatchDangerous(header[:n])
	if name == "" {
		return
	}
	ext := strings.ToLower(filepath.Ext(c.Filename))
	if validation.IsBlockedExtension(ext) {
		verdict.MalwareFound = true
		verdict.Details = append(verdict.Details,
			fmt.Sprintf("dangerous signature %s with blocked extension %s", name, ext))
		return
	}
	verdict.SuspiciousContent = true
	verdict.Details = append(verdict.Details, "dangerous signature: "+name)
}
