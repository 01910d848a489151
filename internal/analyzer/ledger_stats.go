package analyzer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/penwyp/go-talkingbook-stats/internal/data/cache"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

// missReasonString describes why the ledger had to fingerprint a package again.
func missReasonString(r cache.MissReason) string {
	switch r {
	case cache.MissReasonNone:
		return "none"
	case cache.MissReasonError:
		return "Package identity unreadable"
	case cache.MissReasonInode:
		return "Package file replaced"
	case cache.MissReasonSize:
		return "Package size changed"
	case cache.MissReasonModTime:
		return "Package modification time changed"
	case cache.MissReasonNotFound:
		return "Package not in ledger"
	default:
		return "Unknown reason"
	}
}

// LedgerStats counts the ledger outcomes of the packages an analyzer saw.
type LedgerStats struct {
	total    int64
	skipped  int64
	imported int64
	failures int64

	mu          sync.Mutex
	missDetails []MissDetail
}

// MissDetail records a package that was fingerprinted again.
type MissDetail struct {
	FilePath string
	Reason   cache.MissReason
}

func NewLedgerStats() *LedgerStats {
	return &LedgerStats{
		missDetails: make([]MissDetail, 0),
	}
}

func (s *LedgerStats) IncrementTotal() {
	atomic.AddInt64(&s.total, 1)
}

// IncrementSkipped counts a package already imported by an earlier run.
func (s *LedgerStats) IncrementSkipped() {
	atomic.AddInt64(&s.skipped, 1)
}

func (s *LedgerStats) IncrementImported() {
	atomic.AddInt64(&s.imported, 1)
}

func (s *LedgerStats) IncrementFailure() {
	atomic.AddInt64(&s.failures, 1)
}

// IncrementMiss records a fingerprint recomputation. MissReasonNone is ignored.
func (s *LedgerStats) IncrementMiss(filePath string, reason cache.MissReason) {
	if reason == cache.MissReasonNone {
		return
	}
	s.mu.Lock()
	s.missDetails = append(s.missDetails, MissDetail{FilePath: filePath, Reason: reason})
	s.mu.Unlock()
}

// GetStats returns the counters.
func (s *LedgerStats) GetStats() (total, skipped, imported, failures int64) {
	return atomic.LoadInt64(&s.total),
		atomic.LoadInt64(&s.skipped),
		atomic.LoadInt64(&s.imported),
		atomic.LoadInt64(&s.failures)
}

// MissReasons counts the recorded misses by reason.
func (s *LedgerStats) MissReasons() map[cache.MissReason]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[cache.MissReason]int)
	for _, d := range s.missDetails {
		counts[d.Reason]++
	}
	return counts
}

// PrintFinalStats logs the counters and a summary of miss reasons.
func (s *LedgerStats) PrintFinalStats() {
	total, skipped, imported, failures := s.GetStats()
	util.LogInfo(fmt.Sprintf("Ledger statistics: %d packages, %d imported, %d skipped, %d failed",
		total, imported, skipped, failures))

	reasons := s.MissReasons()
	if len(reasons) == 0 {
		return
	}
	util.LogDebug("Ledger miss reason summary:")
	for reason, count := range reasons {
		util.LogDebug(fmt.Sprintf("  %s: %d packages", missReasonString(reason), count))
	}
}
