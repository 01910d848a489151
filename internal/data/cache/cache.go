// Package cache keeps the import ledger: one JSON record per transfer package,
// keyed by the SHA-256 of the zip, tracking how far its import got.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

// State is the import lifecycle of a package.
type State string

const (
	StateInitialized State = "initialized"
	StateAccepted    State = "accepted"
	StateFailed      State = "failed"
	StateImported    State = "imported"
	StateDone        State = "done"
)

var transitions = map[State][]State{
	StateInitialized: {StateAccepted, StateFailed},
	StateAccepted:    {StateImported, StateFailed},
	StateImported:    {StateDone, StateFailed},
}

var ErrInvalidTransition = errors.New("invalid ledger state transition")

// CanTransition reports whether a package may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Completed reports a package whose data already reached the sinks.
func (s State) Completed() bool {
	return s == StateImported || s == StateDone
}

type MissReason int

const (
	MissReasonNone MissReason = iota
	MissReasonError
	MissReasonInode
	MissReasonSize
	MissReasonModTime
	MissReasonNotFound
)

var missReasonNames = map[MissReason]string{
	MissReasonNone:     "none",
	MissReasonError:    "error",
	MissReasonInode:    "inode",
	MissReasonSize:     "size",
	MissReasonModTime:  "modtime",
	MissReasonNotFound: "not found",
}

func (r MissReason) String() string {
	if name, ok := missReasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("MissReason(%d)", int(r))
}

// Record is the ledger entry of one transfer package.
type Record struct {
	ID           uuid.UUID `json:"id"`
	Fingerprint  string    `json:"fingerprint"`
	FilePath     string    `json:"filePath"`
	FileSize     int64     `json:"fileSize"`
	Inode        uint64    `json:"inode"`
	LastModified int64     `json:"lastModified"`
	State        State     `json:"state"`
	Message      string    `json:"message,omitempty"`
	RunID        uuid.UUID `json:"runId,omitempty"`
	Roots        int       `json:"roots,omitempty"`
	SyncDirs     int       `json:"syncDirs,omitempty"`
	Disparities  int       `json:"disparities,omitempty"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// LookupResult is the outcome of finding a package in the ledger.
type LookupResult struct {
	Record      *Record
	Found       bool
	Fingerprint string
	// MissReason explains why the recorded file identity could not be reused
	// and the file was hashed again.
	MissReason MissReason
}

type Ledger interface {
	Lookup(path string) (LookupResult, error)
	Begin(path, fingerprint string) (*Record, error)
	Transition(rec *Record, to State, message string) error
	Save(rec *Record) error
	Records() []Record
	Clear() error
	Preload() error
}

// FileLedger stores each record as <fingerprint>.json under baseDir and keeps
// the loaded records in memory.
type FileLedger struct {
	baseDir     string
	mu          sync.RWMutex
	memoryCache map[string]*Record
}

func NewFileLedger(baseDir string) (*FileLedger, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &FileLedger{
		baseDir:     baseDir,
		memoryCache: make(map[string]*Record),
	}, nil
}

// Lookup fingerprints the package at path and returns its record, if any. A
// record of the same path whose inode, size and modification time are unchanged
// supplies the fingerprint without hashing the file again.
func (l *FileLedger) Lookup(path string) (LookupResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return LookupResult{}, err
	}

	l.mu.RLock()
	var byPath *Record
	for _, rec := range l.memoryCache {
		if rec.FilePath == abs && (byPath == nil || rec.Updated.After(byPath.Updated)) {
			byPath = rec
		}
	}
	l.mu.RUnlock()

	reason := MissReasonNotFound
	if byPath != nil {
		ret := validateIdentity(byPath)
		if ret.cached {
			return LookupResult{Record: byPath, Found: true, Fingerprint: byPath.Fingerprint}, nil
		}
		reason = ret.reason
	}

	fingerprint, err := util.CalculateFileFingerprint(abs)
	if err != nil {
		return LookupResult{}, fmt.Errorf("fingerprint %s: %w", path, err)
	}

	l.mu.RLock()
	rec, ok := l.memoryCache[fingerprint]
	l.mu.RUnlock()
	if !ok {
		rec, ok = l.getFromFile(fingerprint)
	}
	return LookupResult{Record: rec, Found: ok, Fingerprint: fingerprint, MissReason: reason}, nil
}

func (l *FileLedger) getFromFile(fingerprint string) (*Record, bool) {
	rec, err := readRecord(filepath.Join(l.baseDir, fingerprint+".json"))
	if err != nil {
		return nil, false
	}
	l.mu.Lock()
	l.memoryCache[fingerprint] = rec
	l.mu.Unlock()
	return rec, true
}

type validateResult struct {
	cached bool
	reason MissReason
}

func validateIdentity(rec *Record) validateResult {
	info, err := util.GetFileInfo(rec.FilePath)
	if err != nil {
		util.LogDebug(fmt.Sprintf("Ledger identity check failed for %s: %v", rec.FilePath, err))
		return validateResult{reason: MissReasonError}
	}
	if info.Inode != rec.Inode {
		util.LogDebug(fmt.Sprintf("Package %s replaced: inode changed (recorded: %d, current: %d)",
			rec.FilePath, rec.Inode, info.Inode))
		return validateResult{reason: MissReasonInode}
	}
	if info.Size != rec.FileSize {
		util.LogDebug(fmt.Sprintf("Package %s changed: size changed (recorded: %d, current: %d)",
			rec.FilePath, rec.FileSize, info.Size))
		return validateResult{reason: MissReasonSize}
	}
	if info.ModTime != rec.LastModified {
		util.LogDebug(fmt.Sprintf("Package %s changed: modtime changed (recorded: %d, current: %d)",
			rec.FilePath, rec.LastModified, info.ModTime))
		return validateResult{reason: MissReasonModTime}
	}
	return validateResult{cached: true}
}

// Begin starts tracking an import of the package at path. An existing record
// with the same fingerprint restarts at initialized whatever its state.
func (l *FileLedger) Begin(path, fingerprint string) (*Record, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := util.GetFileInfo(abs)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	existing := l.memoryCache[fingerprint]
	l.mu.RUnlock()

	now := time.Now()
	rec := &Record{
		ID:          uuid.New(),
		Fingerprint: fingerprint,
		Created:     now,
	}
	if existing != nil {
		rec.ID = existing.ID
		rec.Created = existing.Created
	}
	rec.FilePath = abs
	rec.FileSize = info.Size
	rec.Inode = info.Inode
	rec.LastModified = info.ModTime
	rec.State = StateInitialized
	rec.Updated = now

	if err := l.Save(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Transition moves rec to state and persists it.
func (l *FileLedger) Transition(rec *Record, to State, message string) error {
	if !CanTransition(rec.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.State, to)
	}
	util.LogDebug(fmt.Sprintf("Package %s: %s -> %s", filepath.Base(rec.FilePath), rec.State, to))
	rec.State = to
	rec.Message = message
	rec.Updated = time.Now()
	return l.Save(rec)
}

func (l *FileLedger) Save(rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := sonic.ConfigStd.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger record: %w", err)
	}
	path := filepath.Join(l.baseDir, rec.Fingerprint+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	l.memoryCache[rec.Fingerprint] = rec
	return nil
}

// Records returns every loaded record, most recently updated first.
func (l *FileLedger) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, 0, len(l.memoryCache))
	for _, rec := range l.memoryCache {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Updated.Equal(out[j].Updated) {
			return out[i].Updated.After(out[j].Updated)
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

func (l *FileLedger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.memoryCache = make(map[string]*Record)

	return filepath.Walk(l.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".json" {
			os.Remove(path)
		}
		return nil
	})
}

// Preload reads every record under baseDir into memory.
func (l *FileLedger) Preload() error {
	var files []string
	err := filepath.Walk(l.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(strings.ToLower(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan ledger directory: %w", err)
	}
	if len(files) == 0 {
		util.LogDebug("Ledger is empty, skipping preload")
		return nil
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	filesChan := make(chan string, len(files))
	resultsChan := make(chan preloadResult, len(files))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go preloadWorker(filesChan, resultsChan, &wg)
	}
	for _, f := range files {
		filesChan <- f
	}
	close(filesChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	loaded, failed := 0, 0
	l.mu.Lock()
	for result := range resultsChan {
		if result.err != nil {
			failed++
			util.LogWarn(fmt.Sprintf("Failed to load ledger record %s: %v", result.filePath, result.err))
			continue
		}
		l.memoryCache[result.record.Fingerprint] = result.record
		loaded++
	}
	l.mu.Unlock()

	util.LogDebug(fmt.Sprintf("Ledger preload complete: %d loaded, %d failed (total %d)", loaded, failed, len(files)))
	return nil
}

type preloadResult struct {
	filePath string
	record   *Record
	err      error
}

func preloadWorker(filesChan <-chan string, resultsChan chan<- preloadResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for path := range filesChan {
		rec, err := readRecord(path)
		resultsChan <- preloadResult{filePath: path, record: rec, err: err}
	}
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.Fingerprint == "" {
		rec.Fingerprint = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	return &rec, nil
}
