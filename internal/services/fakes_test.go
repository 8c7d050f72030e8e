package services

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/HamedShams/timepulse/internal/domain"
	"github.com/HamedShams/timepulse/internal/repo"
	"github.com/google/uuid"
)

var errUpstream = errors.New("upstream unavailable")

func ptr[T any](v T) *T { return &v }

// memStore mirrors the natural-key semantics of the Postgres repository.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	labels     map[string]int64
	issues     map[string]int64
	issueRows  map[int64]domain.Issue
	issueLinks map[[2]int64]struct{}
	entries    map[int64]domain.TimeEntry
	failOn     string
}

func newMemStore() *memStore {
	return &memStore{
		labels:     map[string]int64{},
		issues:     map[string]int64{},
		issueRows:  map[int64]domain.Issue{},
		issueLinks: map[[2]int64]struct{}{},
		entries:    map[int64]domain.TimeEntry{},
	}
}

func (m *memStore) id() int64 { m.nextID++; return m.nextID }

func (m *memStore) InsertLabel(_ context.Context, name string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "label" {
		return 0, false, errors.New("db down")
	}
	if id, ok := m.labels[name]; ok {
		return id, false, nil
	}
	id := m.id()
	m.labels[name] = id
	return id, true, nil
}

func (m *memStore) InsertIssue(_ context.Context, i domain.Issue, update bool) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "issue" {
		return 0, false, errors.New("db down")
	}
	if id, ok := m.issues[i.Identifier]; ok {
		if update {
			i.ID = id
			m.issueRows[id] = i
		}
		return id, false, nil
	}
	id := m.id()
	i.ID = id
	m.issues[i.Identifier] = id
	m.issueRows[id] = i
	return id, true, nil
}

func (m *memStore) LinkIssueLabel(_ context.Context, issueID, labelID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := [2]int64{issueID, labelID}
	if _, ok := m.issueLinks[k]; ok {
		return false, nil
	}
	m.issueLinks[k] = struct{}{}
	return true, nil
}

func (m *memStore) InsertTimeEntry(_ context.Context, e domain.TimeEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "entry" {
		return false, errors.New("db down")
	}
	if _, ok := m.entries[e.SourceID]; ok {
		return false, nil
	}
	m.entries[e.SourceID] = e
	return true, nil
}

func (m *memStore) issueByIdentifier(identifier string) domain.Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issueRows[m.issues[identifier]]
}

type fakeIssues struct {
	projects    []domain.IssueProject
	projectsErr error
	issues      map[string][]domain.Issue
	failFor     map[string]bool
	block       chan struct{}
	mu          sync.Mutex
	calls       int
}

func (f *fakeIssues) FetchProjects(context.Context) ([]domain.IssueProject, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.projects, f.projectsErr
}

func (f *fakeIssues) FetchProjectIssues(_ context.Context, id string) ([]domain.Issue, error) {
	if f.failFor[id] {
		return nil, errUpstream
	}
	return f.issues[id], nil
}

type fakeTime struct {
	projects    []domain.TTProject
	projectsErr error
	tasks       map[int64][]domain.TTTask
	taskErr     map[int64]bool
	entries     []domain.RawTimeEntry
	entriesErr  error

	mu         sync.Mutex
	taskCalls  map[int64]int
	entryCalls int
	gotTaskIDs []int64
}

func (f *fakeTime) FetchProjects(context.Context) ([]domain.TTProject, error) {
	return f.projects, f.projectsErr
}

func (f *fakeTime) FetchProjectTasks(_ context.Context, id int64) ([]domain.TTTask, error) {
	f.mu.Lock()
	if f.taskCalls == nil {
		f.taskCalls = map[int64]int{}
	}
	f.taskCalls[id]++
	f.mu.Unlock()
	if f.taskErr[id] {
		return nil, errUpstream
	}
	return f.tasks[id], nil
}

func (f *fakeTime) FetchTimeEntries(_ context.Context, ids []int64, _ domain.ReportWindow) ([]domain.RawTimeEntry, error) {
	f.mu.Lock()
	f.entryCalls++
	f.gotTaskIDs = append([]int64(nil), ids...)
	sort.Slice(f.gotTaskIDs, func(i, j int) bool { return f.gotTaskIDs[i] < f.gotTaskIDs[j] })
	f.mu.Unlock()
	return f.entries, f.entriesErr
}

type fakeRuns struct {
	mu       sync.Mutex
	started  []uuid.UUID
	finished map[uuid.UUID]bool
	summary  []byte
	errStr   string
}

func (f *fakeRuns) StartJobRun(_ context.Context, id uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	return nil
}

func (f *fakeRuns) FinishJobRun(_ context.Context, id uuid.UUID, success bool, errStr string, summary []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished == nil {
		f.finished = map[uuid.UUID]bool{}
	}
	f.finished[id] = success
	f.summary = summary
	f.errStr = errStr
	return nil
}

func (f *fakeRuns) GetLastRun(context.Context) (*repo.LastRun, error) { return nil, nil }

type fakeNotifier struct {
	mu    sync.Mutex
	sent  map[int64][]string
	fails bool
}

func (f *fakeNotifier) SendMessagePlain(_ context.Context, chat int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[int64][]string{}
	}
	f.sent[chat] = append(f.sent[chat], text)
	if f.fails {
		return errUpstream
	}
	return nil
}
