// Package gitrepo mirrors each document's revision log into its own git
// repository: one commit per revision, tagged with the revision's sequence
// number, so history can be inspected with ordinary git tooling.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"gemcast/internal/document"
)

const contentFile = "content.json"

// Content is the snapshot written to content.json for each revision.
type Content struct {
	Seq      int64             `json:"seq"`
	Title    string            `json:"title"`
	Kind     document.Kind     `json:"kind"`
	Metadata document.Metadata `json:"metadata"`
	Body     string            `json:"body"`
}

func ContentFromRevision(rev document.Revision) Content {
	return Content{
		Seq:      rev.Seq,
		Title:    rev.Title,
		Kind:     rev.Kind,
		Metadata: rev.Metadata,
		Body:     rev.Content,
	}
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

var ErrNoHistory = errors.New("document has no mirrored history")

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record commits one revision to the document's repository, creating the
// repository on first use.
func (s *Service) Record(rev document.Revision) (CommitInfo, error) {
	lock := s.documentLock(rev.ID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(rev.ID)
	if err != nil {
		return CommitInfo{}, err
	}

	hash, err := s.commit(repo, ContentFromRevision(rev), rev.UserID, rev.CreatedAt, commitMessage(rev))
	if err != nil {
		return CommitInfo{}, err
	}

	_, err = repo.CreateTag(seqTag(rev.Seq), hash, &git.CreateTagOptions{
		Tagger:  signature(rev.UserID, rev.CreatedAt),
		Message: commitMessage(rev),
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return CommitInfo{}, fmt.Errorf("create tag: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History returns the mirrored commits of a document, newest first.
func (s *Service) History(documentID string, limit int) ([]CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return nil, err
	}

	ref, err := repo.Reference(plumbing.Main, true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, max(limit, 0))
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ContentAt returns the snapshot at a commit hash (full or abbreviated) or
// at a revision tag such as "seq-3".
func (s *Service) ContentAt(documentID, revision string) (Content, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return Content{}, err
	}

	resolvedHash, err := resolveHash(repo, revision)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Content{}, fmt.Errorf("read commit %s: %w", revision, err)
	}
	return readContentFromCommit(commitObj)
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func (s *Service) open(documentID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNoHistory, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) ensureRepo(documentID string) (*git.Repository, error) {
	path := s.repoPath(documentID)
	if _, err := os.Stat(path); err == nil {
		return s.open(documentID)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.Main)); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) commit(repo *git.Repository, content Content, author string, when time.Time, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}

	// Every revision gets a commit, even when only the sequence number moved.
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(author, when),
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}

	var content Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

// FieldChange is one field that differs between two snapshots.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// DiffFields lists the fields that differ between two snapshots, sorted by
// field name. Rich bodies are compared structurally and summarized.
func DiffFields(from, to Content) []FieldChange {
	pairs := []FieldChange{
		{Field: "title", Before: from.Title, After: to.Title},
		{Field: "kind", Before: string(from.Kind), After: string(to.Kind)},
		{Field: "status", Before: string(from.Metadata.EffectiveStatus()), After: string(to.Metadata.EffectiveStatus())},
		{Field: "type", Before: from.Metadata.Type, After: to.Metadata.Type},
		{Field: "agentId", Before: from.Metadata.AgentID, After: to.Metadata.AgentID},
	}
	result := make([]FieldChange, 0)
	for _, item := range pairs {
		if item.Before != item.After {
			result = append(result, item)
		}
	}
	if bodyChanged(from, to) {
		change := FieldChange{Field: "body", Before: from.Body, After: to.Body}
		if from.Kind == document.KindRich || to.Kind == document.KindRich || from.Kind == document.KindImage || to.Kind == document.KindImage {
			change.Before, change.After = "[rich content]", "[rich content]"
		}
		result = append(result, change)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Field < result[j].Field
	})
	return result
}

func HasChanges(from, to Content) bool {
	return len(DiffFields(from, to)) > 0
}

func bodyChanged(from, to Content) bool {
	if from.Kind == document.KindRich && to.Kind == document.KindRich {
		return !bytes.Equal(normalizeDoc(from.Body), normalizeDoc(to.Body))
	}
	return from.Body != to.Body
}

func commitMessage(rev document.Revision) string {
	return fmt.Sprintf("Revision %d: %s\n\nkind=%s status=%s", rev.Seq, rev.Title, rev.Kind, rev.Metadata.EffectiveStatus())
}

func seqTag(seq int64) string {
	return fmt.Sprintf("seq-%d", seq)
}

func signature(author string, when time.Time) *object.Signature {
	if when.IsZero() {
		when = time.Now()
	}
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@users.gemcast.local", sanitizeEmail(author)),
		When:  when,
	}
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func normalizeDoc(doc string) []byte {
	if doc == "" {
		return nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return []byte(doc)
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return nil
	}
	return normalized
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
