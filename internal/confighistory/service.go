// Package confighistory keeps a git-backed audit trail of the organization's
// prompt configuration. Every approved change request commits the new live
// document, so the full review history survives outside the database.
package confighistory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"curator/api/internal/prompts"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type Commit struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}

type Service struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Service {
	return &Service{dir: dir}
}

func (s *Service) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(s.dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open history repo: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	repo, err = git.PlainInit(s.dir, false)
	if err != nil {
		return nil, fmt.Errorf("init history repo: %w", err)
	}
	return repo, nil
}

// RecordApproval commits the new live document for a content type. The
// author is the approving reviewer and the message names the change request.
func (s *Service) RecordApproval(contentType prompts.ContentType, content json.RawMessage, author, message string) (Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return Commit{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}

	filename := contentType.StorageKey() + ".json"
	pretty, err := prettyJSON(content)
	if err != nil {
		return Commit{}, fmt.Errorf("render document: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, filename), pretty, 0o644); err != nil {
		return Commit{}, fmt.Errorf("write document: %w", err)
	}
	if _, err := worktree.Add(filename); err != nil {
		return Commit{}, fmt.Errorf("git add %s: %w", filename, err)
	}

	signature := &object.Signature{Name: author, Email: author + "@curator.local", When: time.Now()}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author:            signature,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit approval: %w", err)
	}

	return Commit{Hash: hash.String(), Message: message, Author: author, CreatedAt: signature.When}, nil
}

// History lists approval commits, most recent first.
func (s *Service) History(limit int) ([]Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		// Empty repo: initialized but never committed.
		return []Commit{}, nil
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	commits := make([]Commit, 0, limit)
	for limit <= 0 || len(commits) < limit {
		commit, err := iter.Next()
		if err != nil {
			break
		}
		commits = append(commits, Commit{
			Hash:      commit.Hash.String(),
			Message:   commit.Message,
			Author:    commit.Author.Name,
			CreatedAt: commit.Author.When,
		})
	}
	return commits, nil
}

func prettyJSON(content json.RawMessage) ([]byte, error) {
	var parsed any
	if err := json.Unmarshal(content, &parsed); err != nil {
		return nil, err
	}
	rendered, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(rendered, '\n'), nil
}
