package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

const (
	formatVersion = 1
	nameLayout    = "20060102-150405.000"
)

var ErrNoBackups = errors.New("no backups found")

// Snapshot is one stored backup. Data is the caller's payload as JSON.
type Snapshot struct {
	Version   int             `json:"version"`
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Service stores snapshots of one kind. Names sort chronologically.
type Service struct {
	storage Storage
	kind    string
	now     func() time.Time
}

func NewService(storage Storage, kind string) *Service {
	return &Service{storage: storage, kind: kind, now: time.Now}
}

func (s *Service) prefix() string {
	return s.kind + "-"
}

func (s *Service) Save(ctx context.Context, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s payload: %w", s.kind, err)
	}
	snap := Snapshot{
		Version:   formatVersion,
		Kind:      s.kind,
		Timestamp: s.now().UTC(),
		Data:      data,
	}
	encoded, err := json.Marshal(&snap)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := s.prefix() + snap.Timestamp.Format(nameLayout) + ".json"
	if err := s.storage.Save(ctx, name, bytes.NewReader(encoded)); err != nil {
		return "", fmt.Errorf("failed to save backup: %w", err)
	}
	return name, nil
}

// Load reads the named snapshot and decodes its payload into out.
func (s *Service) Load(ctx context.Context, name string, out interface{}) (*Snapshot, error) {
	reader, err := s.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load backup: %w", err)
	}
	defer reader.Close()

	var snap Snapshot
	if err := json.NewDecoder(reader).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode backup %s: %w", name, err)
	}
	if snap.Version != formatVersion || snap.Kind != s.kind {
		return nil, fmt.Errorf("backup %s is %s v%d, want %s v%d", name, snap.Kind, snap.Version, s.kind, formatVersion)
	}
	if out != nil {
		if err := json.Unmarshal(snap.Data, out); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", s.kind, err)
		}
	}
	return &snap, nil
}

// List returns snapshot names oldest first.
func (s *Service) List(ctx context.Context) ([]string, error) {
	names, err := s.storage.List(ctx, s.prefix())
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if strings.HasSuffix(n, ".json") {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Service) Latest(ctx context.Context) (string, error) {
	names, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNoBackups
	}
	return names[len(names)-1], nil
}

// Prune keeps the newest keep snapshots and deletes the rest.
func (s *Service) Prune(ctx context.Context, keep int) (int, error) {
	names, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	deleted := 0
	for len(names)-deleted > keep {
		if err := s.storage.Delete(ctx, names[deleted]); err != nil {
			return deleted, fmt.Errorf("failed to delete %s: %w", names[deleted], err)
		}
		deleted++
	}
	return deleted, nil
}
