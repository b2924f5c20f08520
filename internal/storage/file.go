package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/conorfennell/knolroom/internal/errs"
)

const (
	filePrefix     = "room_"
	fileExt        = ".json"
	encodedIDMark  = "~"
	tempFilePrefix = "."
)

var plainRoomID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FileBackend keeps each room in its own JSON file named
// room_<roomID>_<kind>.json, holding {"<key>": [...]}.
type FileBackend[T any] struct {
	dir  string
	kind string
	key  string

	// rename is os.Rename; tests replace it to simulate a failed replace.
	rename func(oldpath, newpath string) error
}

// NewFileBackend creates dir if needed and returns a backend for one record kind.
func NewFileBackend[T any](dir, kind, key string) (*FileBackend[T], error) {
	if kind == "" || key == "" {
		return nil, fmt.Errorf("file backend needs a kind and an envelope key")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Storage("init", "", fmt.Errorf("create data dir %s: %w", dir, err))
	}
	return &FileBackend[T]{dir: dir, kind: kind, key: key, rename: os.Rename}, nil
}

// Open returns the file-backed store for roomID.
func (b *FileBackend[T]) Open(roomID string) (Store[T], error) {
	if roomID == "" {
		return nil, errs.Validation("empty room id")
	}
	return &fileStore[T]{
		backend: b,
		room:    roomID,
		path:    filepath.Join(b.dir, b.fileName(roomID)),
	}, nil
}

// Rooms lists room ids by scanning the data directory.
func (b *FileBackend[T]) Rooms(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Storage("rooms", "", err)
	}
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, errs.Storage("rooms", "", err)
	}

	suffix := "_" + b.kind + fileExt
	var rooms []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		encoded := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), suffix)
		id, ok := decodeRoomID(encoded)
		if !ok {
			continue
		}
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms, nil
}

func (b *FileBackend[T]) fileName(roomID string) string {
	return filePrefix + encodeRoomID(roomID) + "_" + b.kind + fileExt
}

// encodeRoomID keeps simple ids readable (and compatible with existing room
// files) and base64-encodes anything that could escape the data directory.
func encodeRoomID(id string) string {
	if plainRoomID.MatchString(id) {
		return id
	}
	return encodedIDMark + base64.RawURLEncoding.EncodeToString([]byte(id))
}

func decodeRoomID(s string) (string, bool) {
	if !strings.HasPrefix(s, encodedIDMark) {
		return s, s != ""
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, encodedIDMark))
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

type fileStore[T any] struct {
	backend *FileBackend[T]
	room    string
	path    string
}

// Load reads the room file, creating it with an empty sequence if absent.
func (s *fileStore[T]) Load(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Storage("load", s.room, err)
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := s.initialize(); err != nil {
			return nil, errs.Storage("load", s.room, err)
		}
		data, err = os.ReadFile(s.path)
	}
	if err != nil {
		return nil, errs.Storage("load", s.room, err)
	}

	records, err := s.decode(data)
	if err != nil {
		return nil, errs.Storage("load", s.room, err)
	}
	return records, nil
}

// Commit writes the sequence to a temp file and renames it over the room file.
func (s *fileStore[T]) Commit(ctx context.Context, records []T) error {
	if err := ctx.Err(); err != nil {
		return errs.Storage("commit", s.room, err)
	}

	data, err := s.encode(records)
	if err != nil {
		return errs.Storage("commit", s.room, err)
	}
	tmp, err := s.writeTemp(data)
	if err != nil {
		return errs.Storage("commit", s.room, err)
	}
	if err := s.backend.rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return errs.Storage("commit", s.room, fmt.Errorf("replace %s: %w", s.path, err))
	}
	syncDir(s.backend.dir)
	return nil
}

// initialize publishes an empty room file. os.Link refuses to overwrite, so
// when two callers race only one empty file ever becomes visible.
func (s *fileStore[T]) initialize() error {
	data, err := s.encode(nil)
	if err != nil {
		return err
	}
	tmp, err := s.writeTemp(data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, s.path); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("publish %s: %w", s.path, err)
	}
	syncDir(s.backend.dir)
	return nil
}

func (s *fileStore[T]) writeTemp(data []byte) (string, error) {
	f, err := os.CreateTemp(s.backend.dir, tempFilePrefix+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return name, nil
}

func (s *fileStore[T]) encode(records []T) ([]byte, error) {
	if records == nil {
		records = []T{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string][]T{s.backend.key: records}); err != nil {
		return nil, fmt.Errorf("encode room: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (s *fileStore[T]) decode(data []byte) ([]T, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	records, err := decodeRecords[T](envelope[s.backend.key])
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return records, nil
}

// syncDir flushes the directory entry after a rename. Some platforms cannot
// fsync a directory; the rename itself is already atomic there.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
