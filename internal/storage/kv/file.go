package kv

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jgivc/offlinecache/internal/util"
	"github.com/spf13/afero"
)

const (
	// Longer keys are stored under the sha1 of the key with the key itself
	// in a header line, since their encoded name would not fit a file name.
	maxFileKeyLength = 180
	hashedSuffix     = ".long"
	tempPrefix       = "."

	dirMode  = 0755
	fileMode = 0644
)

var keyEncoding = base64.RawURLEncoding

// fileStore keeps one file per key. Values are written to a temp file and
// renamed into place so a failed write never leaves a torn value.
type fileStore struct {
	fs  afero.Fs
	dir string
	log *slog.Logger
}

func NewFileStore(fs afero.Fs, dir string, log *slog.Logger) (*fileStore, error) {
	if err := fs.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("cannot create store dir %s: %w", dir, err)
	}

	return &fileStore{
		fs:  fs,
		dir: dir,
		log: log.With(slog.String("item", "FileStore")),
	}, nil
}

func (s *fileStore) GetItem(_ context.Context, key string) (string, bool, error) {
	path, hashed, err := s.path(key)
	if err != nil {
		return "", false, err
	}

	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("cannot read %s: %w", key, err)
	}

	if !hashed {
		return string(data), true, nil
	}

	stored, value, err := splitHeader(data)
	if err != nil {
		return "", false, fmt.Errorf("cannot read %s: %w", key, err)
	}

	if stored != key {
		return "", false, nil
	}

	return value, true, nil
}

func (s *fileStore) SetItem(_ context.Context, key, value string) error {
	path, hashed, err := s.path(key)
	if err != nil {
		return err
	}

	if hashed {
		value = keyEncoding.EncodeToString([]byte(key)) + "\n" + value
	}

	tmp := filepath.Join(s.dir, tempPrefix+uuid.NewString())
	if err := afero.WriteFile(s.fs, tmp, []byte(value), fileMode); err != nil {
		_ = s.fs.Remove(tmp)

		return fmt.Errorf("cannot write %s: %w", key, err)
	}

	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)

		return fmt.Errorf("cannot commit %s: %w", key, err)
	}

	return nil
}

func (s *fileStore) RemoveItem(_ context.Context, key string) error {
	path, _, err := s.path(key)
	if err != nil {
		return err
	}

	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove %s: %w", key, err)
	}

	return nil
}

func (s *fileStore) MultiGet(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		val, ok, err := s.GetItem(ctx, key)
		if err != nil {
			return nil, err
		}

		if ok {
			out[key] = val
		}
	}

	return out, nil
}

func (s *fileStore) MultiSet(ctx context.Context, items map[string]string) error {
	for key, val := range items {
		if err := s.SetItem(ctx, key, val); err != nil {
			return err
		}
	}

	return nil
}

func (s *fileStore) MultiRemove(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := s.RemoveItem(ctx, key); err != nil {
			return err
		}
	}

	return nil
}

func (s *fileStore) GetAllKeys(_ context.Context) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("cannot list store dir: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}

		if strings.HasSuffix(entry.Name(), hashedSuffix) {
			key, err := s.hashedKey(filepath.Join(s.dir, entry.Name()))
			if err != nil {
				s.log.Warn("Skip unreadable file", slog.String("name", entry.Name()), slog.Any("error", err))

				continue
			}

			keys = append(keys, key)

			continue
		}

		key, err := keyEncoding.DecodeString(entry.Name())
		if err != nil {
			s.log.Warn("Skip foreign file", slog.String("name", entry.Name()))

			continue
		}

		keys = append(keys, string(key))
	}

	return keys, nil
}

// path returns the file of key and whether it is a hashed one.
func (s *fileStore) path(key string) (string, bool, error) {
	if key == "" {
		return "", false, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	if len(key) > maxFileKeyLength {
		return filepath.Join(s.dir, util.GetIDFromString(&key)+hashedSuffix), true, nil
	}

	return filepath.Join(s.dir, keyEncoding.EncodeToString([]byte(key))), false, nil
}

func (s *fileStore) hashedKey(path string) (string, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("cannot read header: %w", err)
	}

	key, err := keyEncoding.DecodeString(strings.TrimSuffix(line, "\n"))
	if err != nil {
		return "", fmt.Errorf("cannot decode header: %w", err)
	}

	return string(key), nil
}

func splitHeader(data []byte) (string, string, error) {
	header, value, ok := strings.Cut(string(data), "\n")
	if !ok {
		return "", "", fmt.Errorf("missing header")
	}

	key, err := keyEncoding.DecodeString(header)
	if err != nil {
		return "", "", fmt.Errorf("cannot decode header: %w", err)
	}

	return string(key), value, nil
}
