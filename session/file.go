package session

import (
	"context"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/dabubble/common/errors"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultRelPath = "dabubble/session.json"

// Blob is the durable slot holding the signed session token.
type Blob interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, token string) error
	Remove(ctx context.Context) error
}

type fileBlob struct {
	Token string `json:"token"`
}

// FileStore keeps the token in a small JSON file.
type FileStore struct {
	path string
}

// NewFileStore uses path, or the XDG config location when path is empty.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		p, err := xdg.ConfigFile(defaultRelPath)
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) Path() string {
	return f.path
}

// Read returns errors.ErrNoSession when nothing is stored.
func (f *FileStore) Read(ctx context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return "", errors.ErrNoSession
	}
	if err != nil {
		return "", err
	}

	var blob fileBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return "", err
	}
	if blob.Token == "" {
		return "", errors.ErrNoSession
	}
	return blob.Token, nil
}

func (f *FileStore) Write(ctx context.Context, token string) error {
	data, err := json.Marshal(fileBlob{Token: token})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Remove(ctx context.Context) error {
	err := os.Remove(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
