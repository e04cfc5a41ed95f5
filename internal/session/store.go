package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"finsight/internal/models"
	"finsight/pkg/crypto"
)

// MemoryStore - хранилище в памяти (тесты, одноразовые запуски)
type MemoryStore struct {
	mu    sync.Mutex
	creds *Credentials
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return nil, nil
	}
	c := *m.creds
	return &c, nil
}

func (m *MemoryStore) Save(c Credentials) error {
	m.mu.Lock()
	m.creds = &c
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	m.creds = nil
	m.mu.Unlock()
	return nil
}

// ErrCorruptStore - файл сессии повреждён или зашифрован другим ключом
var ErrCorruptStore = errors.New("session file is corrupt or was encrypted with another key")

// fileEnvelope - формат файла на диске
type fileEnvelope struct {
	Version int    `json:"version"`
	Salt    string `json:"salt"`
	Data    string `json:"data"`
}

// FileStore хранит учётные данные в файле, зашифрованном AES-256-GCM.
// Ключ выводится из passphrase (scrypt) с солью из самого файла.
type FileStore struct {
	path       string
	passphrase string
	mu         sync.Mutex
}

// NewFileStore создаёт хранилище по пути path
func NewFileStore(path, passphrase string) (*FileStore, error) {
	if passphrase == "" {
		return nil, crypto.ErrEmptyPassphrase
	}
	return &FileStore{path: path, passphrase: passphrase}, nil
}

func (f *FileStore) Load() (*Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var env fileEnvelope
	if err := models.JSON.Unmarshal(raw, &env); err != nil {
		return nil, ErrCorruptStore
	}
	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, ErrCorruptStore
	}
	key, err := crypto.DeriveKey(f.passphrase, salt)
	if err != nil {
		return nil, err
	}
	plain, err := crypto.Decrypt(env.Data, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}

	var creds Credentials
	if err := models.JSON.Unmarshal(plain, &creds); err != nil {
		return nil, ErrCorruptStore
	}
	return &creds, nil
}

func (f *FileStore) Save(c Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	plain, err := models.JSON.Marshal(c)
	if err != nil {
		return err
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	key, err := crypto.DeriveKey(f.passphrase, salt)
	if err != nil {
		return err
	}
	data, err := crypto.Encrypt(plain, key)
	if err != nil {
		return err
	}

	out, err := models.JSON.Marshal(fileEnvelope{
		Version: 1,
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Data:    data,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
