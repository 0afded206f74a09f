package near

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	xerrors "NFTMarket-Harness/internal/errors"
)

// ErrKeyNotFound is wrapped by every key store when no key is registered.
var ErrKeyNotFound = errors.New("near: key not found")

// KeyStore resolves the signing key of an account on a network.
type KeyStore interface {
	GetKey(network, accountID string) (*KeyPair, error)
	SetKey(network, accountID string, kp *KeyPair) error
}

func keyNotFound(network, accountID string) error {
	return xerrors.Wrap(xerrors.CodeNotFound, ErrKeyNotFound, fmt.Sprintf("no key for %s on %s", accountID, network))
}

// InMemoryKeyStore keeps keys for the lifetime of the process.
type InMemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*KeyPair
}

// NewInMemoryKeyStore returns an empty store.
func NewInMemoryKeyStore() *InMemoryKeyStore {
	return &InMemoryKeyStore{keys: make(map[string]*KeyPair)}
}

func (s *InMemoryKeyStore) GetKey(network, accountID string) (*KeyPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kp, ok := s.keys[network+"/"+accountID]
	if !ok {
		return nil, keyNotFound(network, accountID)
	}
	return kp, nil
}

func (s *InMemoryKeyStore) SetKey(network, accountID string, kp *KeyPair) error {
	if kp == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "nil key pair")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[network+"/"+accountID] = kp
	return nil
}

// FileSystemKeyStore reads the credential layout near-cli writes:
// <dir>/<network>/<account>.json.
type FileSystemKeyStore struct {
	dir string
}

type keyFile struct {
	AccountID  string `json:"account_id"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// NewFileSystemKeyStore roots a store at dir.
func NewFileSystemKeyStore(dir string) *FileSystemKeyStore {
	return &FileSystemKeyStore{dir: dir}
}

// Dir returns the credentials root.
func (s *FileSystemKeyStore) Dir() string { return s.dir }

func (s *FileSystemKeyStore) path(network, accountID string) string {
	return filepath.Join(s.dir, network, accountID+".json")
}

func (s *FileSystemKeyStore) GetKey(network, accountID string) (*KeyPair, error) {
	content, err := os.ReadFile(s.path(network, accountID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, keyNotFound(network, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var file keyFile
	if err := json.Unmarshal(content, &file); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode key file "+s.path(network, accountID))
	}
	return ParseKeyPair(file.PrivateKey)
}

func (s *FileSystemKeyStore) SetKey(network, accountID string, kp *KeyPair) error {
	if kp == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "nil key pair")
	}
	path := s.path(network, accountID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}
	content, err := json.Marshal(keyFile{
		AccountID:  accountID,
		PublicKey:  kp.PublicKey().String(),
		PrivateKey: kp.String(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o600)
}

// MergeKeyStore looks keys up in order and writes to the first store.
type MergeKeyStore struct {
	stores []KeyStore
}

// NewMergeKeyStore chains stores; at least one is required.
func NewMergeKeyStore(stores ...KeyStore) *MergeKeyStore {
	return &MergeKeyStore{stores: stores}
}

func (s *MergeKeyStore) GetKey(network, accountID string) (*KeyPair, error) {
	for _, store := range s.stores {
		kp, err := store.GetKey(network, accountID)
		if err == nil {
			return kp, nil
		}
		if !errors.Is(err, ErrKeyNotFound) {
			return nil, err
		}
	}
	return nil, keyNotFound(network, accountID)
}

func (s *MergeKeyStore) SetKey(network, accountID string, kp *KeyPair) error {
	if len(s.stores) == 0 {
		return xerrors.New(xerrors.CodeInitializationFailure, "merge key store has no backing store")
	}
	return s.stores[0].SetKey(network, accountID, kp)
}

// DefaultCredentialsDir returns ~/.near-credentials, or ./neardev when the
// home directory cannot be resolved.
func DefaultCredentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "neardev"
	}
	return filepath.Join(home, ".near-credentials")
}

// NewDefaultKeyStore looks in dir first and then in ./neardev, the folder
// dev deployments write their keys to.
func NewDefaultKeyStore(dir string) KeyStore {
	if dir == "" {
		dir = DefaultCredentialsDir()
	}
	if filepath.Clean(dir) == "neardev" {
		return NewFileSystemKeyStore(dir)
	}
	return NewMergeKeyStore(NewFileSystemKeyStore(dir), NewFileSystemKeyStore("neardev"))
}
