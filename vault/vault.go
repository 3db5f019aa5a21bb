// Package vault implements the encrypted at-rest secret store.
//
// Secrets live in a single JSON file encrypted with AES-256-GCM under a
// key derived from the operator's master password via scrypt. A small
// encrypted check value lets Open reject a wrong password before any real
// secret is decrypted.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/crypto/scrypt"
)

// ErrInvalidPassword is returned when the supplied master password cannot
// decrypt the vault's check value.
var ErrInvalidPassword = errors.New("invalid vault password")

// checkPlaintext is the constant encrypted at vault creation and verified
// on every subsequent open.
const checkPlaintext = "armada-vault-check-v1"

// scrypt parameters: interactive-login cost, deliberately slow to resist
// offline brute force.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// Entry is one stored secret. An empty AgentID means the entry is global.
type Entry struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	AgentID string `json:"agent_id,omitempty"`
}

// KeyInfo is what List exposes: never the value.
type KeyInfo struct {
	Key     string `json:"key"`
	AgentID string `json:"agent_id,omitempty"`
}

// blob is an encrypted value: base64 nonce plus base64 ciphertext with the
// GCM tag appended.
type blob struct {
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

// fileFormat is the on-disk vault layout.
type fileFormat struct {
	Salt    string `json:"salt"`
	Check   blob   `json:"check"`
	Payload blob   `json:"payload"`
}

// Vault is an opened secret store. The derived key is held only in memory;
// the file never contains the password or the key.
type Vault struct {
	path string
	key  []byte
	salt []byte
}

// Open opens the vault at path with the given master password. A missing
// file creates a fresh empty vault. An existing file is verified against
// its check value first; a wrong password returns ErrInvalidPassword
// before any secret is exposed.
func Open(path, password string) (*Vault, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return create(path, password)
		}
		return nil, fmt.Errorf("read vault %s: %w", path, err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse vault %s: %w", path, err)
	}
	salt, err := base64.StdEncoding.DecodeString(f.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode vault salt: %w", err)
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}

	check, err := decrypt(key, f.Check)
	if err != nil || string(check) != checkPlaintext {
		return nil, ErrInvalidPassword
	}

	return &Vault{path: path, key: key, salt: salt}, nil
}

// create initializes a new vault file with a fresh salt and an empty
// secret map.
func create(path, password string) (*Vault, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate vault salt: %w", err)
	}
	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	v := &Vault{path: path, key: key, salt: salt}
	if err := v.save(map[string]Entry{}); err != nil {
		return nil, err
	}
	return v, nil
}

// Set stores or overwrites a secret. The key is the sole identity: a
// scoped write replaces any existing entry under the same key regardless
// of that entry's previous scope.
func (v *Vault) Set(key, value, agentID string) error {
	if key == "" {
		return fmt.Errorf("secret key is required")
	}
	m, err := v.load()
	if err != nil {
		return err
	}
	m[key] = Entry{Key: key, Value: value, AgentID: agentID}
	return v.save(m)
}

// Get retrieves a secret. A non-empty scope filter hides entries scoped to
// a different agent; global entries always match. An empty filter is the
// operator view and sees everything, scoped entries included.
func (v *Vault) Get(key, scope string) (*Entry, bool, error) {
	m, err := v.load()
	if err != nil {
		return nil, false, err
	}
	e, ok := m[key]
	if !ok {
		return nil, false, nil
	}
	if scope != "" && e.AgentID != "" && e.AgentID != scope {
		return nil, false, nil
	}
	return &e, true, nil
}

// List enumerates stored keys and scopes, sorted by key. Values are never
// returned. The scope filter behaves as in Get.
func (v *Vault) List(scope string) ([]KeyInfo, error) {
	m, err := v.load()
	if err != nil {
		return nil, err
	}
	var infos []KeyInfo
	for _, e := range m {
		if scope != "" && e.AgentID != "" && e.AgentID != scope {
			continue
		}
		infos = append(infos, KeyInfo{Key: e.Key, AgentID: e.AgentID})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Delete removes a secret, reporting whether anything was removed.
func (v *Vault) Delete(key string) (bool, error) {
	m, err := v.load()
	if err != nil {
		return false, err
	}
	if _, ok := m[key]; !ok {
		return false, nil
	}
	delete(m, key)
	if err := v.save(m); err != nil {
		return false, err
	}
	return true, nil
}

// OwnerEnv flattens every entry that is global or scoped to agentID into a
// key/value map, for pushing into an agent's environment.
func (v *Vault) OwnerEnv(agentID string) (map[string]string, error) {
	m, err := v.load()
	if err != nil {
		return nil, err
	}
	env := make(map[string]string)
	for _, e := range m {
		if e.AgentID == "" || e.AgentID == agentID {
			env[e.Key] = e.Value
		}
	}
	return env, nil
}

// load decrypts the full secret map from disk.
func (v *Vault) load() (map[string]Entry, error) {
	data, err := os.ReadFile(v.path)
	if err != nil {
		return nil, fmt.Errorf("read vault %s: %w", v.path, err)
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse vault %s: %w", v.path, err)
	}
	plain, err := decrypt(v.key, f.Payload)
	if err != nil {
		return nil, fmt.Errorf("decrypt vault payload: %w", err)
	}
	var m map[string]Entry
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("parse vault payload: %w", err)
	}
	if m == nil {
		m = map[string]Entry{}
	}
	return m, nil
}

// save re-encrypts and rewrites the entire vault file. Each save uses
// fresh nonces for both the payload and the check value.
func (v *Vault) save(m map[string]Entry) error {
	plain, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal vault payload: %w", err)
	}
	payload, err := encrypt(v.key, plain)
	if err != nil {
		return err
	}
	check, err := encrypt(v.key, []byte(checkPlaintext))
	if err != nil {
		return err
	}

	f := fileFormat{
		Salt:    base64.StdEncoding.EncodeToString(v.salt),
		Check:   check,
		Payload: payload,
	}
	data, err := json.MarshalIndent(&f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(v.path, data, 0o600)
}

// deriveKey runs scrypt over the password with the vault's salt.
func deriveKey(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	return key, nil
}

func encrypt(key, plaintext []byte) (blob, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return blob{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return blob{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return blob{}, err
	}
	ct := gcm.Seal(nil, nonce, plaintext, nil)
	return blob{
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		Data:  base64.StdEncoding.EncodeToString(ct),
	}, nil
}

func decrypt(key []byte, b blob) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(b.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("bad nonce length %d", len(nonce))
	}
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plain, nil
}
