// Package keychain はAPIキーをOSのキーチェーンに保存し、設定・キーチェーン・対話入力の順で解決します。
package keychain

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"relay/interfaces"

	"github.com/99designs/keyring"
)

// ServiceName はキーチェーン上の名前空間です。
const ServiceName = "relay"

// KeyGoogleAPIKey はGoogle AIのAPIキーを保存するキーです。
const KeyGoogleAPIKey = "google_api_key"

var (
	// ErrNotFound はキーチェーンに値がないことを示します。
	ErrNotFound = errors.New("secret not found in keychain")
	// ErrUnavailable はこの環境で使えるキーチェーンがないことを示します。
	ErrUnavailable = errors.New("no OS keychain backend is available")
	// ErrNoKey はどこからもキーが得られなかったことを示します。
	ErrNoKey = errors.New("no API key provided")
)

// Manager はOSのキーチェーンへの読み書きを排他的に行います。
type Manager struct {
	mu   sync.RWMutex
	ring keyring.Keyring
}

// Open はOSネイティブのバックエンドでキーチェーンを開きます。ファイルへのフォールバックはしません。
func Open() (*Manager, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.WinCredBackend,
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
		WinCredPrefix:            ServiceName,
		PassPrefix:               ServiceName,
		LibSecretCollectionName:  "login",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Manager{ring: ring}, nil
}

// NewManager は任意の keyring.Keyring を使う Manager を作成します。
func NewManager(ring keyring.Keyring) *Manager {
	return &Manager{ring: ring}
}

func (m *Manager) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, err := m.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if len(item.Data) == 0 {
		return "", ErrNotFound
	}
	return string(item.Data), nil
}

func (m *Manager) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(value),
		Label:       ServiceName + " " + key,
		Description: "relay credential",
	})
}

func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Prompter は対話的にキーを尋ねます。
type Prompter interface {
	Secret(message string) (string, error)
	Confirm(message string) (bool, error)
}

// Source はキーの取得元です。
type Source string

const (
	SourceConfig   Source = "config"
	SourceKeychain Source = "keychain"
	SourcePrompt   Source = "prompt"
)

// Resolve は configured、キーチェーン、プロンプトの順でキーを探します。
// m が nil の場合はキーチェーンを使いません。プロンプトで得たキーは確認のうえ保存します。
// キーチェーンが読めない場合は警告を出してプロンプトに進みます。
func Resolve(configured string, m *Manager, ask Prompter, log interfaces.Logger) (string, Source, error) {
	if key := strings.TrimSpace(configured); key != "" {
		return key, SourceConfig, nil
	}

	if m != nil {
		key, err := m.Get(KeyGoogleAPIKey)
		if err == nil {
			return key, SourceKeychain, nil
		}
		if !errors.Is(err, ErrNotFound) {
			log.Warn("Failed to read keychain, asking for the key instead", "error", err)
			// 読めないキーチェーンには保存もしない
			m = nil
		}
	}

	if ask == nil {
		return "", "", ErrNoKey
	}
	key, err := ask.Secret("Google API key (Enter to skip)")
	if err != nil {
		return "", "", err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", ErrNoKey
	}

	if m != nil {
		save, err := ask.Confirm("Save the key to the OS keychain?")
		if err == nil && save {
			if err := m.Set(KeyGoogleAPIKey, key); err != nil {
				return key, SourcePrompt, fmt.Errorf("key accepted but could not be saved: %w", err)
			}
		}
	}
	return key, SourcePrompt, nil
}
