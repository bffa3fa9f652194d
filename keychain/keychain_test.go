package keychain

import (
	"errors"
	"testing"

	"relay/logger"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedPrompter struct {
	secret   string
	save     bool
	asked    []string
	secretEr error
}

func (p *scriptedPrompter) Secret(msg string) (string, error) {
	p.asked = append(p.asked, msg)
	return p.secret, p.secretEr
}

func (p *scriptedPrompter) Confirm(msg string) (bool, error) {
	p.asked = append(p.asked, msg)
	return p.save, nil
}

type brokenRing struct {
	keyring.ArrayKeyring
}

func (brokenRing) Get(string) (keyring.Item, error) { return keyring.Item{}, errors.New("dbus down") }

func TestManagerRoundTrip(t *testing.T) {
	m := NewManager(keyring.NewArrayKeyring(nil))

	_, err := m.Get(KeyGoogleAPIKey)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(KeyGoogleAPIKey, "abc"))
	got, err := m.Get(KeyGoogleAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	require.NoError(t, m.Delete(KeyGoogleAPIKey))
	require.NoError(t, m.Delete(KeyGoogleAPIKey))
	_, err = m.Get(KeyGoogleAPIKey)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolvePrefersConfig(t *testing.T) {
	m := NewManager(keyring.NewArrayKeyring([]keyring.Item{{Key: KeyGoogleAPIKey, Data: []byte("stored")}}))
	p := &scriptedPrompter{}

	key, src, err := Resolve("  from-env ", m, p, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "from-env", key)
	assert.Equal(t, SourceConfig, src)
	assert.Empty(t, p.asked)
}

func TestResolveFromKeychain(t *testing.T) {
	m := NewManager(keyring.NewArrayKeyring([]keyring.Item{{Key: KeyGoogleAPIKey, Data: []byte("stored")}}))

	key, src, err := Resolve("", m, &scriptedPrompter{}, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "stored", key)
	assert.Equal(t, SourceKeychain, src)
}

func TestResolvePromptsAndSaves(t *testing.T) {
	m := NewManager(keyring.NewArrayKeyring(nil))
	p := &scriptedPrompter{secret: " typed ", save: true}

	key, src, err := Resolve("", m, p, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "typed", key)
	assert.Equal(t, SourcePrompt, src)
	assert.Len(t, p.asked, 2)

	stored, err := m.Get(KeyGoogleAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "typed", stored)
}

func TestResolvePromptWithoutSaving(t *testing.T) {
	m := NewManager(keyring.NewArrayKeyring(nil))

	key, _, err := Resolve("", m, &scriptedPrompter{secret: "typed", save: false}, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "typed", key)

	_, err = m.Get(KeyGoogleAPIKey)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveWithoutKeychain(t *testing.T) {
	p := &scriptedPrompter{secret: "typed"}
	key, src, err := Resolve("", nil, p, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "typed", key)
	assert.Equal(t, SourcePrompt, src)
	// キーチェーンがなければ保存の確認はしない
	assert.Len(t, p.asked, 1)
}

func TestResolveNoKey(t *testing.T) {
	_, _, err := Resolve("", nil, &scriptedPrompter{secret: "  "}, logger.Discard())
	assert.ErrorIs(t, err, ErrNoKey)

	_, _, err = Resolve("", nil, nil, logger.Discard())
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestResolveKeychainErrorFallsBackToPrompt(t *testing.T) {
	m := NewManager(&brokenRing{})
	p := &scriptedPrompter{secret: "typed", save: true}

	key, src, err := Resolve("", m, p, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "typed", key)
	assert.Equal(t, SourcePrompt, src)
	// 読めなかったキーチェーンへの保存は提案しない
	assert.Len(t, p.asked, 1)
}
