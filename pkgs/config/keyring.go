package config

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "mailwatch"

// keyringGet and keyringSet are replaced in tests.
var (
	keyringGet = getSecret
	keyringSet = setSecret
)

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailwatch/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailwatch-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

func getSecret(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// StoreSecret saves value in the system keyring under key, for use as
// "keyring:<key>" in the config file.
func StoreSecret(key, value string) error {
	if key == "" {
		return errors.New("empty keyring key")
	}
	return keyringSet(key, value)
}

func setSecret(key, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "mailwatch " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}
