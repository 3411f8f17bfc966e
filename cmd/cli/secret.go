package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/emx-mail/mailwatch/pkgs/config"
)

const secretUsage = "usage: mailwatch secret set <key>"

// handleSecret runs "secret set <key>": the value is read from the first
// line of in and saved with store, for use as "keyring:<key>" in the config.
func handleSecret(args []string, in io.Reader, store func(key, value string) error) error {
	if len(args) != 2 || args[0] != "set" {
		return errors.New(secretUsage)
	}
	key := strings.TrimSpace(args[1])
	if key == "" {
		return errors.New(secretUsage)
	}

	fmt.Fprintf(os.Stderr, "Secret for %s: ", key)
	value, err := readSecret(in)
	if err != nil {
		return err
	}
	if err := store(key, value); err != nil {
		return err
	}
	fmt.Printf("Stored %s. Reference it as %q in the config file.\n", key, config.KeyringPrefix+key)
	return nil
}

// readSecret returns the first line of in without its line ending.
func readSecret(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty secret")
	}
	return line, nil
}
