package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// promptSecret reads a line without echo. It fails when stdin is not a
// terminal.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, label)
	b, err := readPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// promptLine reads one visible line from stdin.
func promptLine(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassphrase returns DOCSYNC_PASSPHRASE or asks for the key passphrase.
func readPassphrase() (string, error) {
	if p := os.Getenv("DOCSYNC_PASSPHRASE"); p != "" {
		return p, nil
	}
	p, err := promptSecret("Key passphrase: ")
	if err != nil {
		return "", fmt.Errorf("set DOCSYNC_PASSPHRASE or run interactively: %w", err)
	}
	return p, nil
}

// readNewPassphrase asks twice for a new passphrase.
func readNewPassphrase() (string, error) {
	if p := os.Getenv("DOCSYNC_PASSPHRASE"); p != "" {
		return p, nil
	}
	p, err := promptSecret("New key passphrase: ")
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", errors.New("passphrase must not be empty")
	}
	again, err := promptSecret("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if p != again {
		return "", errors.New("passphrases do not match")
	}
	return p, nil
}
