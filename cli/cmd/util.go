package cmd

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ensureUnlocked unlocks the vault with the configured passphrase before
// commands that need key material.
func ensureUnlocked() error {
	if vault.IsUnlocked() {
		return nil
	}
	return vault.Unlock()
}

func generateSessionID() string {
	return uuid.New().String()
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

// confirm asks the user for a yes/no answer, defaulting to no.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// readBody reads an entry body from args or stdin.
func readBody(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read body from stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

const passphraseWordCount = 6

var passphraseWords = []string{
	"anchor", "basil", "cedar", "dune", "ember", "fjord", "glade", "harbor",
	"ivory", "juniper", "kestrel", "lagoon", "meadow", "nectar", "onyx",
	"prairie", "quartz", "ridge", "sable", "tundra", "umber", "violet",
	"willow", "xenon", "yonder", "zephyr", "aspen", "birch", "cobalt",
	"delta", "echo", "flint", "garnet", "heron", "indigo", "jasper",
}

// generatePassphrase builds a random word-based passphrase with a numeric
// suffix, strong enough to resist offline guessing yet typeable.
func generatePassphrase() (string, error) {
	words := make([]string, 0, passphraseWordCount+1)
	for i := 0; i < passphraseWordCount; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passphraseWords))))
		if err != nil {
			return "", fmt.Errorf("failed to generate passphrase: %w", err)
		}
		words = append(words, passphraseWords[n.Int64()])
	}
	n, err := rand.Int(rand.Reader, big.NewInt(100))
	if err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	words = append(words, fmt.Sprintf("%02d", n.Int64()))
	return strings.Join(words, "-"), nil
}
