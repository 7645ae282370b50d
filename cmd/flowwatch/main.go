package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/flowwatch/flowwatch/pkg/config"
	"github.com/flowwatch/flowwatch/pkg/vault"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "encrypt":
		err = commandEncrypt(args)
	case "decrypt":
		err = commandDecrypt(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandEncrypt(args []string) error {
	fs := flag.NewFlagSet("encrypt", flag.ExitOnError)
	value := fs.String("value", "", "Plaintext value (omit to read from stdin)")
	fs.Parse(args)

	secret, err := resolveSecret()
	if err != nil {
		return err
	}
	plain := *value
	if plain == "" {
		plain, err = readLine("Value: ")
		if err != nil {
			return err
		}
	}
	if plain == "" {
		return errors.New("nothing to encrypt")
	}
	sealed, err := vault.Encrypt(plain, secret)
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}

func commandDecrypt(args []string) error {
	fs := flag.NewFlagSet("decrypt", flag.ExitOnError)
	value := fs.String("value", "", "Encrypted value (omit to read from stdin)")
	fs.Parse(args)

	secret, err := resolveSecret()
	if err != nil {
		return err
	}
	sealed := strings.TrimSpace(*value)
	if sealed == "" {
		sealed, err = readLine("Encrypted value: ")
		if err != nil {
			return err
		}
		sealed = strings.TrimSpace(sealed)
	}
	if sealed == "" {
		return errors.New("nothing to decrypt")
	}
	plain, err := vault.Decrypt(sealed, secret)
	if err != nil {
		return err
	}
	fmt.Println(plain)
	return nil
}

// resolveSecret takes the encryption secret from the environment or prompts
// for it without echo.
func resolveSecret() (string, error) {
	if secret := strings.TrimSpace(config.GetString("CREDENTIAL_SECRET", "")); secret != "" {
		return secret, nil
	}
	fmt.Print("Encryption secret: ")
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimSpace(string(bytes))
	if secret == "" {
		return "", errors.New("encryption secret required")
	}
	return secret, nil
}

func readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printVersion() {
	fmt.Printf("flowwatch %s\n", buildVersion)
}

func printUsage() {
	fmt.Println(`flowwatch - deployment health monitoring toolbox

Usage:
  flowwatch encrypt [-value <plaintext>]   Encrypt a credential value
  flowwatch decrypt [-value <ciphertext>]  Decrypt a credential value
  flowwatch version                        Print version
  flowwatch help                           Show this help

The encryption secret is taken from CREDENTIAL_SECRET or prompted for.`)
}
