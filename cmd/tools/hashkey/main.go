package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/ozerpan/ercom-sync/internal/auth"
)

// hashkey prints the argon2id hash to put in API_KEY_HASH. The key is read
// from the first argument or, when absent, from stdin.
// Exit code 0 = ok, 1 = empty key, 2 = other error.
func main() {
	key, err := readKey(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashkey error: %v\n", err)
		os.Exit(2)
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "usage: hashkey <api-key>  (or pipe the key on stdin)")
		os.Exit(1)
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashkey error: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(hash)
}

func readKey(args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(args[0]), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", nil
	}
	return strings.TrimSpace(line), nil
}
