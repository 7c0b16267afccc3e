// Package main prints a bcrypt hash for ADMIN_PASSWORD_HASH or GATEWAY_KEY_HASH.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/Slothbar/slothvote/pkg/utils"
)

func main() {
	secret := ""
	if len(os.Args) > 1 {
		secret = os.Args[1]
	} else {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		secret = strings.TrimRight(line, "\r\n")
	}
	hash, err := utils.HashPassword(secret)
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage: hashsecret <secret>  (or pipe it on stdin):", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
