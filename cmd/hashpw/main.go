package main

import (
	"fmt"
	"log"
	"os"

	"github.com/example/tulsi/internal/utils"
)

// hashpw generates the bcrypt hash for the ADMIN_PASSWORD_HASH setting.
func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <password>\n", os.Args[0])
		os.Exit(2)
	}

	hash, err := utils.HashPassword(os.Args[1])
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	fmt.Println(hash)
}
