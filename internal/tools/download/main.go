// Command download fetches the interpreter module at build time:
//
//	go run ./internal/tools/download <url> <output> [sha256]
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/caffeineduck/pyhost/internal/fetch"
)

func main() {
	if len(os.Args) != 3 && len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, "usage: download <url> <output> [sha256]")
		os.Exit(1)
	}

	var sum string
	if len(os.Args) == 4 {
		sum = os.Args[3]
	}
	res, err := fetch.File(context.Background(), nil, os.Args[1], os.Args[2], sum, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(res)
}
