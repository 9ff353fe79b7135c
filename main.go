package main

import (
	"fmt"
	"log"
	"os"
)

// Build details injected with -ldflags "-X main.GitCommit=...".
var (
	GitCommit string
	GitTag    string
	BuildTime string
)

// @title        Book Catalog API
// @version      1.0
// @description  Personal book catalog with search, genres and a placeholder import.
// @BasePath     /
func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("book-catalog tag=%s commit=%s built=%s\n", GitTag, GitCommit, BuildTime)
		return
	}

	app, err := NewApp()
	if err != nil {
		log.Fatal("application failed to initialized: ", err)
	}
	if err = app.Run(); err != nil {
		log.Fatal("application exited. check logs for more details. ", err)
	}
}
