// Command gendocs writes the meshchat man pages and markdown reference.
//
// Set SOURCE_DATE_EPOCH to pin the man page date for reproducible output.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra/doc"
	"github.com/spf13/pflag"

	"meshchat.dev/go/meshchat/internal/cli"
)

func main() {
	manDir := pflag.String("man", "man", "man page output directory")
	mdDir := pflag.String("markdown", "docs/cli", "markdown output directory")
	pflag.Parse()

	date, err := sourceDate()
	if err != nil {
		log.Fatalf("SOURCE_DATE_EPOCH: %v", err)
	}

	root := cli.RootCmd
	root.DisableAutoGenTag = true

	header := &doc.GenManHeader{
		Title:   "MESHCHAT",
		Section: "1",
		Date:    &date,
		Source:  "meshchat",
		Manual:  "meshchat manual",
	}

	for _, dir := range []string{*manDir, *mdDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("create %s: %v", dir, err)
		}
	}

	if err := doc.GenManTree(root, header, *manDir); err != nil {
		log.Fatalf("man pages: %v", err)
	}
	if err := doc.GenMarkdownTree(root, *mdDir); err != nil {
		log.Fatalf("markdown: %v", err)
	}
	log.Printf("wrote man pages to %s and markdown to %s", *manDir, *mdDir)
}

func sourceDate() (time.Time, error) {
	epoch := os.Getenv("SOURCE_DATE_EPOCH")
	if epoch == "" {
		return time.Now().UTC(), nil
	}
	secs, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a unix time: %q", epoch)
	}
	return time.Unix(secs, 0).UTC(), nil
}
