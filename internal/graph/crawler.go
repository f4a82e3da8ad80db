package graph

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
)

// defaultExtensions mirrors the formats the extractor pipeline understands.
var defaultExtensions = map[string]bool{
	".pdf": true, ".docx": true, ".doc": true, ".xlsx": true, ".xls": true,
	".pptx": true, ".ppt": true, ".txt": true, ".csv": true, ".md": true,
	".html": true, ".htm": true, ".json": true, ".xml": true,
}

// SupportedFile reports whether a file name passes the default extension
// allow-list.
func SupportedFile(name string) bool {
	return defaultExtensions[strings.ToLower(filepath.Ext(name))]
}

// CrawlOptions control a folder walk. Extensions is the file-type allow-list
// (dotted, lowercase); nil means the default supported set, an empty non-nil
// slice means no filter.
type CrawlOptions struct {
	Recursive  bool
	Extensions []string
}

// CrawlEvent is one item from a crawl: a discovered file, or a fatal
// enumeration error. After an error event the channel is closed; files
// already emitted remain valid (the consumer decides whether partial results
// fail the whole job).
type CrawlEvent struct {
	File *File
	Err  error
}

// Crawl walks a folder tree breadth-first and streams matching files on the
// returned channel. The walk is lazy: consumers start receiving files before
// enumeration finishes, and cancelling ctx stops the walk. Restarting the
// crawl re-enumerates from the start.
func (c *Client) Crawl(ctx context.Context, driveID, folderID string, opts CrawlOptions) <-chan CrawlEvent {
	out := make(chan CrawlEvent)

	allow := buildFilter(opts.Extensions)

	go func() {
		defer close(out)

		queue := []string{folderID}
		filesFound := 0

		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]

			pageURL := ""
			for {
				files, folders, next, err := c.ListChildrenPage(ctx, driveID, current, pageURL)
				if err != nil {
					select {
					case out <- CrawlEvent{Err: err}:
					case <-ctx.Done():
					}
					return
				}

				for i := range files {
					f := files[i]
					if !allow(f.Name) {
						continue
					}
					filesFound++
					select {
					case out <- CrawlEvent{File: &f}:
					case <-ctx.Done():
						return
					}
				}

				if opts.Recursive {
					for _, sub := range folders {
						queue = append(queue, sub.ID)
					}
				}

				if next == "" {
					break
				}
				pageURL = next
			}
		}

		slog.InfoContext(ctx, "crawl complete", "drive_id", driveID, "folder_id", folderID, "files", filesFound)
	}()

	return out
}

func buildFilter(extensions []string) func(name string) bool {
	if extensions == nil {
		return func(name string) bool {
			return defaultExtensions[strings.ToLower(filepath.Ext(name))]
		}
	}
	if len(extensions) == 0 {
		return func(string) bool { return true }
	}
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[strings.ToLower(ext)] = true
	}
	return func(name string) bool {
		return allowed[strings.ToLower(filepath.Ext(name))]
	}
}
