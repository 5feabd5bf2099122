// Package extract reads the full metadata tree of a local image file.
package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/barasher/go-exiftool"
)

// ExifTool wraps one `exiftool -stay_open` process. The process starts on the
// first Read and is stopped by Shutdown; the next Read starts a fresh one.
// It is safe for concurrent use.
type ExifTool struct {
	mu     sync.Mutex
	et     *exiftool.Exiftool
	binary string
}

// NewExifTool returns an idle extractor. An empty binary uses exiftool from PATH.
func NewExifTool(binary string) *ExifTool {
	return &ExifTool{binary: binary}
}

func (e *ExifTool) start() error {
	opts := []func(*exiftool.Exiftool) error{exiftool.PrintGroupNames("0")}
	if e.binary != "" {
		opts = append(opts, exiftool.SetExiftoolBinaryPath(e.binary))
	}
	et, err := exiftool.NewExiftool(opts...)
	if err != nil {
		return fmt.Errorf("start exiftool: %w", err)
	}
	e.et = et
	return nil
}

func (e *ExifTool) Read(ctx context.Context, path string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.et == nil {
		if err := e.start(); err != nil {
			return nil, err
		}
	}

	results := e.et.ExtractMetadata(path)
	if len(results) != 1 {
		return nil, fmt.Errorf("exiftool returned %d results for %s", len(results), path)
	}
	if results[0].Err != nil {
		return nil, fmt.Errorf("exiftool %s: %w", path, results[0].Err)
	}
	return nestGroups(results[0].Fields), nil
}

// Shutdown stops the process if one is running.
func (e *ExifTool) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.et == nil {
		return nil
	}
	err := e.et.Close()
	e.et = nil
	if err != nil {
		return fmt.Errorf("stop exiftool: %w", err)
	}
	return nil
}

// nestGroups turns "Group:Tag" keys into {"Group": {"Tag": v}}. Keys without
// a group prefix stay at the top level unless a group of the same name
// exists, in which case they move to that group's "" entry.
func nestGroups(fields map[string]interface{}) map[string]any {
	out := make(map[string]any, len(fields))
	var plain []string
	for k, v := range fields {
		group, tag, ok := strings.Cut(k, ":")
		if !ok || group == "" || tag == "" {
			plain = append(plain, k)
			continue
		}
		sub, _ := out[group].(map[string]any)
		if sub == nil {
			sub = map[string]any{}
			out[group] = sub
		}
		sub[tag] = v
	}
	for _, k := range plain {
		if sub, ok := out[k].(map[string]any); ok {
			sub[""] = fields[k]
			continue
		}
		out[k] = fields[k]
	}
	return out
}
