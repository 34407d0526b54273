package brokerlog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Follower tails the Mosquitto log file and feeds every complete line to a
// Monitor. It watches the log's parent directory so rotation and late
// creation of the file are picked up.
type Follower struct {
	path    string
	monitor *Monitor
	log     *slog.Logger

	offset  int64
	partial []byte
}

// NewFollower creates a follower for the log file at path.
func NewFollower(path string, monitor *Monitor, log *slog.Logger) *Follower {
	return &Follower{path: path, monitor: monitor, log: log}
}

// Run tails the log until ctx is cancelled. Existing content is consumed
// first so connected-client state reflects sessions opened before startup.
// A missing file is not an error; the follower waits for it to appear.
func (f *Follower) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("brokerlog: create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("brokerlog: watch %s: %w", dir, err)
	}

	if err := f.consume(); err != nil {
		f.log.Warn("read broker log", "path", f.path, "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != f.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				f.offset = 0
				f.partial = nil
			}
			if err := f.consume(); err != nil {
				f.log.Warn("read broker log", "path", f.path, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.log.Warn("broker log watcher", "error", err)
		}
	}
}

// consume reads everything past the current offset and processes complete
// lines. A shorter file than the stored offset means truncation; reading
// restarts from the top.
func (f *Follower) consume() error {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < f.offset {
		f.offset = 0
		f.partial = nil
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(file)
	for {
		chunk, err := reader.ReadBytes('\n')
		f.offset += int64(len(chunk))
		if err != nil {
			// Hold the incomplete tail until the rest of the line arrives.
			f.partial = append(f.partial, chunk...)
			if err == io.EOF {
				return nil
			}
			return err
		}
		line := string(append(f.partial, chunk[:len(chunk)-1]...))
		f.partial = nil
		f.monitor.ProcessLine(line)
	}
}
