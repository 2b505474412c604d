package cron

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/webos-run/webos/pkg/vfs"
)

// ErrorHandler receives a callback's error without taking down the
// scheduler.
type ErrorHandler func(name string, err error)

// JobCallback is invoked when a job's schedule matches the current tick.
type JobCallback func(ctx context.Context) error

type job struct {
	name         string
	schedule     *Schedule
	callback     JobCallback
	errorHandler ErrorHandler

	mu      sync.Mutex
	running bool
}

// Scheduler owns the registered cron jobs and the single timer that
// drives every tick.
type Scheduler struct {
	fs  *vfs.VFS
	log *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler bound to fs for crontab reloads.
func New(fs *vfs.VFS, log *slog.Logger) *Scheduler {
	return &Scheduler{fs: fs, log: log, jobs: map[string]*job{}}
}

// SetCron registers or replaces a job by name.
func (s *Scheduler) SetCron(name, expr string, cb JobCallback, errHandler ErrorHandler) error {
	sched, err := Parse(expr)
	if err != nil {
		return fmt.Errorf("cron: setCron %q: %w", name, err)
	}
	s.mu.Lock()
	s.jobs[name] = &job{name: name, schedule: sched, callback: cb, errorHandler: errHandler}
	s.mu.Unlock()
	return nil
}

// ClearCron removes a registered job.
func (s *Scheduler) ClearCron(name string) {
	s.mu.Lock()
	delete(s.jobs, name)
	s.mu.Unlock()
}

// ListCrons returns every registered job name.
func (s *Scheduler) ListCrons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	return names
}

// GetCron returns a job's schedule by name.
func (s *Scheduler) GetCron(name string) (*Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return nil, false
	}
	return j.schedule, true
}

// Start runs the scheduler's single tick loop until ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.tick(ctx, now)
			}
		}
	}()
}

// Stop halts the tick loop and waits for in-flight work to notice.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// tick checks every registered job's MatchDate against now, invoking
// matching jobs concurrently. A job still running from a previous tick
// is skipped, so overlapping executions of the same job never pile up.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.schedule.MatchDate(now) {
			jobs = append(jobs, j)
		}
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, j := range jobs {
		j := j
		j.mu.Lock()
		if j.running {
			j.mu.Unlock()
			continue
		}
		j.running = true
		j.mu.Unlock()

		g.Go(func() error {
			defer func() {
				j.mu.Lock()
				j.running = false
				j.mu.Unlock()
			}()
			err := j.callback(ctx)
			if err != nil {
				if j.errorHandler != nil {
					j.errorHandler(j.name, err)
				} else if s.log != nil {
					s.log.Error("cron job failed", "job", j.name, "error", err)
				}
			}
			return nil
		})
	}
	g.Wait()
}

// Reload clears all registered jobs and re-reads /etc/crontab and
// $HOME/.config/crontab. Job names are canonical:
// cron:system:<line> for /etc/crontab, cron:user:<line> for the user's
// own crontab. dispatch is invoked with the command text for each
// matching tick.
func (s *Scheduler) Reload(home string, creds vfs.Credentials, dispatch func(command string) error, errHandler ErrorHandler) error {
	s.mu.Lock()
	s.jobs = map[string]*job{}
	s.mu.Unlock()

	if err := s.loadCrontab("/etc/crontab", "cron:system", creds, dispatch, errHandler); err != nil {
		return err
	}
	return s.loadCrontab(home+"/.config/crontab", "cron:user", creds, dispatch, errHandler)
}

func (s *Scheduler) loadCrontab(path, prefix string, creds vfs.Credentials, dispatch func(string) error, errHandler ErrorHandler) error {
	data, err := s.fs.ReadFile(path, creds)
	if err != nil {
		if err == vfs.ErrNotExist {
			return nil
		}
		return fmt.Errorf("cron: read %s: %w", path, err)
	}
	for _, line := range vfs.ParseCrontabFile(string(data)) {
		expr, command, err := splitExprAndCommand(line.Text)
		if err != nil {
			if s.log != nil {
				s.log.Warn("cron: skipping malformed line", "path", path, "line", line.LineNumber, "error", err)
			}
			continue
		}
		name := fmt.Sprintf("%s:%d", prefix, line.LineNumber)
		cmd := command
		if err := s.SetCron(name, expr, func(ctx context.Context) error {
			return dispatch(cmd)
		}, errHandler); err != nil {
			if s.log != nil {
				s.log.Warn("cron: skipping invalid schedule", "path", path, "line", line.LineNumber, "error", err)
			}
		}
	}
	return nil
}

// splitExprAndCommand separates the leading 5-or-6 cron fields from the
// remainder of the line, preferring the 6-field interpretation when
// more than 5 fields are present and it parses successfully.
func splitExprAndCommand(line string) (expr, command string, err error) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return "", "", fmt.Errorf("cron: line has too few fields: %q", line)
	}
	if len(fields) >= 7 {
		if _, perr := parse6(fields[:6]); perr == nil {
			return strings.Join(fields[:6], " "), strings.Join(fields[6:], " "), nil
		}
	}
	return strings.Join(fields[:5], " "), strings.Join(fields[5:], " "), nil
}

// Watch installs an fsnotify watch on /etc/crontab and
// $HOME/.config/crontab's host-backing paths, calling onChange whenever
// either changes. hostPaths maps the two VFS paths to their real
// on-disk locations (only meaningful for VFS drivers backed by the real
// filesystem; in-memory-only mounts have nothing to watch).
func (s *Scheduler) Watch(ctx context.Context, hostPaths []string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cron: create watcher: %w", err)
	}
	for _, p := range hostPaths {
		if err := watcher.Add(p); err != nil && s.log != nil {
			s.log.Warn("cron: cannot watch crontab path", "path", p, "error", err)
		}
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if s.log != nil {
					s.log.Warn("cron: watcher error", "error", err)
				}
			}
		}
	}()
	return nil
}
