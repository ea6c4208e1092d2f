package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/db"
)

// ErrDaemonRunning is returned when another daemon holds the lock for a store.
var ErrDaemonRunning = errors.New("daemon already running")

// Handler runs a sync cycle for a fired trigger.
type Handler interface {
	OnTrigger(ctx context.Context, tag string, lastChance bool) error
}

// Prober reports whether the review service is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// Daemon fires registered background-sync triggers when the service is
// reachable, retrying on an interval until a trigger succeeds or runs out of
// attempts.
type Daemon struct {
	store   *db.Store
	handler Handler
	prober  Prober

	watcher  *fsnotify.Watcher
	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	runMu    sync.Mutex

	debounceMu sync.Mutex
	debounce   *time.Timer
	lastSeen   string

	lockPath      string
	lockFile      *os.File
	retryInterval time.Duration
	debounceDelay time.Duration
	maxAttempts   int
	debug         bool
	now           func() time.Time
}

// LockInfo represents the daemon lock file contents.
type LockInfo struct {
	PID       int   `json:"pid"`
	StartedAt int64 `json:"started_at"`
}

// Config holds daemon configuration options.
type Config struct {
	RetryInterval time.Duration
	MaxAttempts   int
	Debounce      time.Duration
	Debug         bool
}

// DefaultConfig returns default daemon configuration.
func DefaultConfig() Config {
	return Config{
		RetryInterval: 30 * time.Second,
		MaxAttempts:   3,
		Debounce:      500 * time.Millisecond,
	}
}

// Fired records one trigger run.
type Fired struct {
	Tag        string `json:"tag"`
	Attempt    int    `json:"attempt"`
	LastChance bool   `json:"last_chance"`
	Completed  bool   `json:"completed"`
	Err        error  `json:"-"`
}

// Report summarizes one pass over the registered triggers.
type Report struct {
	Offline bool    `json:"offline"`
	Fired   []Fired `json:"fired,omitempty"`
	// DeferredTo is the pid of a running daemon that owns the triggers. Nothing
	// was fired when it is set.
	DeferredTo int `json:"deferred_to,omitempty"`
}

// New creates a daemon over store. prober may be nil to skip the reachability check.
func New(store *db.Store, handler Handler, prober Prober, cfg Config) *Daemon {
	defaults := DefaultConfig()
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaults.Debounce
	}
	return &Daemon{
		store:         store,
		handler:       handler,
		prober:        prober,
		wakeCh:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		lockPath:      LockPath(store.Path()),
		retryInterval: cfg.RetryInterval,
		debounceDelay: cfg.Debounce,
		maxAttempts:   cfg.MaxAttempts,
		debug:         cfg.Debug,
		now:           time.Now,
	}
}

// Start acquires the lock and begins watching for triggers.
func (d *Daemon) Start(ctx context.Context) error {
	if d.store == nil {
		return db.ErrStorageUnavailable
	}
	if err := d.acquireLock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if err := d.startWatcher(ctx); err != nil {
		d.debugf("store watcher unavailable, relying on retry interval: %v", err)
	}

	d.wg.Add(1)
	go d.loop(ctx)
	d.Wake()
	return nil
}

// Stop shuts the daemon down and releases its lock.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	d.stopDebounce()
	if d.watcher != nil {
		_ = d.watcher.Close()
	}
	d.wg.Wait()
	return d.releaseLock()
}

// Wake asks the loop to run a pass as soon as possible.
func (d *Daemon) Wake() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

// RunOnce fires every registered trigger once. While the service is
// unreachable nothing is fired and no attempt is consumed.
func (d *Daemon) RunOnce(ctx context.Context) (Report, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	report := Report{}
	triggers, err := d.store.ListTriggers(ctx)
	if err != nil {
		return report, err
	}
	if len(triggers) == 0 {
		d.remember(triggers)
		return report, nil
	}
	if d.prober != nil {
		if err := d.prober.Ping(ctx); err != nil {
			d.debugf("offline, %d triggers waiting: %v", len(triggers), err)
			report.Offline = true
			d.remember(triggers)
			return report, nil
		}
	}

	for _, trigger := range triggers {
		fired, err := d.fire(ctx, trigger)
		if err != nil {
			return report, err
		}
		report.Fired = append(report.Fired, fired)
	}

	after, err := d.store.ListTriggers(ctx)
	if err != nil {
		return report, err
	}
	d.remember(after)
	return report, nil
}

func (d *Daemon) fire(ctx context.Context, trigger db.Trigger) (Fired, error) {
	attempt, err := d.store.RecordTriggerAttempt(ctx, trigger.Tag)
	if err != nil {
		return Fired{}, fmt.Errorf("record attempt %s: %w", trigger.Tag, err)
	}
	fired := Fired{
		Tag:        trigger.Tag,
		Attempt:    attempt,
		LastChance: attempt >= d.maxAttempts,
	}
	d.debugf("firing %s (attempt %d/%d)", trigger.Tag, attempt, d.maxAttempts)

	fired.Err = d.handler.OnTrigger(ctx, trigger.Tag, fired.LastChance)
	if fired.Err != nil {
		d.debugf("%s failed: %v", trigger.Tag, fired.Err)
		if !fired.LastChance {
			return fired, nil
		}
	}
	completed, err := d.store.CompleteTrigger(ctx, trigger.Tag, trigger.Generation)
	if err != nil {
		return fired, fmt.Errorf("complete %s: %w", trigger.Tag, err)
	}
	fired.Completed = completed
	if !completed {
		d.debugf("%s registered again during run; keeping it", trigger.Tag)
	}
	return fired, nil
}

func (d *Daemon) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
		case <-d.wakeCh:
		}
		if _, err := d.RunOnce(ctx); err != nil {
			d.debugf("run: %v", err)
		}
	}
}

// remember stores which registrations the daemon has already seen so store
// writes that do not add or re-register a trigger do not wake it.
func (d *Daemon) remember(triggers []db.Trigger) {
	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()
	d.lastSeen = signature(triggers)
}

func signature(triggers []db.Trigger) string {
	sig := ""
	for _, t := range triggers {
		sig += fmt.Sprintf("%s@%d;", t.Tag, t.Generation)
	}
	return sig
}

// LockPath returns the lock file of a daemon serving the store at storePath.
func LockPath(storePath string) string {
	return filepath.Join(filepath.Dir(storePath), "daemon.lock")
}

// ReadLock returns the lock of a live daemon for storePath, or nil when no
// daemon is running. Stale locks left by dead processes are ignored.
func ReadLock(storePath string) (*LockInfo, error) {
	data, err := os.ReadFile(LockPath(storePath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, nil
	}
	if syscall.Kill(info.PID, 0) != nil {
		return nil, nil
	}
	return &info, nil
}

// acquireLock takes an exclusive flock on the lock file and records our pid
// in it. The flock is held until Stop, so a crashed daemon never leaves a
// lock that blocks the next one.
func (d *Daemon) acquireLock() error {
	info := LockInfo{
		PID:       os.Getpid(),
		StartedAt: d.now().Unix(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	for range 3 {
		f, err := os.OpenFile(d.lockPath, os.O_RDWR|os.O_CREATE, 0o600)
		if err != nil {
			return err
		}
		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
			_ = f.Close()
			if errors.Is(err, syscall.EWOULDBLOCK) {
				if holder, _ := ReadLock(d.store.Path()); holder != nil {
					return fmt.Errorf("%w (pid %d)", ErrDaemonRunning, holder.PID)
				}
				return ErrDaemonRunning
			}
			return err
		}

		// A previous holder may have removed the file between our open and flock.
		if !sameFile(f, d.lockPath) {
			_ = f.Close()
			continue
		}
		if err := f.Truncate(0); err != nil {
			_ = f.Close()
			return err
		}
		if _, err := f.WriteAt(data, 0); err != nil {
			_ = f.Close()
			return err
		}
		d.lockFile = f
		return nil
	}
	return fmt.Errorf("%w: lock file keeps changing", ErrDaemonRunning)
}

func (d *Daemon) releaseLock() error {
	if d.lockFile == nil {
		return nil
	}
	err := os.Remove(d.lockPath)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	_ = d.lockFile.Close()
	d.lockFile = nil
	return err
}

func sameFile(f *os.File, path string) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, current)
}

// debugf logs a debug message if debug mode is enabled.
func (d *Daemon) debugf(format string, args ...any) {
	if d.debug {
		fmt.Fprintf(os.Stderr, "[daemon] "+format+"\n", args...)
	}
}
