// Package app wires the sync core together and exposes the mutation API
// used by the command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/cache"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/core"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/daemon"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/db"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/host"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/queue"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/remote"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/syncer"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/types"
)

// Options overrides the host capabilities and transport.
type Options struct {
	Logger *log.Logger
	// Scheduler defaults to the store-backed trigger registry.
	Scheduler host.Scheduler
	// Notifier defaults to desktop notifications with the permission kept in ConfigPath.
	Notifier   host.Notifier
	ConfigPath string
	HTTPClient *http.Client
	// DisableBackgroundSync sends every write directly.
	DisableBackgroundSync bool
	Debug                 bool
}

// App owns the long-lived store handle and the components built on it.
type App struct {
	Config   core.Config
	Store    *db.Store
	Client   *remote.Client
	Cache    *cache.Coordinator
	Queue    *queue.Queue
	Engine   *syncer.Engine
	Notifier host.Notifier

	logger *log.Logger
	debug  bool

	backgroundMu sync.Mutex
	background   *daemon.Daemon
}

// Submission is the outcome of a write: queued for background sync, or
// confirmed directly by the service.
type Submission struct {
	Queued     bool              `json:"queued"`
	LocalID    string            `json:"local_id,omitempty"`
	Review     *types.Review     `json:"review,omitempty"`
	Restaurant *types.Restaurant `json:"restaurant,omitempty"`
}

// Open builds the application. A store that cannot be opened leaves the app
// in network-only mode.
func Open(ctx context.Context, cfg core.Config, opts Options) (*App, error) {
	clientOpts := []remote.Option{}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, remote.WithHTTPClient(opts.HTTPClient))
	}
	client, err := remote.NewClient(cfg.ServerURL, clientOpts...)
	if err != nil {
		return nil, err
	}

	store, err := db.Open(ctx, cfg.StorePath(), db.DefaultSchema())
	if err != nil {
		if !errors.Is(err, db.ErrStorageUnavailable) {
			return nil, err
		}
		if opts.Logger != nil {
			opts.Logger.Printf("local cache disabled: %v", err)
		}
		store = nil
	}

	var scheduler host.Scheduler
	switch {
	case opts.DisableBackgroundSync || store == nil:
	case opts.Scheduler != nil:
		scheduler = opts.Scheduler
	default:
		scheduler = host.StoreScheduler{Store: store}
	}

	notifier := opts.Notifier
	if notifier == nil {
		path := opts.ConfigPath
		if path == "" {
			path = core.ConfigPath()
		}
		desktop, err := host.NewDesktopNotifier(core.FilePermissions{Path: path})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		notifier = desktop
	}

	q := queue.New(store, scheduler)
	coordinator := cache.NewCoordinator(store, client, cache.Options{
		CacheSize: cfg.CacheSize,
		Overlay:   q,
		Logger:    opts.Logger,
	})

	return &App{
		Config:   cfg,
		Store:    store,
		Client:   client,
		Cache:    coordinator,
		Queue:    q,
		Notifier: notifier,
		Engine: &syncer.Engine{
			Queue:       q,
			Remote:      client,
			Cache:       coordinator,
			Notifier:    notifier,
			Logger:      opts.Logger,
			Concurrency: cfg.ReplayConcurrency,
		},
		logger: opts.Logger,
		debug:  opts.Debug,
	}, nil
}

// Close waits for background refreshes and releases the store.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	a.Cache.Close()
	return a.Store.Close()
}

// BackgroundSync reports whether writes are queued for background sync.
func (a *App) BackgroundSync() bool {
	return a.Queue.Available()
}

// SubmitReview queues a review for background sync. Without background sync
// it posts the review directly and any failure is returned immediately.
func (a *App) SubmitReview(ctx context.Context, review types.Review) (Submission, error) {
	if err := review.Validate(); err != nil {
		return Submission{}, err
	}
	localID, err := a.Queue.EnqueueReview(ctx, review)
	if err == nil {
		a.requestPermission(ctx)
		return Submission{Queued: true, LocalID: localID}, nil
	}
	if !errors.Is(err, queue.ErrSyncUnavailable) {
		return Submission{}, err
	}

	a.logf("background sync unavailable, posting review directly")
	if review.CreatedAt == 0 {
		review.CreatedAt = time.Now().UnixMilli()
	}
	created, err := a.Client.CreateReview(ctx, types.RequestFor(review), uuid.NewString())
	if err != nil {
		return Submission{}, fmt.Errorf("post review: %w", err)
	}
	if err := a.Cache.StoreReviews(ctx, created); err != nil {
		a.logf("cache review %d: %v", created.ID, err)
	}
	return Submission{Review: &created}, nil
}

// ToggleFavorite queues the desired favorite value, or sets it directly when
// background sync is unavailable.
func (a *App) ToggleFavorite(ctx context.Context, restaurantID int64, desired bool) (Submission, error) {
	err := a.Queue.EnqueueFavoriteToggle(ctx, restaurantID, desired)
	if err == nil {
		a.requestPermission(ctx)
		return Submission{Queued: true, LocalID: types.FavoriteLocalID(restaurantID)}, nil
	}
	if !errors.Is(err, queue.ErrSyncUnavailable) {
		return Submission{}, err
	}

	a.logf("background sync unavailable, updating favorite directly")
	updated, err := a.Client.SetFavorite(ctx, restaurantID, desired)
	if err != nil {
		return Submission{}, fmt.Errorf("update favorite: %w", err)
	}
	if err := a.Cache.StoreRestaurants(ctx, updated); err != nil {
		a.logf("cache restaurant %d: %v", updated.ID, err)
	}
	return Submission{Restaurant: &updated}, nil
}

// NewDaemon returns the trigger daemon bound to this app's store and engine.
// Every call returns the same daemon so manual syncs and background runs
// never fire triggers at the same time.
func (a *App) NewDaemon() (*daemon.Daemon, error) {
	if a.Store == nil {
		return nil, db.ErrStorageUnavailable
	}
	a.backgroundMu.Lock()
	defer a.backgroundMu.Unlock()
	if a.background == nil {
		a.background = daemon.New(a.Store, a.Engine, a.Client, daemon.Config{
			RetryInterval: time.Duration(a.Config.RetryInterval),
			MaxAttempts:   a.Config.MaxSyncAttempts,
			Debug:         a.debug,
		})
	}
	return a.background, nil
}

// SyncNow fires every registered trigger once, as the daemon would. When a
// daemon in another process owns the store, nothing is fired and the report
// names that daemon instead.
func (a *App) SyncNow(ctx context.Context) (daemon.Report, error) {
	d, err := a.NewDaemon()
	if err != nil {
		return daemon.Report{}, err
	}
	holder, err := daemon.ReadLock(a.Store.Path())
	if err != nil {
		return daemon.Report{}, fmt.Errorf("read daemon lock: %w", err)
	}
	if holder != nil && holder.PID != os.Getpid() {
		a.logf("daemon %d owns background sync, not firing triggers", holder.PID)
		return daemon.Report{DeferredTo: holder.PID}, nil
	}
	return d.RunOnce(ctx)
}

func (a *App) requestPermission(ctx context.Context) {
	if a.Notifier == nil || a.Notifier.Permission() != host.PermissionDefault {
		return
	}
	if _, err := a.Notifier.RequestPermission(ctx); err != nil {
		a.logf("request notification permission: %v", err)
	}
}

func (a *App) logf(format string, args ...any) {
	if a.logger == nil {
		return
	}
	a.logger.Printf(format, args...)
}
