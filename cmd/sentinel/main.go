package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wyh-tools/Course-Sentinel/internal/clock"
	"github.com/wyh-tools/Course-Sentinel/internal/config"
	"github.com/wyh-tools/Course-Sentinel/internal/engine"
	"github.com/wyh-tools/Course-Sentinel/internal/events"
	"github.com/wyh-tools/Course-Sentinel/internal/logging"
	"github.com/wyh-tools/Course-Sentinel/internal/login"
	"github.com/wyh-tools/Course-Sentinel/internal/metrics"
	"github.com/wyh-tools/Course-Sentinel/internal/notify"
	"github.com/wyh-tools/Course-Sentinel/internal/portal"
	"github.com/wyh-tools/Course-Sentinel/internal/recovery"
	"github.com/wyh-tools/Course-Sentinel/internal/store"
)

var version = "dev"

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log, logCloser := logging.NewWithFile(cfg.LogDir, cfg.LogJSON)
	defer logCloser.Close()

	fmt.Println("Course-Sentinel " + version)
	fmt.Println("=============================================")
	fmt.Printf("SENTINEL_PORTAL_BASE=%s\n", cfg.PortalBase)
	fmt.Printf("SENTINEL_CAMPUS=%s\n", cfg.Campus)
	fmt.Printf("SENTINEL_POLL_INTERVAL=%s\n", cfg.PollInterval)
	fmt.Printf("SENTINEL_DB_PATH=%s\n", cfg.DBPath)
	fmt.Printf("SENTINEL_WISHLIST_PATH=%s\n", cfg.WishlistPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	st, err := config.LoadState(cfg.StatePath)
	if err != nil {
		log.Error("failed to load state file", "path", cfg.StatePath, "error", err)
		os.Exit(1)
	}
	creds := portal.Credentials{Username: st.Username, Password: st.Password}
	if creds.Username == "" {
		creds = portal.Credentials{
			Username: os.Getenv("SENTINEL_USERNAME"),
			Password: os.Getenv("SENTINEL_PASSWORD"),
		}
	}
	if creds.Username == "" || creds.Password == "" {
		log.Error("no credentials: set them in the state file or via SENTINEL_USERNAME / SENTINEL_PASSWORD")
		os.Exit(1)
	}
	if cfg.OCRCommand == "" {
		log.Error("SENTINEL_OCR_CMD is required: the login flow cannot pass the captcha without it")
		os.Exit(1)
	}
	ocr := newExecOCR(cfg.OCRCommand)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	batchCode := resolveBatchCode(st, cfg.BatchCode, db)

	// Build notification chain.
	var notifiers []notify.Notifier
	notifiers = append(notifiers, notify.NewLogNotifier(log))
	if st.NotifyEnabled && st.ServerChanKey != "" {
		notifiers = append(notifiers, notify.NewServerChan(st.ServerChanKey))
		log.Info("serverchan notifications enabled")
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.WebhookURL, parseHeaders(cfg.WebhookHeaders)))
		log.Info("webhook notifications enabled", "url", cfg.WebhookURL)
	}
	if cfg.MQTTBroker != "" {
		notifiers = append(notifiers, notify.NewMQTT(cfg.MQTTBroker, cfg.MQTTTopic, "", "", "", 0))
		log.Info("mqtt notifications enabled", "broker", cfg.MQTTBroker)
	}
	notifier := notify.NewMulti(log, notifiers...)

	bus := events.New()
	flow := login.New(cfg.PortalBase, ocr, creds, batchCode, log)
	client := portal.NewClient(cfg.PortalBase, cfg.Campus, log)
	coord := recovery.New(flow, client, bus, log)
	client.SetRecoverer(coord)

	sess, err := flow.Authenticate(ctx)
	if err != nil {
		log.Error("login failed", "error", err)
		os.Exit(1)
	}
	client.SetSession(sess)

	wl := engine.NewWishlist()
	targets, err := config.LoadWishlist(cfg.WishlistPath)
	if err != nil {
		log.Error("failed to load wishlist", "path", cfg.WishlistPath, "error", err)
		os.Exit(1)
	}
	for _, t := range targets {
		wl.Add(portal.TeachingClassRecord{
			TeachingClassID: t.TeachingClassID,
			CourseNumber:    t.CourseNumber,
			CourseName:      t.CourseName,
			Teacher:         t.Teacher,
			Type:            portal.ParseCourseType(t.Type),
			TimePlace:       t.TimePlace,
		})
	}
	if wl.Len() == 0 {
		log.Error("wishlist is empty, nothing to monitor", "path", cfg.WishlistPath)
		os.Exit(1)
	}

	sched := engine.NewScheduler(wl, client, coord, bus, db, clock.Real{}, log, engine.Tuning{
		PollInterval:     cfg.PollInterval,
		ProbeInterval:    cfg.ProbeInterval,
		SupervisorTick:   cfg.SupervisorTick,
		RollbackDeadline: cfg.RecoverDeadline,
	})
	client.SetRequestHook(sched.CountRequest)

	go pumpEvents(ctx, bus, notifier, db, log)

	if cfg.TextfilePath != "" {
		go textfileLoop(ctx, cfg.TextfilePath, log)
	}

	cr := cron.New()
	if sweeper, ok := logCloser.(interface{ Sweep() }); ok {
		cr.AddFunc("30 0 * * *", sweeper.Sweep)
	}
	start := make(chan struct{})
	if cfg.StartSpec != "" {
		var once sync.Once
		cr.AddFunc(cfg.StartSpec, func() { once.Do(func() { close(start) }) })
		log.Info("monitor start armed", "spec", cfg.StartSpec)
	} else {
		close(start)
	}
	cr.Start()
	defer cr.Stop()

	select {
	case <-start:
	case <-ctx.Done():
		log.Info("interrupted before monitoring started")
		return
	}

	if err := config.WriteMonitorFlag(cfg.FlagPath, true); err != nil {
		log.Warn("could not write monitor flag", "error", err)
	}
	defer func() {
		if err := config.WriteMonitorFlag(cfg.FlagPath, false); err != nil {
			log.Warn("could not clear monitor flag", "error", err)
		}
	}()

	log.Info("sentinel started", "version", version, "targets", wl.Len())
	sched.Run(ctx)
	log.Info("sentinel shutdown complete")
}

// pumpEvents forwards notable bus events to the notifier chain and the
// persistent activity log. Status and heartbeat events stay internal.
func pumpEvents(ctx context.Context, bus *events.Bus, notifier *notify.Multi, db *store.Store, log *logging.Logger) {
	ch, cancel := bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Kind {
			case events.KindGrabSuccess, events.KindGrabFailed, events.KindAvailability,
				events.KindSwapDangling, events.KindNeedRelogin:
				notifier.Notify(ctx, ev)
				if err := db.AppendLog(store.LogEntry{
					Timestamp: ev.Timestamp,
					Type:      string(ev.Kind),
					Message:   ev.Message,
					Course:    ev.CourseName,
				}); err != nil {
					log.Warn("could not append activity log", "error", err)
				}
			}
		}
	}
}

// textfileLoop exports metrics for the external watchdog every 30s.
func textfileLoop(ctx context.Context, path string, log *logging.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := metrics.WriteTextfile(path); err != nil {
				log.Warn("metrics textfile write failed", "error", err)
			}
		}
	}
}

// settingsStore is the slice of the bolt store used for persisted
// runtime settings.
type settingsStore interface {
	SaveSetting(key, value string) error
	LoadSetting(key string) (string, error)
}

// resolveBatchCode picks the enrollment batch code. A state-file
// override wins and is persisted for later runs; a previously persisted
// override comes next; the configured default last.
func resolveBatchCode(st config.State, def string, db settingsStore) string {
	if st.BatchCode != "" {
		// Best effort: a failed persist never blocks startup.
		_ = db.SaveSetting("batch_code", st.BatchCode)
		return st.BatchCode
	}
	if saved, err := db.LoadSetting("batch_code"); err == nil && saved != "" {
		return saved
	}
	return def
}

// parseHeaders parses comma-separated "Key:Value" pairs into a map.
func parseHeaders(s string) map[string]string {
	if s == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(kv) == 2 {
			headers[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return headers
}
