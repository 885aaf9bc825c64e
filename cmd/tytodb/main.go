// Command tytodb starts the storage engine's directory manager and its
// admin introspection surface, and drives the per-container vacuum
// schedules named in settings.yaml. The query wire protocol is out of
// scope for this binary (spec §1): it only hosts the embeddable engine
// and its operational tooling.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FeatheredSystems/TytoDB/admin"
	"github.com/FeatheredSystems/TytoDB/database"
	"github.com/FeatheredSystems/TytoDB/logger"
)

func main() {
	dataDir := flag.String("data", "./data", "directory holding settings.yaml, containers.yaml, and container files")
	adminAddr := flag.String("admin-addr", "127.0.0.1:4288", "address the admin introspection HTTP surface listens on")
	logLevel := flag.String("log-level", "info", "trace|debug|info|warn|error")
	flag.Parse()

	logger.SetLevel(parseLogLevel(*logLevel))

	db, err := database.Open(*dataDir)
	if err != nil {
		logger.Error("failed to open database at %q: %v", *dataDir, err)
		os.Exit(1)
	}
	logger.Info("database opened at %q with %d containers", *dataDir, len(db.ContainerNames()))

	ctx, cancel := context.WithCancel(context.Background())
	runVacuumSchedules(ctx, db)

	adminServer := admin.NewServer(db)
	httpServer := &http.Server{
		Addr:     *adminAddr,
		Handler:  adminServer.Router(),
		ErrorLog: logger.SetHTTPServerErrorLog("admin surface"),
	}
	go func() {
		logger.Info("admin surface listening on %s", *adminAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin surface stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin surface shutdown: %v", err)
	}
	if err := db.Close(); err != nil {
		logger.Error("closing database: %v", err)
		os.Exit(1)
	}
}

func parseLogLevel(s string) logger.Level {
	switch s {
	case "trace":
		return logger.TRACE
	case "debug":
		return logger.DEBUG
	case "warn":
		return logger.WARN
	case "error":
		return logger.ERROR
	default:
		return logger.INFO
	}
}

// runVacuumSchedules starts one goroutine per settings.yaml vacuum entry,
// re-parsing and re-scheduling after each run so `Random N:M` entries
// re-roll their wait every cycle (spec §6's schedule grammar).
func runVacuumSchedules(ctx context.Context, db *database.Database) {
	for _, spec := range db.Settings().Vacuum {
		spec := spec
		go vacuumLoop(ctx, db, spec)
	}
}

func vacuumLoop(ctx context.Context, db *database.Database, spec database.VacuumSpec) {
	for {
		sched, err := database.ParseSchedule(spec.Schedule, time.Now())
		if err != nil {
			logger.Error("vacuum schedule for %q is invalid (%q): %v", spec.Container, spec.Schedule, err)
			return
		}
		wait := nextWait(sched)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if err := runVacuum(db, spec.Container); err != nil {
			logger.Error("vacuum of %q failed: %v", spec.Container, err)
		}
		if sched.Kind == database.ScheduleOnce {
			return
		}
	}
}

func nextWait(sched database.Schedule) time.Duration {
	if sched.Kind == database.ScheduleRandom {
		span := sched.RandomMax - sched.RandomMin
		if span <= 0 {
			return time.Duration(sched.RandomMin) * time.Second
		}
		return time.Duration(sched.RandomMin+randomOffset(span)) * time.Second
	}
	return sched.Wait
}

func randomOffset(span int64) int64 {
	return time.Now().UnixNano() % span
}

func runVacuum(db *database.Database, container string) error {
	c, err := db.Container(container)
	if err != nil {
		return err
	}
	relocated, err := c.Vacuum()
	if err != nil {
		return err
	}
	logger.Info("vacuum of %q relocated %d rows", container, relocated)
	return nil
}
