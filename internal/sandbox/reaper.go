package sandbox

import (
	"context"
	"log/slog"
	"time"
)

// SessionChecker reports whether a session still has a live controller
// attached. The reaper uses it to tell active desks from orphans.
type SessionChecker interface {
	IsLive(sessionID string) bool
}

// StartReaper launches a background goroutine that periodically sweeps
// managed desk containers and removes any whose session has ended or
// whose age exceeds maxAge. Sessions normally tear their instance down
// on disconnect; the sweep covers instances orphaned by a server crash,
// since the in-memory registry starts empty on restart.
//
// A maxAge of 0 disables the age limit. The reaper stops when ctx is
// canceled.
func StartReaper(ctx context.Context, mgr Manager, sessions SessionChecker, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		slog.Info("Instance reaper started", "interval", interval, "max_age", maxAge)

		for {
			select {
			case <-ticker.C:
				reapOrphans(ctx, mgr, sessions, maxAge)
			case <-ctx.Done():
				slog.Info("Instance reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func reapOrphans(ctx context.Context, mgr Manager, sessions SessionChecker, maxAge time.Duration) {
	instances, err := mgr.ListInstances(ctx)
	if err != nil {
		slog.Error("Reaper failed to list instances", "error", err)
		return
	}

	for _, info := range instances {
		live := info.SessionID != "" && sessions.IsLive(info.SessionID)
		expired := maxAge > 0 && time.Since(info.CreatedAt) > maxAge
		if live && !expired {
			continue
		}

		slog.Info("Reaping instance",
			"container_id", info.ContainerID,
			"session_id", info.SessionID,
			"live", live,
			"expired", expired,
		)
		if err := mgr.StopInstance(ctx, info.ContainerID); err != nil {
			slog.Error("Reaper failed to stop instance",
				"container_id", info.ContainerID,
				"session_id", info.SessionID,
				"error", err,
			)
		}
	}
}
