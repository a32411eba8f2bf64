package internal

import (
	"context"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gdbrns/go-whatsapp-sender/internal/session"
	"github.com/gdbrns/go-whatsapp-sender/pkg/env"
	"github.com/gdbrns/go-whatsapp-sender/pkg/log"
)

const defaultHealthCheckSpec = "0 */5 * * * *"

// Routines schedules the periodic health check and WA Web version refresh.
func Routines(c *cron.Cron, svc *Service) {
	log.Print(nil).Info("Running Routine Tasks")

	if env.GetEnvBoolOrDefault("WHATSAPP_ENABLE_HEALTH_CHECK_CRON", true) {
		_, err := c.AddFunc(defaultHealthCheckSpec, func() {
			healthCheck(svc)
		})
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add health check cron job")
		}
	} else {
		log.Print(nil).Info("Health check cron disabled; relying on session events")
	}

	if env.GetEnvBoolOrDefault("WHATSAPP_ENABLE_WAVERSION_REFRESH_CRON", false) {
		spec := env.GetEnvStringOrDefault("WHATSAPP_WAVERSION_REFRESH_CRON_SPEC", "0 0 3 * * *")
		force := env.GetEnvBoolOrDefault("WHATSAPP_WAVERSION_REFRESH_CRON_FORCE", false)
		_, err := c.AddFunc(spec, func() {
			refreshVersion(svc, force)
		})
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add WA Web version refresh cron job")
		} else {
			log.Print(nil).WithField("spec", spec).WithField("force", force).Info("WA Web version refresh cron enabled")
		}
	}

	c.Start()
}

func healthCheck(svc *Service) {
	status := svc.Controller.Status()
	entry := log.Session(status.StateName).
		WithField("since", status.Since.Format(time.RFC3339)).
		WithField("reconnect_attempt", status.Attempt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Provider.Ping(ctx); err != nil {
		entry.WithError(err).Error("Datastore unhealthy")
		return
	}

	switch status.State {
	case session.StateOpen:
		entry.Info("Session healthy")
	case session.StateConnecting:
		entry.WithField("qr_available", svc.QR.Available()).Info("Session waiting for pairing or connection")
	default:
		entry.WithField("last_error", status.LastError).Warn("Session unhealthy")
	}
}

func refreshVersion(svc *Service, force bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status, refreshed, err := svc.Versions.Refresh(ctx, force)
	v := status.CurrentVersion
	versionStr := strconv.FormatUint(uint64(v[0]), 10) + "." + strconv.FormatUint(uint64(v[1]), 10) + "." + strconv.FormatUint(uint64(v[2]), 10)
	if err != nil {
		log.Print(nil).WithField("version", versionStr).WithField("force", force).Error("WA Web version refresh failed: " + err.Error())
		return
	}
	log.Print(nil).WithField("version", versionStr).WithField("refreshed", refreshed).WithField("force", force).Info("WA Web version refresh completed")
}
