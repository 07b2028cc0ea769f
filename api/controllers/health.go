package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/credeo/lendmarket-backend/api/responses"
	"github.com/credeo/lendmarket-backend/pkg/config"
	"github.com/credeo/lendmarket-backend/pkg/db"
	pkgerrors "github.com/credeo/lendmarket-backend/pkg/errors"
	"github.com/credeo/lendmarket-backend/pkg/logger"
	"github.com/credeo/lendmarket-backend/pkg/redis"
)

const readinessTimeout = 2 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-LendMarket-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-LendMarket-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		if dbP != nil {
			checks["postgres"] = "ok"
			if err := dbP.Ping(ctx); err != nil {
				checks["postgres"] = "unreachable"
				healthy = false
				logg.Error(ctx, "readiness check failed for postgres", err)
			}
		}
		if redisP != nil {
			checks["redis"] = "ok"
			if err := redisP.Ping(ctx); err != nil {
				checks["redis"] = "unreachable"
				healthy = false
				logg.Error(ctx, "readiness check failed for redis", err)
			}
		}

		if !healthy {
			err := pkgerrors.New(pkgerrors.CodeDependency, "dependency unreachable").WithDetails(checks)
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
