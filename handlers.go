package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			writeInternalError(w, err, "health ping failed")
			return
		}
		writeOK(w, nil)
	}
}

// requireTelegramInitData verifies the caller's initData and writes 401 on failure.
func requireTelegramInitData(cfg *Config, w http.ResponseWriter, r *http.Request) (*InitData, bool) {
	raw := initDataFromRequest(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "Missing Telegram init data")
		return nil, false
	}
	data, err := verifyInitData(raw, cfg.TelegramBotToken, cfg.InitDataMaxAge, time.Now().UTC())
	if errors.Is(err, errBotTokenMissing) {
		writeInternalError(w, err, "telegram auth misconfigured")
		return nil, false
	}
	if err != nil {
		log.Debug().Err(err).Msg("init data rejected")
		writeError(w, http.StatusUnauthorized, "Invalid Telegram init data")
		return nil, false
	}
	return data, true
}

// requireMiniAppUser resolves the registered user behind a valid initData.
func requireMiniAppUser(db *sql.DB, cfg *Config, w http.ResponseWriter, r *http.Request) (*User, bool) {
	data, ok := requireTelegramInitData(cfg, w, r)
	if !ok {
		return nil, false
	}
	user, err := loadUserByTelegramID(r.Context(), db, data.User.ID)
	if err != nil {
		writeInternalError(w, err, "user lookup failed")
		return nil, false
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not registered")
		return nil, false
	}
	return user, true
}

func miniAppAuthHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()
		allowed, retryAfter, err := checkAuthRateLimit(r.Context(), db, clientIP(r.RemoteAddr), miniAppAuthAction, miniAppAuthLimit, miniAppAuthRateWindow, now)
		if err != nil {
			writeInternalError(w, err, "auth rate limit check failed")
			return
		}
		if !allowed {
			writeJSON(w, http.StatusBadRequest, payload{
				"ok":                false,
				"error":             "Too many attempts",
				"retryAfterSeconds": retryAfter,
			})
			return
		}

		data, ok := requireTelegramInitData(cfg, w, r)
		if !ok {
			return
		}
		user, err := upsertTelegramUser(r.Context(), db, cfg.DBRetryAttempts, data.User)
		if err != nil {
			writeInternalError(w, err, "user upsert failed")
			return
		}
		log.Info().Str("userId", user.ID).Int64("telegramId", user.TelegramID).Msg("mini app auth")
		writeOK(w, payload{"user": user, "startParam": data.StartParam})
	}
}

func miniAppMeHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireMiniAppUser(db, cfg, w, r)
		if !ok {
			return
		}
		rank, err := userAllTimeRank(r.Context(), db, user)
		if err != nil {
			writeInternalError(w, err, "rank lookup failed")
			return
		}
		var nextCheckin int64
		if _, wait, err := canClaim(r.Context(), db, user.ID, claimDailyCheckin, checkinCooldown, time.Now().UTC()); err == nil {
			nextCheckin = int64(wait.Seconds())
		}
		writeOK(w, payload{
			"user":                 user,
			"rank":                 rank,
			"nextCheckinInSeconds": nextCheckin,
			"dailyPointsCap":       GetGlobalSettings().DailyPointsCap,
		})
	}
}

func miniAppCheckinHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireMiniAppUser(db, cfg, w, r)
		if !ok {
			return
		}
		result, err := performCheckin(r.Context(), db, user.ID, time.Now().UTC())
		if errors.Is(err, errCheckinCooldown) {
			writeJSON(w, http.StatusBadRequest, payload{
				"ok":                     false,
				"error":                  "Check-in not available yet",
				"nextAvailableInSeconds": int64(result.NextAllowed.Seconds()),
			})
			return
		}
		if err != nil {
			writeInternalError(w, err, "check-in failed")
			return
		}
		writeOK(w, payload{
			"granted":                result.Granted,
			"points":                 result.Points,
			"capped":                 result.Capped,
			"nextAvailableInSeconds": int64(result.NextAllowed.Seconds()),
		})
	}
}

func miniAppNotificationsHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireMiniAppUser(db, cfg, w, r)
		if !ok {
			return
		}
		limit := parsePositiveInt(r.URL.Query().Get("limit"), 50)
		items, err := fetchNotifications(r.Context(), db, user.ID, limit)
		if err != nil {
			writeInternalError(w, err, "notification fetch failed")
			return
		}
		unread := 0
		for _, item := range items {
			if !item.IsRead {
				unread++
			}
		}
		writeOK(w, payload{"notifications": items, "unread": unread})
	}
}

func miniAppNotificationsReadHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireMiniAppUser(db, cfg, w, r)
		if !ok {
			return
		}
		var req struct {
			IDs []int64 `json:"ids"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}
		if len(req.IDs) == 0 || len(req.IDs) > 200 {
			writeError(w, http.StatusBadRequest, "ids must contain between 1 and 200 entries")
			return
		}
		updated, err := markNotificationsRead(r.Context(), db, user.ID, req.IDs)
		if err != nil {
			writeInternalError(w, err, "notification mark read failed")
			return
		}
		writeOK(w, payload{"updated": updated})
	}
}
