package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	errInitDataMissing   = errors.New("init data missing")
	errInitDataHash      = errors.New("init data hash missing")
	errInitDataSignature = errors.New("init data signature mismatch")
	errInitDataAuthDate  = errors.New("init data auth_date invalid")
	errInitDataExpired   = errors.New("init data expired")
	errInitDataUser      = errors.New("init data user invalid")
	errBotTokenMissing   = errors.New("telegram bot token not configured")
)

type TelegramUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
	IsPremium    bool   `json:"is_premium,omitempty"`
}

type InitData struct {
	User       TelegramUser
	AuthDate   time.Time
	QueryID    string
	StartParam string
}

// initDataCheckString joins every field except hash as sorted key=value lines.
func initDataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if key == "hash" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+"="+values.Get(key))
	}
	return strings.Join(lines, "\n")
}

func initDataSignature(checkString, botToken string) string {
	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyInitData(raw, botToken string, maxAge time.Duration, now time.Time) (*InitData, error) {
	if botToken == "" {
		return nil, errBotTokenMissing
	}
	if strings.TrimSpace(raw) == "" {
		return nil, errInitDataMissing
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, errInitDataMissing
	}
	hash := strings.ToLower(values.Get("hash"))
	if hash == "" {
		return nil, errInitDataHash
	}

	expected := initDataSignature(initDataCheckString(values), botToken)
	if !hmac.Equal([]byte(expected), []byte(hash)) {
		return nil, errInitDataSignature
	}

	authUnix, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil || authUnix <= 0 {
		return nil, errInitDataAuthDate
	}
	authDate := time.Unix(authUnix, 0).UTC()
	if maxAge > 0 && now.Sub(authDate) > maxAge {
		return nil, errInitDataExpired
	}

	var user TelegramUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return nil, errInitDataUser
	}

	return &InitData{
		User:       user,
		AuthDate:   authDate,
		QueryID:    values.Get("query_id"),
		StartParam: values.Get("start_param"),
	}, nil
}

func initDataFromRequest(r *http.Request) string {
	if raw := strings.TrimSpace(r.Header.Get("X-Telegram-Init-Data")); raw != "" {
		return raw
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 4 && strings.EqualFold(header[:4], "tma ") {
		return strings.TrimSpace(header[4:])
	}
	return ""
}
