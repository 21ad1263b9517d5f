// Package telegram reads the Mini App identity. The initData payload arrives
// from the Telegram host runtime; signature verification is the backend's
// job, but the same HMAC check is available here for deployments that want
// to reject garbage before it ever reaches a screen.
package telegram

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

	"lunch-tg-app/internal/models"
)

type initDataUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Username     string `json:"username"`
	PhotoURL     string `json:"photo_url"`
	LanguageCode string `json:"language_code"`
}

// ParseInitData turns the raw initData query string into a TgAuth. It does
// not verify the hash.
func ParseInitData(initData string) (*models.TgAuth, error) {
	params, err := url.ParseQuery(initData)
	if err != nil {
		return nil, errors.New("bad_init_data")
	}
	userJSON := params.Get("user")
	if userJSON == "" {
		return nil, errors.New("bad_init_data")
	}
	var raw initDataUser
	if err := json.Unmarshal([]byte(userJSON), &raw); err != nil {
		return nil, errors.New("bad_init_data")
	}
	firstName := raw.FirstName
	if firstName == "" {
		firstName = "Пользователь"
	}
	authDate, _ := strconv.ParseInt(params.Get("auth_date"), 10, 64)
	return &models.TgAuth{
		Source: models.AuthTelegram,
		User: models.TgUser{
			ID:           raw.ID,
			FirstName:    firstName,
			LastName:     raw.LastName,
			Username:     raw.Username,
			PhotoURL:     raw.PhotoURL,
			LanguageCode: raw.LanguageCode,
		},
		InitData: initData,
		AuthDate: authDate,
		Hash:     params.Get("hash"),
	}, nil
}

// ValidateInitData checks the Telegram WebApp signature:
// secret = HMAC-SHA256("WebAppData", bot_token), then the data-check-string
// (sorted key=value pairs without hash, newline-joined) must HMAC to the
// provided hash.
func ValidateInitData(initData, botToken string) bool {
	if botToken == "" {
		return false
	}
	params, err := url.ParseQuery(initData)
	if err != nil {
		return false
	}
	hash := params.Get("hash")
	if hash == "" {
		return false
	}

	var keys []string
	for k := range params {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var dataCheckParts []string
	for _, k := range keys {
		dataCheckParts = append(dataCheckParts, k+"="+params.Get(k))
	}
	dataCheckString := strings.Join(dataCheckParts, "\n")

	secretKey := hmac.New(sha256.New, []byte("WebAppData"))
	secretKey.Write([]byte(botToken))

	h := hmac.New(sha256.New, secretKey.Sum(nil))
	h.Write([]byte(dataCheckString))
	calculated := hex.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(calculated), []byte(hash))
}

// StartParam extracts the invite code passed via t.me/bot/app?startapp=XXX.
func StartParam(initData string) string {
	params, err := url.ParseQuery(initData)
	if err != nil {
		return ""
	}
	return params.Get("start_param")
}

// InitDataFromRequest finds the raw initData on an incoming request: header
// first, then query parameter, then the cookie set by the shell page.
func InitDataFromRequest(r *http.Request) string {
	if initData := r.Header.Get("X-Telegram-Init-Data"); initData != "" {
		return initData
	}
	if initData := r.URL.Query().Get("tg_init_data"); initData != "" {
		return initData
	}
	if cookie, err := r.Cookie("tg_init_data"); err == nil {
		if decoded, err := url.QueryUnescape(cookie.Value); err == nil {
			return decoded
		}
	}
	return ""
}

// NewLocalAuth builds the test-only identity. It carries no signature and is
// refused unless the deployment explicitly allows local auth.
func NewLocalAuth(user models.TgUser, allowed bool) (*models.TgAuth, error) {
	if !allowed {
		return nil, errors.New("local_auth_disabled")
	}
	if user.ID <= 0 || strings.TrimSpace(user.FirstName) == "" {
		return nil, errors.New("bad_test_user")
	}
	return &models.TgAuth{
		Source:   models.AuthLocal,
		User:     user,
		InitData: "local_test",
	}, nil
}
