package api

import (
	"time"

	"vision/cmd/internal/auth/session"
	"vision/cmd/internal/scores"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// accessInfoResponse is the token material returned by register and login.
// The expiry is formatted with session.TimeLayout; clients parse it with the
// same fixed layout.
type accessInfoResponse struct {
	AccessToken       string `json:"access_token"`
	AccessTokenExpiry string `json:"access_token_expiry"`
	RefreshToken      string `json:"refresh_token"`
	Username          string `json:"username"`
}

func toAccessInfo(g session.Grant) accessInfoResponse {
	var expiry string
	if !g.AccessExpiry.IsZero() {
		expiry = g.AccessExpiry.UTC().Format(session.TimeLayout)
	}
	return accessInfoResponse{
		AccessToken:       g.AccessToken,
		AccessTokenExpiry: expiry,
		RefreshToken:      g.RefreshToken,
		Username:          g.Username,
	}
}

type entryUpdateRequest struct {
	Update string `json:"update"`
	Score  int    `json:"score"`
}

type settingUpdateRequest struct {
	Setting string `json:"setting"`
	Value   string `json:"value"`
}

type entriesResponse struct {
	Data []scores.Entry `json:"data"`
}

type entryResponse struct {
	Data scores.Entry `json:"data"`
}

type settingResource struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes settingAttributes `json:"attributes"`
}

type settingAttributes struct {
	Setting string `json:"setting"`
	Value   string `json:"value"`
}

type settingsResponse struct {
	Data []settingResource `json:"data"`
}

func toSettingsResponse(theme string) settingsResponse {
	return settingsResponse{Data: []settingResource{{
		ID:   "1",
		Type: "settings",
		Attributes: settingAttributes{
			Setting: "theme",
			Value:   theme,
		},
	}}}
}

// nowFunc lets tests pin the clock.
type nowFunc func() time.Time
