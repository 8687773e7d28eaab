/*
Package handler provides HTTP handler functions for issuing relay channel tokens.
*/
package handler

import (
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"chatsync/internal/app/backend"
	"chatsync/internal/app/relay"
	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
	"chatsync/internal/pkg/randx"
	"chatsync/internal/pkg/req"
	"chatsync/internal/pkg/resp"
)

const maxNicknameRunes = 80

var colorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// HandleChannelToken issues a short-lived token admitting one presence key to one topic.
//
// A "user:<id>" key requires the caller's identity token for that account. Any
// other key must be a room identity ID.
func HandleChannelToken(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		var input relay.ChannelTokenRequest
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if !relay.ValidTopic(input.Topic) {
			resp.RespondError(w, r, errs.NewError(errs.ErrTopicInvalid))
			return
		}

		nickname := strings.TrimSpace(input.Nickname)
		if nickname == "" || utf8.RuneCountInString(nickname) > maxNicknameRunes {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if input.Color != "" && !colorRegex.MatchString(input.Color) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		userType := jwt.UserTypeAnonymous
		if userID, ok := strings.CutPrefix(input.Key, backend.UserMemberPrefix); ok {
			if identity == nil || identity.UserType != jwt.UserTypeRegistered || identity.ID != userID {
				logx.Warn("Channel token rejected: account key without matching identity", "topic", input.Topic)
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}
			userType = jwt.UserTypeRegistered
		} else if !randx.IsValidID(input.Key) {
			logx.Warn("Channel token rejected: malformed identity key", "topic", input.Topic)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		payload := &jwt.Payload{
			ID:       input.Key,
			Topic:    input.Topic,
			UserType: userType,
			Nickname: nickname,
			Color:    input.Color,
		}

		tokenString, err := jwt.GenerateToken(payload, deps.Config.JWTSecret, jwt.ChannelAccessExpiration)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		resp.RespondSuccess(w, r, relay.ChannelTokenResponse{
			Token:     tokenString,
			ExpiresAt: time.Unix(payload.ExpiresAt, 0).UTC(),
		})
	}
}
