/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, validating
the channel token against the requested topic, upgrading the HTTP connection to WebSocket, and
attaching the connection to its relay topic.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"chatsync/internal/app/relay"
	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/limiter"
	"chatsync/internal/pkg/logx"
	"chatsync/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)
		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		topic := chi.URLParam(r, "topic")
		if !relay.ValidTopic(topic) {
			logx.Warn("WebSocket request rejected: Invalid topic", "topic", topic)
			resp.RespondError(w, r, errs.NewError(errs.ErrTopicInvalid))
			return
		}

		tokenString := r.URL.Query().Get("token")
		if tokenString == "" {
			tokenString = jwt.BearerToken(r)
		}

		claims, err := jwt.ParseToken(tokenString, deps.Config.JWTSecret)
		if err != nil || claims.Topic != topic {
			logx.Warn("WebSocket request rejected: Channel token invalid for topic", "topic", topic)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := relay.NewClient(conn, claims)

		go client.WritePump()

		if err := deps.Manager.Attach(client); err != nil {
			logx.Warn("WebSocket client could not join topic", "topic", topic, "error", err.Error())
			client.SendError(err)
			client.Kick("relay unavailable")
			return
		}

		logx.Info("WebSocket connection established and client registered", "member_key", claims.ID, "topic", topic)

		client.ReadPump()
	}
}
