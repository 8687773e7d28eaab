package handler

import (
	"chatsync/internal/app/relay"
	"chatsync/internal/configs"
)

type AppDeps struct {
	Manager *relay.Manager
	Config  *configs.RelayConfig
}
