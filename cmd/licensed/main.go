package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/bulc-app/license-server/internal/clock"
	"github.com/bulc-app/license-server/internal/config"
	"github.com/bulc-app/license-server/internal/migration"
	"github.com/bulc-app/license-server/internal/server"
	"github.com/bulc-app/license-server/internal/sweeper"
	"github.com/bulc-app/license-server/pkg/db"
	"github.com/bulc-app/license-server/pkg/log"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(NewSnowflakeNode),
		clock.Module,
		db.Module,
		migration.Module,
		server.Module,
		sweeper.Module,
	)
	app.Run()
}

// NewSnowflakeNode builds the ID generator. NODE_ID distinguishes instances
// in a multi-node deployment.
func NewSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			nodeID = parsed % 1024
		}
	}
	return snowflake.NewNode(nodeID)
}
