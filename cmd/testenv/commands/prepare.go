package commands

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mongowebapi/mongo-web-api/pkg/dbsandbox"
)

func newPrepareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Start and stop the database engine once, so later runs start quickly",
		Long: "Start and stop the database engine once. For the container engine this pulls\n" +
			"the image; for mongod it checks the binary can start.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := dbsandbox.NewFromConfig(cfg.Database, log, nil)
			if err != nil {
				return errors.Wrap(err, "Failed to create database sandbox")
			}
			url, err := db.Start(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "Failed to start database")
			}
			cmd.Printf("Database %s started at %s\n", cfg.Database.Engine, url)
			if err := db.Stop(cmd.Context()); err != nil {
				return errors.Wrap(err, "Failed to stop database")
			}
			cmd.Println("Database engine is ready")
			return nil
		},
	}
}
