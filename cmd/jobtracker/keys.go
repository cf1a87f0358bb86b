package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/internal/api/handler"
	mw "github.com/kiranshivaraju/jobtracker/internal/api/middleware"
	"github.com/kiranshivaraju/jobtracker/internal/config"
	"github.com/kiranshivaraju/jobtracker/internal/store"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
	"github.com/spf13/cobra"
)

var (
	keyName   string
	keyScopes []string
)

// createKeyCmd bootstraps a key for the default agency, typically the first
// admin key, which can then manage the rest over the API.
var createKeyCmd = &cobra.Command{
	Use:   "create-key",
	Short: "Create an API key for the default agency and print it once",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := models.ValidateScopes(keyScopes); err != nil {
			return err
		}

		cfg, err := config.LoadDatabase()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx := cmd.Context()
		pool, err := store.Connect(ctx, *cfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		st := store.NewPostgresStore(pool)

		agency, err := st.GetDefaultAgency(ctx)
		if err != nil {
			return fmt.Errorf("load default agency: %w", err)
		}

		raw, hash, err := handler.GenerateKey()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		key := &models.APIKey{
			ID:        uuid.New(),
			AgencyID:  agency.ID,
			Name:      keyName,
			KeyHash:   hash,
			KeyPrefix: raw[:mw.KeyPrefixLen],
			Scopes:    models.ParsePermissions(keyScopes).Scopes(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.CreateAPIKey(ctx, key); err != nil {
			return fmt.Errorf("create api key: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), raw)
		return nil
	},
}

func init() {
	createKeyCmd.Flags().StringVar(&keyName, "name", "bootstrap", "Key name")
	createKeyCmd.Flags().StringSliceVar(&keyScopes, "scopes", []string{string(models.CapabilityAdmin)}, "Comma-separated scopes")
}
