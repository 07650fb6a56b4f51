package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/practice/internal/domain/customfield"
	"github.com/ehr/practice/internal/formula"
	"github.com/ehr/practice/internal/platform/db"
	"github.com/ehr/practice/migrations"
)

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			catalogPath, _ := cmd.Flags().GetString("catalog")

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			applied, err := db.CreateTenantSchema(ctx, pool, name, migrations.FS)
			if err != nil {
				return err
			}
			fmt.Printf("Applied %d migration(s).\n", applied)

			if catalogPath == "" {
				return nil
			}
			catalog, err := customfield.LoadCatalog(catalogPath)
			if err != nil {
				return err
			}
			if issues := catalog.Check(formula.NewEngine()); len(issues) > 0 {
				for _, issue := range issues {
					fmt.Println("  " + issue.String())
				}
				return fmt.Errorf("catalog has %d issue(s)", len(issues))
			}

			tenantCtx, release, err := db.WithTenantConn(ctx, pool, name)
			if err != nil {
				return err
			}
			defer release()

			svc := newService(cfg, newPoolRepos(pool), zerolog.Nop())
			created, err := importCatalog(tenantCtx, svc, catalog)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d calculated field(s) from %s.\n", created, catalogPath)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	createCmd.Flags().String("catalog", "", "TOML catalog of calculated fields to import")

	cmd.AddCommand(createCmd)
	return cmd
}

// importCatalog stores every catalog field in the tenant. The catalog must
// already pass Check.
func importCatalog(ctx context.Context, svc *customfield.Service, catalog *customfield.Catalog) (int, error) {
	fields := catalog.CalculatedFields(svc.Limits().DecimalPlaces)
	for i, f := range fields {
		if err := svc.CreateCalculatedField(ctx, f); err != nil {
			return i, fmt.Errorf("import %s: %w", f.Name, err)
		}
	}
	return len(fields), nil
}
