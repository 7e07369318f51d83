package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reponaut/edugain/internal/config"
	"github.com/reponaut/edugain/internal/db"
	"github.com/reponaut/edugain/internal/models"
	"github.com/reponaut/edugain/internal/repository"
)

var (
	manageEnable  bool
	manageDisable bool
	manageHide    bool
	manageShow    bool
)

var manageCmd = &cobra.Command{
	Use:   "manage <entity-id>...",
	Short: "Enable, disable, hide, or show registered IdPs",
	Long: `Flips login and discovery flags on registered IdPs. Enabled IdPs
can be used for login; discoverable IdPs additionally appear in the
discovery feed. Conflicting or missing flags exit with 2, unknown entity
ids with 1.`,
	RunE: runManage,
}

func init() {
	manageCmd.Flags().BoolVar(&manageEnable, "enable", false, "allow login through the given IdPs")
	manageCmd.Flags().BoolVar(&manageDisable, "disable", false, "forbid login through the given IdPs")
	manageCmd.Flags().BoolVar(&manageHide, "hide", false, "remove the given IdPs from the discovery feed")
	manageCmd.Flags().BoolVar(&manageShow, "show", false, "list the given IdPs in the discovery feed")
	rootCmd.AddCommand(manageCmd)
}

func runManage(cmd *cobra.Command, args []string) error {
	if manageEnable && manageDisable {
		return &ExitError{Code: 2, Message: "--enable and --disable are mutually exclusive"}
	}
	if manageHide && manageShow {
		return &ExitError{Code: 2, Message: "--hide and --show are mutually exclusive"}
	}
	if !manageEnable && !manageDisable && !manageHide && !manageShow {
		return &ExitError{Code: 2, Message: "nothing to do: pass --enable/--disable and/or --hide/--show"}
	}
	if len(args) == 0 {
		return &ExitError{Code: 2, Message: "no entity ids given"}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := repository.NewIdPRepository(database)
	ctx := cmd.Context()

	var records []*models.IdPRecord
	var unknown []string
	for _, id := range args {
		rec, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			unknown = append(unknown, id)
			continue
		}
		records = append(records, rec)
	}
	if len(unknown) > 0 {
		return &ExitError{Code: 1, Message: "unknown entity ids: " + strings.Join(unknown, ", ")}
	}

	for _, rec := range records {
		if manageEnable {
			rec.Enabled = true
		}
		if manageDisable {
			rec.Enabled = false
		}
		if manageHide {
			rec.Discoverable = false
		}
		if manageShow {
			rec.Discoverable = true
		}
	}
	if err := repo.UpdateFlagsBatch(ctx, records); err != nil {
		return err
	}

	for _, rec := range records {
		fmt.Printf("%s%s %s\n", marker(rec.Enabled, "E"), marker(rec.Discoverable, "D"), rec.ID)
	}
	return nil
}
