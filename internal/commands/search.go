package commands

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/reponaut/edugain/internal/config"
	"github.com/reponaut/edugain/internal/db"
	"github.com/reponaut/edugain/internal/models"
	"github.com/reponaut/edugain/internal/repository"
	"github.com/reponaut/edugain/pkg/debug"
)

var searchCmd = &cobra.Command{
	Use:   "search <regex>",
	Short: "Search the IdP registry",
	Long: `Matches a regular expression against entity ids, display names,
organization names, and keywords. Each hit is printed with its state
markers: E for enabled, D for discoverable.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	re, err := regexp.Compile("(?i)" + args[0])
	if err != nil {
		return &ExitError{Code: 2, Message: fmt.Sprintf("invalid regular expression: %v", err)}
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

	records, err := repository.NewIdPRepository(database).GetAll(cmd.Context())
	if err != nil {
		return err
	}

	for _, rec := range records {
		if !recordMatches(re, rec) {
			continue
		}
		fmt.Printf("%s%s %s\t%s\n", marker(rec.Enabled, "E"), marker(rec.Discoverable, "D"), rec.ID, rec.DisplayName)
	}
	return nil
}

func recordMatches(re *regexp.Regexp, rec *models.IdPRecord) bool {
	if re.MatchString(rec.ID) || re.MatchString(rec.DisplayName) {
		return true
	}

	var settings models.IdPSettings
	if err := json.Unmarshal(rec.Settings, &settings); err != nil {
		debug.Warning("Skipping settings of %s: %v", rec.ID, err)
		return false
	}
	for _, group := range [][]models.LocalizedValue{settings.DisplayNames, settings.OrganizationNames, settings.Keywords} {
		for _, v := range group {
			if re.MatchString(v.Value) {
				return true
			}
		}
	}
	return false
}

func marker(on bool, symbol string) string {
	if on {
		return symbol
	}
	return "-"
}
