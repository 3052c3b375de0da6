// cmd_list.go - List Command
// Hauptfunktionen: ListHandler
package cmd

import (
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/airunner/airunner/envconfig"
	"github.com/airunner/airunner/settings"
)

// ListHandler - Listet alle konfigurierten Modelle auf
func ListHandler(cmd *cobra.Command, args []string) error {
	store, err := settings.Open(envconfig.Settings())
	if err != nil {
		return err
	}
	defer store.Close()

	models, err := store.ListModels()
	if err != nil {
		return err
	}

	var data [][]string

	for _, m := range models {
		if len(args) > 0 && !strings.HasPrefix(strings.ToLower(m.Name), strings.ToLower(args[0])) {
			continue
		}

		enabled := "no"
		if m.Enabled {
			enabled = "yes"
		}
		isDefault := ""
		if m.IsDefault {
			isDefault = "*"
		}

		data = append(data, []string{m.Name, m.Version, m.PipelineAction, enabled, isDefault})
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"NAME", "VERSION", "PIPELINE", "ENABLED", "DEFAULT"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	return nil
}
