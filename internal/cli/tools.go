package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/toolbridge/internal/config"
	"github.com/harun/toolbridge/pkg/catalog"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the loaded tool catalog",
	Long:  `Load the tool catalog and print it in the schema returned by list_tools.`,
	RunE:  runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	tools, err := catalog.LoadToolsFile(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load tool catalog: %w", err)
	}

	schema := make([]map[string]interface{}, 0, len(tools))
	for i := range tools {
		schema = append(schema, map[string]interface{}{
			"name":        tools[i].Name,
			"description": tools[i].Description,
			"parameters":  tools[i].ParametersSchema(),
		})
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(schema)
}
