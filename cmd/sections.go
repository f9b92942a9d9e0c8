package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sectionsCmd = &cobra.Command{
	Use:   "sections <resume>",
	Short: "Print the résumé split into labeled sections as JSON",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		log := newSessionLogger()

		config, err := getConfig()
		if err != nil {
			log.Fatal("getting a config", zap.Error(err))
		}

		sections, err := loadSections(args[0], config, log)
		if err != nil {
			log.Fatal("segmenting the résumé", zap.Error(err))
		}

		pretty, err := json.MarshalIndent(sections, "", "  ")
		if err != nil {
			log.Fatal("encoding sections", zap.Error(err))
		}
		fmt.Println(string(pretty))
	},
}

func init() {
	rootCmd.AddCommand(sectionsCmd)
}
