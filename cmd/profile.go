package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var profileCmd = &cobra.Command{
	Use:   "profile <resume>",
	Short: "Build the candidate profile from the résumé and print it as JSON",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		log := newSessionLogger()

		config, err := getConfig()
		if err != nil {
			log.Fatal("getting a config", zap.Error(err))
		}

		sections, err := loadSections(args[0], config, log)
		if err != nil {
			log.Fatal("segmenting the résumé", zap.Error(err))
		}

		generator, err := newGenerator(ctx, config, log)
		if err != nil {
			log.Fatal("creating the ai generator", zap.Error(err))
		}

		p, err := buildProfile(ctx, generator, config, sections, log)
		if err != nil {
			log.Fatal("building the profile", zap.Error(err))
		}

		if save := cmd.Flag("save").Value.String(); save != "" {
			if err := p.Save(save); err != nil {
				log.Fatal("saving the profile", zap.Error(err))
			}
			log.Info("candidate profile saved", zap.String("path", save))
		}

		pretty, err := json.MarshalIndent(p.Fields(), "", "  ")
		if err != nil {
			log.Fatal("encoding the profile", zap.Error(err))
		}
		fmt.Println(string(pretty))
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)

	profileCmd.Flags().StringP("save", "s", "", "also write the profile to this file for run --profile-file")
}
