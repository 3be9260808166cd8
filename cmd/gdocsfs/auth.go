package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pranavmk98/gDocsFS/gdrive"
)

func newAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Run the interactive OAuth authorization flow",
		Long: `Authorizes gdocsfs against a Google Cloud OAuth client and stores the
resulting token for mount to use. Create a desktop-type OAuth client in
the Google Cloud console and pass its credentials via --client-id and
--client-secret, the config file, or GDOCSFS_CLIENT_ID and
GDOCSFS_CLIENT_SECRET.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID := viper.GetString("client-id")
			clientSecret := viper.GetString("client-secret")
			if clientID == "" || clientSecret == "" {
				return errors.New("client-id and client-secret are required")
			}

			auth := gdrive.NewAuthenticator(clientID, clientSecret, viper.GetString("token-file"))
			if _, err := auth.Authenticate(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("Token stored at %s\n", auth.TokenPath())
			return nil
		},
	}
}
