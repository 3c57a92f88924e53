package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/donation-gateway/internal/auth"
)

const tokenIssuer = "donation-gateway"

var operatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Operator API access",
}

var operatorTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the operator API",
	RunE:  runOperatorToken,
}

var (
	operatorSubject string
	operatorTTL     time.Duration
)

func runOperatorToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	tokens := auth.NewJWTTokenGenerator(cfg.Security.OperatorJWTSecret, tokenIssuer, operatorTTL)
	token, err := tokens.GenerateToken(operatorSubject, auth.RoleOperator)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func init() {
	operatorTokenCmd.Flags().StringVar(&operatorSubject, "subject", "", "operator identity recorded in logs")
	operatorTokenCmd.Flags().DurationVar(&operatorTTL, "ttl", 8*time.Hour, "token lifetime")
	_ = operatorTokenCmd.MarkFlagRequired("subject")

	operatorCmd.AddCommand(operatorTokenCmd)
	rootCmd.AddCommand(operatorCmd)
}
